// Package schemagraph models the read-only schema relationship graph the query
// builder consumes: tables and views with their columns, and directed
// foreign-key-like relationships between them.
package schemagraph

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes base tables from views.
type Kind string

const (
	KindTable Kind = "table"
	KindView  Kind = "view"
)

// Column represents a table column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Table represents a table or view node.
type Table struct {
	ID      string   `json:"id" yaml:"id"` // schema-qualified, e.g. "sales.customers"
	Label   string   `json:"label,omitempty" yaml:"label,omitempty"`
	Kind    Kind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// HasColumn reports whether the table declares the named column.
func (t Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// Relationship is a directed edge FromTable.FromColumn -> ToTable.ToColumn.
// Path search treats it as traversable in both directions.
type Relationship struct {
	ID         string `json:"id" yaml:"id"`
	FromTable  string `json:"from_table" yaml:"from_table"`
	FromColumn string `json:"from_column" yaml:"from_column"`
	ToTable    string `json:"to_table" yaml:"to_table"`
	ToColumn   string `json:"to_column" yaml:"to_column"`
}

// Connects reports whether the relationship joins the two tables in either direction.
func (r Relationship) Connects(a, b string) bool {
	return (r.FromTable == a && r.ToTable == b) || (r.FromTable == b && r.ToTable == a)
}

// defaultRelationshipID derives a stable id for relationships declared without one.
func defaultRelationshipID(r Relationship) string {
	return fmt.Sprintf("%s.%s->%s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

var (
	// ErrUnknownTable is returned when a relationship references a table not in the graph.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a relationship references a column its table lacks.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrDuplicate is returned for repeated table or relationship ids.
	ErrDuplicate = errors.New("duplicate id")
)

// Graph is an immutable, indexed schema graph. Build it with New.
type Graph struct {
	tables        []Table
	relationships []Relationship
	tableIndex    map[string]int
	relIndex      map[string]int
	// incident lists relationship indexes touching each table, in input order.
	incident map[string][]int
}

// New validates the nodes and edges and returns an indexed graph.
// Relationship endpoints must reference columns present in their tables.
func New(tables []Table, relationships []Relationship) (*Graph, error) {
	g := &Graph{
		tables:        make([]Table, 0, len(tables)),
		relationships: make([]Relationship, 0, len(relationships)),
		tableIndex:    make(map[string]int, len(tables)),
		relIndex:      make(map[string]int, len(relationships)),
		incident:      make(map[string][]int),
	}

	var errs []error
	for _, table := range tables {
		table.ID = strings.TrimSpace(table.ID)
		if table.ID == "" {
			errs = append(errs, fmt.Errorf("table with empty id"))
			continue
		}
		if _, exists := g.tableIndex[table.ID]; exists {
			errs = append(errs, fmt.Errorf("table %s: %w", table.ID, ErrDuplicate))
			continue
		}
		if table.Kind == "" {
			table.Kind = KindTable
		}
		if table.Label == "" {
			table.Label = DefaultLabel(table.ID)
		}
		table.Columns = append([]Column(nil), table.Columns...)
		g.tableIndex[table.ID] = len(g.tables)
		g.tables = append(g.tables, table)
	}

	for _, rel := range relationships {
		if rel.ID == "" {
			rel.ID = defaultRelationshipID(rel)
		}
		if _, exists := g.relIndex[rel.ID]; exists {
			errs = append(errs, fmt.Errorf("relationship %s: %w", rel.ID, ErrDuplicate))
			continue
		}
		if err := g.checkEndpoint(rel.ID, rel.FromTable, rel.FromColumn); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.checkEndpoint(rel.ID, rel.ToTable, rel.ToColumn); err != nil {
			errs = append(errs, err)
			continue
		}
		idx := len(g.relationships)
		g.relIndex[rel.ID] = idx
		g.relationships = append(g.relationships, rel)
		g.incident[rel.FromTable] = append(g.incident[rel.FromTable], idx)
		if rel.ToTable != rel.FromTable {
			g.incident[rel.ToTable] = append(g.incident[rel.ToTable], idx)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid schema graph: %w", errors.Join(errs...))
	}
	return g, nil
}

func (g *Graph) checkEndpoint(relID, tableID, column string) error {
	idx, ok := g.tableIndex[tableID]
	if !ok {
		return fmt.Errorf("relationship %s: table %s: %w", relID, tableID, ErrUnknownTable)
	}
	if !g.tables[idx].HasColumn(column) {
		return fmt.Errorf("relationship %s: column %s.%s: %w", relID, tableID, column, ErrUnknownColumn)
	}
	return nil
}

// Empty returns a graph with no nodes.
func Empty() *Graph {
	g, _ := New(nil, nil)
	return g
}

// Table looks up a table by id.
func (g *Graph) Table(id string) (Table, bool) {
	if g == nil {
		return Table{}, false
	}
	idx, ok := g.tableIndex[id]
	if !ok {
		return Table{}, false
	}
	return g.tables[idx], true
}

// HasColumn reports whether table id declares the column.
func (g *Graph) HasColumn(tableID, column string) bool {
	table, ok := g.Table(tableID)
	return ok && table.HasColumn(column)
}

// Tables returns all tables in input order.
func (g *Graph) Tables() []Table {
	if g == nil {
		return nil
	}
	return append([]Table(nil), g.tables...)
}

// Relationships returns all relationships in input order.
func (g *Graph) Relationships() []Relationship {
	if g == nil {
		return nil
	}
	return append([]Relationship(nil), g.relationships...)
}

// Relationship looks up a relationship by id.
func (g *Graph) Relationship(id string) (Relationship, bool) {
	if g == nil {
		return Relationship{}, false
	}
	idx, ok := g.relIndex[id]
	if !ok {
		return Relationship{}, false
	}
	return g.relationships[idx], true
}

// Incident returns the relationships touching a table, in input order.
func (g *Graph) Incident(tableID string) []Relationship {
	if g == nil {
		return nil
	}
	indexes := g.incident[tableID]
	out := make([]Relationship, len(indexes))
	for i, idx := range indexes {
		out[i] = g.relationships[idx]
	}
	return out
}
