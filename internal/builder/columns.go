package builder

import (
	"fmt"
	"time"

	"querycanvas/internal/joinpath"
	"querycanvas/internal/query"
	"querycanvas/internal/schemagraph"
)

// SignalKind names a graph resolution outcome that needs the caller's decision.
type SignalKind string

const (
	SignalNoRelationship        SignalKind = "no_relationship"
	SignalAmbiguousRelationship SignalKind = "ambiguous_relationship"
)

// Candidate is one relationship the caller may choose to resolve an
// ambiguous join.
type Candidate struct {
	RelationshipID string        `json:"relationship_id"`
	SourceAlias    string        `json:"source_alias"`
	Edge           joinpath.Edge `json:"edge"`
	Label          string        `json:"label"`
}

// Signal reports that a column could not be added without a join decision.
type Signal struct {
	Kind       SignalKind  `json:"kind"`
	Table      string      `json:"table"`
	Column     string      `json:"column"`
	Message    string      `json:"message"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// AddColumn selects table.column, joining table in first when needed.
//
// Without a base table, table becomes the base. A table already in the query
// is used through its first alias. Otherwise direct relationships from every
// included table are considered: exactly one is joined, several produce an
// ambiguous_relationship signal. With none, the shortest path from the base
// table is joined hop by hop; no path produces a no_relationship signal.
// Signals leave the query unchanged. Selecting a column twice is a no-op.
func (s *Session) AddColumn(table, column string) (Result, error) {
	const op = "add_column"
	start := time.Now()

	if err := s.checkColumn(table, column); err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}

	next := s.q
	if !next.From.IsSet() {
		next = query.New(table, "")
	} else if !next.Includes(table) {
		candidates := s.directCandidates(next, table)
		switch {
		case len(candidates) == 1:
			edge := candidates[0].Edge
			var err error
			next, err = next.AddJoin(s.joinType, candidates[0].SourceAlias, table, edge.FromColumn, edge.ToColumn)
			if err != nil {
				s.reject(op, err, start)
				return Result{}, err
			}
		case len(candidates) > 1:
			return s.signal(op, &Signal{
				Kind:       SignalAmbiguousRelationship,
				Table:      table,
				Column:     column,
				Message:    fmt.Sprintf("%d relationships connect %s to the query; choose one or more", len(candidates), table),
				Candidates: candidates,
			}, start), nil
		default:
			path, ok := joinpath.FindBestPath(s.graph, next.From.Table, table)
			if !ok {
				return s.signal(op, &Signal{
					Kind:    SignalNoRelationship,
					Table:   table,
					Column:  column,
					Message: fmt.Sprintf("no relationship connects %s to the query; add a join manually", table),
				}, start), nil
			}
			var err error
			next, err = joinpath.Materialize(next, path, s.joinType)
			if err != nil {
				s.reject(op, err, start)
				return Result{}, err
			}
		}
	}

	return s.selectColumn(op, next, table, column, start)
}

// AddColumnVia joins table on the chosen relationships, AND-ed into a single
// join, and selects table.column in one step. Every relationship must connect
// table to the same table already in the query. A table that is already
// joined is rejected with ErrInvalidJoin; use AddColumn to select more of its
// columns.
func (s *Session) AddColumnVia(table, column string, relationshipIDs []string, joinType query.JoinType) (Result, error) {
	const op = "add_column_via"
	start := time.Now()

	if err := s.checkColumn(table, column); err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}
	if !s.q.From.IsSet() {
		s.reject(op, query.ErrNoBaseTable, start)
		return Result{}, query.ErrNoBaseTable
	}
	if joinType == "" {
		joinType = s.joinType
	}

	if s.q.Includes(table) {
		err := fmt.Errorf("%s is already part of the query: %w", table, query.ErrInvalidJoin)
		s.reject(op, err, start)
		return Result{}, err
	}
	edges, err := s.chosenEdges(s.q, table, relationshipIDs)
	if err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}
	next, err := joinpath.JoinFromEdges(s.q, edges, joinType)
	if err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}
	return s.selectColumn(op, next, table, column, start)
}

// JoinPaths lists the ways table could be joined to the current query.
func (s *Session) JoinPaths(table string) []joinpath.Path {
	if !s.q.From.IsSet() {
		return nil
	}
	for _, source := range s.sourceTables(s.q) {
		if paths := joinpath.FindDirectRelationships(s.graph, source, table); len(paths) > 0 {
			return joinpath.Options(s.graph, source, table)
		}
	}
	return joinpath.Options(s.graph, s.q.From.Table, table)
}

func (s *Session) selectColumn(op string, next query.Query, table, column string, start time.Time) (Result, error) {
	alias, ok := next.AliasFor(table)
	if !ok {
		err := fmt.Errorf("table %s is not part of the query: %w", table, query.ErrUnknownAlias)
		s.reject(op, err, start)
		return Result{}, err
	}
	ref := query.ColumnRef{Table: table, Alias: alias, Column: column}
	// Only a table that was already present can carry the column.
	if _, dup := next.FindColumnField(ref); dup {
		return s.noop(op, start), nil
	}
	next, err := next.AddSelectColumn(ref, "")
	if err != nil {
		s.reject(op, err, start)
		return Result{}, err
	}
	return s.commit(op, next, start)
}

// checkColumn verifies table.column against the graph. Tables already in the
// query but absent from the graph are accepted as is.
func (s *Session) checkColumn(table, column string) error {
	if table == "" || column == "" {
		return fmt.Errorf("table and column are required: %w", query.ErrInvalidField)
	}
	t, ok := s.graph.Table(table)
	if !ok {
		if s.q.Includes(table) {
			return nil
		}
		return fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}
	if !t.HasColumn(column) {
		return fmt.Errorf("%s.%s: %w", table, column, ErrUnknownColumn)
	}
	return nil
}

// sourceTables lists the distinct tables in q, base first, then join targets in order.
func (s *Session) sourceTables(q query.Query) []string {
	var out []string
	seen := map[string]bool{}
	add := func(table string) {
		if table == "" || seen[table] {
			return
		}
		seen[table] = true
		out = append(out, table)
	}
	add(q.From.Table)
	for _, j := range q.Joins {
		add(j.Target.Table)
	}
	return out
}

func (s *Session) directCandidates(q query.Query, table string) []Candidate {
	var out []Candidate
	for _, source := range s.sourceTables(q) {
		alias, ok := q.AliasFor(source)
		if !ok {
			continue
		}
		for _, edge := range joinpath.FindDirectRelationships(s.graph, source, table) {
			rel, _ := s.graph.Relationship(edge.RelationshipID)
			out = append(out, Candidate{
				RelationshipID: edge.RelationshipID,
				SourceAlias:    alias,
				Edge:           edge,
				Label:          schemagraph.DescribeRelationship(rel, source),
			})
		}
	}
	return out
}

func (s *Session) chosenEdges(q query.Query, table string, ids []string) ([]joinpath.Edge, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("choose at least one relationship for %s: %w", table, query.ErrInvalidJoin)
	}
	edges := make([]joinpath.Edge, 0, len(ids))
	for _, id := range ids {
		rel, ok := s.graph.Relationship(id)
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrUnknownRelationship)
		}
		source := rel.FromTable
		if source == table {
			source = rel.ToTable
		}
		if !rel.Connects(source, table) || !q.Includes(source) {
			return nil, fmt.Errorf("relationship %s does not connect %s to the query: %w", id, table, query.ErrInvalidJoin)
		}
		edges = append(edges, joinpath.Orient(rel, source))
	}
	return edges, nil
}
