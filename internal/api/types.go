package api

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/graphql-go/graphql"

	"querycanvas/internal/builder"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/joinpath"
	"querycanvas/internal/schemagraph"
)

// relationshipView is a relationship described from one of its tables.
type relationshipView struct {
	ID         string `json:"id"`
	FromTable  string `json:"fromTable"`
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
	Label      string `json:"label"`
}

type tableView struct {
	ID            string               `json:"id"`
	Label         string               `json:"label"`
	Kind          string               `json:"kind"`
	Columns       []schemagraph.Column `json:"columns"`
	Relationships []relationshipView   `json:"relationships"`
}

type aliasView struct {
	Alias string `json:"alias"`
	Table string `json:"table"`
}

type sessionView struct {
	ID             string          `json:"id"`
	SQL            string          `json:"sql"`
	Query          json.RawMessage `json:"query"`
	Dialect        string          `json:"dialect"`
	Pretty         bool            `json:"pretty"`
	IncludedTables []string        `json:"includedTables"`
	Aliases        []aliasView     `json:"aliases"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastUsedAt     time.Time       `json:"lastUsedAt"`

	owner string
}

type commandResultView struct {
	Applied bool            `json:"applied"`
	Signal  *builder.Signal `json:"signal"`
	Session *sessionView    `json:"session"`
}

type previewView struct {
	SQL       string   `json:"sql"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

func newTableView(g *schemagraph.Graph, t schemagraph.Table) tableView {
	incident := g.Incident(t.ID)
	rels := make([]relationshipView, 0, len(incident))
	for _, rel := range incident {
		rels = append(rels, relationshipView{
			ID:         rel.ID,
			FromTable:  rel.FromTable,
			FromColumn: rel.FromColumn,
			ToTable:    rel.ToTable,
			ToColumn:   rel.ToColumn,
			Label:      schemagraph.DescribeRelationship(rel, t.ID),
		})
	}
	label := t.Label
	if label == "" {
		label = schemagraph.DefaultLabel(t.ID)
	}
	kind := t.Kind
	if kind == "" {
		kind = schemagraph.KindTable
	}
	return tableView{ID: t.ID, Label: label, Kind: string(kind), Columns: t.Columns, Relationships: rels}
}

// newSessionView snapshots s. It must run while the session is locked;
// metadata is filled in afterwards.
func newSessionView(s *builder.Session) (*sessionView, error) {
	saved, err := s.Save()
	if err != nil {
		return nil, err
	}
	aliasMap := s.AliasMap()
	aliases := make([]aliasView, 0, len(aliasMap))
	for alias, table := range aliasMap {
		aliases = append(aliases, aliasView{Alias: alias, Table: table})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Alias < aliases[j].Alias })
	included := s.IncludedTables()
	if included == nil {
		included = []string{}
	}
	return &sessionView{
		SQL:            s.SQL(),
		Query:          saved,
		Dialect:        string(s.Dialect().Name),
		Pretty:         s.Pretty(),
		IncludedTables: included,
		Aliases:        aliases,
	}, nil
}

func newPreviewView(res *dbexec.PreviewResult) *previewView {
	return &previewView{SQL: res.SQL, Columns: res.Columns, Rows: res.Rows, Truncated: res.Truncated}
}

// types holds the object types of one schema instance.
type types struct {
	column       *graphql.Object
	relationship *graphql.Object
	table        *graphql.Object
	edge         *graphql.Object
	path         *graphql.Object
	candidate    *graphql.Object
	signal       *graphql.Object
	alias        *graphql.Object
	session      *graphql.Object
	result       *graphql.Object
	preview      *graphql.Object
}

func (sc *schemaBuilder) buildTypes() {
	t := &sc.types
	t.column = graphql.NewObject(graphql.ObjectConfig{
		Name: "Column",
		Fields: graphql.Fields{
			"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"type": &graphql.Field{Type: graphql.String},
		},
	})
	t.relationship = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Relationship",
		Description: "A foreign key style link between two tables, labeled from the owning table.",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"fromTable":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"fromColumn": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"toTable":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"toColumn":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"label":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	t.table = graphql.NewObject(graphql.ObjectConfig{
		Name: "Table",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"label":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"columns":       &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.column)))},
			"relationships": &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.relationship)))},
		},
	})
	t.edge = graphql.NewObject(graphql.ObjectConfig{
		Name: "Edge",
		Fields: graphql.Fields{
			"fromTable":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"toTable":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"fromColumn":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"toColumn":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"relationshipId": &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: edgeRelationshipID},
		},
	})
	t.path = graphql.NewObject(graphql.ObjectConfig{
		Name: "Path",
		Fields: graphql.Fields{
			"edges":    &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.edge)))},
			"hopCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})
	t.candidate = graphql.NewObject(graphql.ObjectConfig{
		Name: "Candidate",
		Fields: graphql.Fields{
			"relationshipId": &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return p.Source.(builder.Candidate).RelationshipID, nil
			}},
			"sourceAlias": &graphql.Field{Type: graphql.NewNonNull(graphql.String), Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return p.Source.(builder.Candidate).SourceAlias, nil
			}},
			"edge":  &graphql.Field{Type: graphql.NewNonNull(t.edge)},
			"label": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	t.signal = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Signal",
		Description: "A column that could not be added without a join decision.",
		Fields: graphql.Fields{
			"kind":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"table":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"column":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"message":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"candidates": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.candidate))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if c := p.Source.(*builder.Signal).Candidates; c != nil {
						return c, nil
					}
					return []builder.Candidate{}, nil
				},
			},
		},
	})
	t.alias = graphql.NewObject(graphql.ObjectConfig{
		Name: "Alias",
		Fields: graphql.Fields{
			"alias": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"table": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	t.session = graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"sql":            &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"query":          &graphql.Field{Type: graphql.NewNonNull(JSONScalar)},
			"dialect":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"pretty":         &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"includedTables": &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String)))},
			"aliases":        &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.alias)))},
			"createdAt":      &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
			"lastUsedAt":     &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
			"joinPaths": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(t.path))),
				Description: "Candidate join paths from the base table to table.",
				Args: graphql.FieldConfigArgument{
					"table": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: sc.resolveJoinPaths,
			},
		},
	})
	t.result = graphql.NewObject(graphql.ObjectConfig{
		Name: "CommandResult",
		Fields: graphql.Fields{
			"applied": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"signal":  &graphql.Field{Type: t.signal},
			"session": &graphql.Field{Type: graphql.NewNonNull(t.session)},
		},
	})
	t.preview = graphql.NewObject(graphql.ObjectConfig{
		Name: "PreviewResult",
		Fields: graphql.Fields{
			"sql":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"columns":   &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String)))},
			"rows":      &graphql.Field{Type: graphql.NewNonNull(JSONScalar)},
			"truncated": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})
}

func edgeRelationshipID(p graphql.ResolveParams) (interface{}, error) {
	return p.Source.(joinpath.Edge).RelationshipID, nil
}
