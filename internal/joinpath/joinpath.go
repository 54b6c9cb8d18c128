// Package joinpath finds relationships connecting two tables in a schema graph
// and turns the chosen path into query joins.
package joinpath

import (
	"fmt"

	"querycanvas/internal/query"
	"querycanvas/internal/schemagraph"
)

// Edge is a relationship oriented in traversal direction.
type Edge struct {
	FromTable      string `json:"from_table"`
	ToTable        string `json:"to_table"`
	FromColumn     string `json:"from_column"`
	ToColumn       string `json:"to_column"`
	RelationshipID string `json:"relationship_id"`
}

// Path is an ordered chain of edges from a source table to a target table.
type Path struct {
	Edges    []Edge `json:"edges"`
	HopCount int    `json:"hop_count"`
}

// Orient returns rel as an edge leaving from. Relationships not touching from
// are returned in their declared direction.
func Orient(rel schemagraph.Relationship, from string) Edge {
	if rel.FromTable != from && rel.ToTable == from {
		return Edge{
			FromTable:      rel.ToTable,
			ToTable:        rel.FromTable,
			FromColumn:     rel.ToColumn,
			ToColumn:       rel.FromColumn,
			RelationshipID: rel.ID,
		}
	}
	return Edge{
		FromTable:      rel.FromTable,
		ToTable:        rel.ToTable,
		FromColumn:     rel.FromColumn,
		ToColumn:       rel.ToColumn,
		RelationshipID: rel.ID,
	}
}

// FindDirectRelationships returns every relationship joining source and target
// in either direction, oriented source -> target, in graph input order.
func FindDirectRelationships(g *schemagraph.Graph, source, target string) []Edge {
	var out []Edge
	for _, rel := range g.Incident(source) {
		if !rel.Connects(source, target) {
			continue
		}
		out = append(out, Orient(rel, source))
	}
	return out
}

// FindBestPath returns a minimum-hop path from source to target over the
// undirected view of the graph. Among equal-length paths the one discovered
// first, following relationships in input order, wins.
func FindBestPath(g *schemagraph.Graph, source, target string) (Path, bool) {
	if _, ok := g.Table(source); !ok {
		return Path{}, false
	}
	if _, ok := g.Table(target); !ok {
		return Path{}, false
	}
	if source == target {
		return Path{}, true
	}

	// via records the edge used to first reach each table.
	via := map[string]Edge{}
	visited := map[string]bool{source: true}
	queue := []string{source}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, rel := range g.Incident(current) {
			edge := Orient(rel, current)
			next := edge.ToTable
			if visited[next] {
				continue
			}
			visited[next] = true
			via[next] = edge
			if next == target {
				return tracePath(via, source, target), true
			}
			queue = append(queue, next)
		}
	}
	return Path{}, false
}

func tracePath(via map[string]Edge, source, target string) Path {
	var reversed []Edge
	for at := target; at != source; {
		edge := via[at]
		reversed = append(reversed, edge)
		at = edge.FromTable
	}
	edges := make([]Edge, len(reversed))
	for i, e := range reversed {
		edges[len(reversed)-1-i] = e
	}
	return Path{Edges: edges, HopCount: len(edges)}
}

// Options lists the join paths a collaborator can choose between to reach target
// from source: each direct relationship as a one-hop path, or else the best
// multi-hop path. The result is empty when the tables are disconnected.
func Options(g *schemagraph.Graph, source, target string) []Path {
	direct := FindDirectRelationships(g, source, target)
	if len(direct) > 0 {
		out := make([]Path, len(direct))
		for i, e := range direct {
			out[i] = Path{Edges: []Edge{e}, HopCount: 1}
		}
		return out
	}
	if path, ok := FindBestPath(g, source, target); ok && path.HopCount > 0 {
		return []Path{path}
	}
	return nil
}

// Materialize appends one join per path edge to q, chained left to right.
// Edges whose target table is already part of the query are skipped and the
// existing alias is reused as the source of the next hop.
func Materialize(q query.Query, path Path, joinType query.JoinType) (query.Query, error) {
	if joinType == "" {
		joinType = query.JoinLeft
	}
	next := q
	for i, edge := range path.Edges {
		if next.Includes(edge.ToTable) {
			continue
		}
		sourceAlias, ok := next.AliasFor(edge.FromTable)
		if !ok {
			return q, fmt.Errorf("hop %d: table %s is not part of the query: %w", i+1, edge.FromTable, query.ErrUnknownAlias)
		}
		var err error
		next, err = next.AddJoin(joinType, sourceAlias, edge.ToTable, edge.FromColumn, edge.ToColumn)
		if err != nil {
			return q, fmt.Errorf("hop %d (%s): %w", i+1, edge.RelationshipID, err)
		}
	}
	return next, nil
}

// JoinFromEdges builds a single join combining several direct relationships
// between the same two tables into AND-ed conditions.
func JoinFromEdges(q query.Query, edges []Edge, joinType query.JoinType) (query.Query, error) {
	if len(edges) == 0 {
		return q, fmt.Errorf("no relationships to join on: %w", query.ErrInvalidJoin)
	}
	first := edges[0]
	sourceAlias, ok := q.AliasFor(first.FromTable)
	if !ok {
		return q, fmt.Errorf("table %s is not part of the query: %w", first.FromTable, query.ErrUnknownAlias)
	}
	conditions := make([]query.JoinCondition, 0, len(edges))
	for _, e := range edges {
		if e.FromTable != first.FromTable || e.ToTable != first.ToTable {
			return q, fmt.Errorf("relationship %s does not connect %s and %s: %w",
				e.RelationshipID, first.FromTable, first.ToTable, query.ErrInvalidJoin)
		}
		conditions = append(conditions, query.JoinCondition{SourceColumn: e.FromColumn, TargetColumn: e.ToColumn})
	}
	return q.AddManualJoin(query.Join{
		Type:        joinType,
		SourceAlias: sourceAlias,
		Target:      query.JoinTarget{Table: first.ToTable},
		Conditions:  conditions,
	})
}
