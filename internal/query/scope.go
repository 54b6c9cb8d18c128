package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"querycanvas/internal/alias"
)

var (
	ErrNoBaseTable     = errors.New("query has no base table")
	ErrDuplicateField  = errors.New("duplicate field")
	ErrDuplicateAlias  = errors.New("duplicate alias")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrUnknownAlias    = errors.New("unknown alias")
	ErrNotFound        = errors.New("not found")
	ErrInvalidOperator = errors.New("invalid operator")
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrInvalidJoin     = errors.New("invalid join")
	ErrInvalidField    = errors.New("invalid field")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrInvalidLimit    = errors.New("invalid limit")
)

// New returns a query selecting from table. An empty alias is allocated from the table name.
func New(table, tableAlias string) Query {
	if tableAlias == "" {
		tableAlias = alias.Allocate(table, nil)
	}
	return Query{From: From{Table: table, Alias: tableAlias}}
}

// NewFromSubquery returns a query whose base source is a derived table.
func NewFromSubquery(sub Query, subAlias string) (Query, error) {
	if subAlias == "" {
		return Query{}, fmt.Errorf("derived table needs an alias: %w", ErrInvalidField)
	}
	if err := Validate(sub); err != nil {
		return Query{}, fmt.Errorf("derived table %s: %w", subAlias, err)
	}
	return Query{From: From{Subquery: sub.clonePtr(), Alias: subAlias}}, nil
}

// Aliases returns the in-scope aliases in declaration order: the base alias, then join targets.
func (q Query) Aliases() []string {
	if !q.From.IsSet() {
		return nil
	}
	out := make([]string, 0, len(q.Joins)+1)
	out = append(out, q.From.Alias)
	for _, j := range q.Joins {
		out = append(out, j.Target.Alias)
	}
	return out
}

// AliasMap returns alias -> table id for the query scope. Derived tables map to "".
func (q Query) AliasMap() map[string]string {
	out := make(map[string]string, len(q.Joins)+1)
	if !q.From.IsSet() {
		return out
	}
	out[q.From.Alias] = q.From.Table
	for _, j := range q.Joins {
		out[j.Target.Alias] = j.Target.Table
	}
	return out
}

// AliasFor returns the first alias bound to table.
func (q Query) AliasFor(table string) (string, bool) {
	if !q.From.IsSet() {
		return "", false
	}
	if q.From.Table == table {
		return q.From.Alias, true
	}
	for _, j := range q.Joins {
		if j.Target.Table == table {
			return j.Target.Alias, true
		}
	}
	return "", false
}

// TableOf returns the table id bound to an alias (case-insensitive).
func (q Query) TableOf(name string) (string, bool) {
	if !q.From.IsSet() {
		return "", false
	}
	if strings.EqualFold(q.From.Alias, name) {
		return q.From.Table, true
	}
	for _, j := range q.Joins {
		if strings.EqualFold(j.Target.Alias, name) {
			return j.Target.Table, true
		}
	}
	return "", false
}

// HasAlias reports whether name is declared in the query scope.
func (q Query) HasAlias(name string) bool {
	_, ok := q.TableOf(name)
	return ok
}

// Includes reports whether table participates in the query as base or join target.
func (q Query) Includes(table string) bool {
	_, ok := q.AliasFor(table)
	return ok
}

// resolveRef fills in whichever of Alias and Table is missing and checks the alias is in scope.
func (q Query) resolveRef(ref ColumnRef) (ColumnRef, error) {
	if ref.Column == "" {
		return ref, fmt.Errorf("column reference without column: %w", ErrInvalidField)
	}
	if ref.Alias == "" {
		name, ok := q.AliasFor(ref.Table)
		if !ok {
			return ref, fmt.Errorf("table %s is not part of the query: %w", ref.Table, ErrUnknownAlias)
		}
		ref.Alias = name
	}
	table, ok := q.TableOf(ref.Alias)
	if !ok {
		return ref, fmt.Errorf("alias %s: %w", ref.Alias, ErrUnknownAlias)
	}
	if ref.Table == "" {
		ref.Table = table
	}
	return ref, nil
}

// resolveValue resolves column values against the local scope. Values with an explicit
// alias outside the scope are kept as-is: they may correlate to an enclosing query.
func (q Query) resolveValue(v Value) (Value, error) {
	switch v.Kind {
	case ValueLiteral, ValueRaw:
		if strings.TrimSpace(v.Text) == "" {
			return v, fmt.Errorf("empty %s value: %w", v.Kind, ErrInvalidOperand)
		}
		if v.Ref != nil {
			return v, fmt.Errorf("%s value carries a column reference: %w", v.Kind, ErrInvalidOperand)
		}
		return v, nil
	case ValueColumn:
		if v.Ref == nil {
			return v, fmt.Errorf("column value without reference: %w", ErrInvalidOperand)
		}
		if v.Ref.Alias != "" && !q.HasAlias(v.Ref.Alias) {
			return v.clone(), nil
		}
		ref, err := q.resolveRef(*v.Ref)
		if err != nil {
			return v, err
		}
		v.Ref = &ref
		return v, nil
	}
	return v, fmt.Errorf("value kind %q: %w", v.Kind, ErrInvalidOperand)
}

func (q Query) existingAliases() map[string]struct{} {
	out := make(map[string]struct{}, len(q.Joins)+1)
	for _, name := range q.Aliases() {
		out[strings.ToLower(name)] = struct{}{}
	}
	return out
}

// nextID returns prefix followed by one more than the highest numeric suffix in use.
func nextID(prefix string, ids []string) string {
	highest := 0
	for _, id := range ids {
		rest, ok := strings.CutPrefix(id, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	return prefix + strconv.Itoa(highest+1)
}

func (q Query) fieldIDs() []string {
	ids := make([]string, len(q.Fields))
	for i, f := range q.Fields {
		ids[i] = f.FieldID()
	}
	return ids
}

func (q Query) joinIDs() []string {
	ids := make([]string, len(q.Joins))
	for i, j := range q.Joins {
		ids[i] = j.ID
	}
	return ids
}

func (q Query) whereIDs() []string {
	ids := make([]string, len(q.Where))
	for i, c := range q.Where {
		ids[i] = c.ID
	}
	return ids
}

func (q Query) groupIDs() []string {
	ids := make([]string, len(q.GroupBy))
	for i, g := range q.GroupBy {
		ids[i] = g.ID
	}
	return ids
}

func (q Query) orderIDs() []string {
	ids := make([]string, len(q.OrderBy))
	for i, o := range q.OrderBy {
		ids[i] = o.ID
	}
	return ids
}

func (q Query) cteIDs() []string {
	ids := make([]string, len(q.CTEs))
	for i, c := range q.CTEs {
		ids[i] = c.ID
	}
	return ids
}

// permutation maps each id in want to its index in have, requiring want to be a
// reordering of exactly the ids in have.
func permutation(have, want []string) ([]int, error) {
	if len(have) != len(want) {
		return nil, fmt.Errorf("expected %d ids, got %d: %w", len(have), len(want), ErrInvalidOrder)
	}
	index := make(map[string]int, len(have))
	for i, id := range have {
		index[id] = i
	}
	seen := make(map[string]bool, len(want))
	out := make([]int, len(want))
	for i, id := range want {
		idx, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("id %s: %w", id, ErrNotFound)
		}
		if seen[id] {
			return nil, fmt.Errorf("id %s listed twice: %w", id, ErrInvalidOrder)
		}
		seen[id] = true
		out[i] = idx
	}
	return out, nil
}

// renumber re-densifies every ordered collection to 0..n-1 in slice order.
func (q *Query) renumber() {
	for i := range q.Fields {
		q.Fields[i] = q.Fields[i].withOrder(i)
	}
	for i := range q.Where {
		q.Where[i].Order = i
	}
	for i := range q.GroupBy {
		q.GroupBy[i].Order = i
	}
	for i := range q.OrderBy {
		q.OrderBy[i].Order = i
	}
}

// edit returns a deep copy with every ordered collection sorted by Order, ready for mutation.
func (q Query) edit() Query {
	next := q.Clone()
	sort.SliceStable(next.Fields, func(i, j int) bool { return next.Fields[i].FieldOrder() < next.Fields[j].FieldOrder() })
	sort.SliceStable(next.Where, func(i, j int) bool { return next.Where[i].Order < next.Where[j].Order })
	sort.SliceStable(next.GroupBy, func(i, j int) bool { return next.GroupBy[i].Order < next.GroupBy[j].Order })
	sort.SliceStable(next.OrderBy, func(i, j int) bool { return next.OrderBy[i].Order < next.OrderBy[j].Order })
	return next
}
