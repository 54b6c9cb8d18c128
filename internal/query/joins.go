package query

import (
	"fmt"
	"strings"

	"querycanvas/internal/alias"
)

// AddJoin joins targetTable to an in-scope alias on a single column equality.
// The target alias is allocated from the table name.
func (q Query) AddJoin(joinType JoinType, sourceAlias, targetTable, sourceColumn, targetColumn string) (Query, error) {
	return q.AddManualJoin(Join{
		Type:        joinType,
		SourceAlias: sourceAlias,
		Target:      JoinTarget{Table: targetTable},
		Conditions:  []JoinCondition{{SourceColumn: sourceColumn, TargetColumn: targetColumn}},
	})
}

// AddManualJoin appends a fully specified join: several AND-ed equality
// conditions, a verbatim custom condition, or a derived table target.
// Empty Type defaults to LEFT; an empty target alias is allocated.
func (q Query) AddManualJoin(j Join) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	j = j.clone()
	if j.Type == "" {
		j.Type = JoinLeft
	}
	j.Type = JoinType(strings.ToUpper(string(j.Type)))
	if !j.Type.Valid() {
		return q, fmt.Errorf("join type %q: %w", j.Type, ErrInvalidJoin)
	}

	if j.SourceAlias == "" {
		name, ok := q.AliasFor(j.SourceTable)
		if !ok {
			return q, fmt.Errorf("join source %s is not part of the query: %w", j.SourceTable, ErrUnknownAlias)
		}
		j.SourceAlias = name
	}
	sourceTable, ok := q.TableOf(j.SourceAlias)
	if !ok {
		return q, fmt.Errorf("join source alias %s: %w", j.SourceAlias, ErrUnknownAlias)
	}
	if j.SourceTable == "" {
		j.SourceTable = sourceTable
	}

	if err := checkTarget(j.Target); err != nil {
		return q, err
	}
	if j.Target.Subquery != nil {
		if err := Validate(*j.Target.Subquery); err != nil {
			return q, fmt.Errorf("join subquery: %w", err)
		}
	}
	if err := checkConditions(j); err != nil {
		return q, err
	}

	existing := q.existingAliases()
	if j.Target.Alias == "" {
		stemSource := j.Target.Table
		if stemSource == "" {
			stemSource = "sub"
		}
		j.Target.Alias = alias.Allocate(stemSource, existing)
	} else if _, taken := existing[strings.ToLower(j.Target.Alias)]; taken {
		return q, fmt.Errorf("join alias %s: %w", j.Target.Alias, ErrDuplicateAlias)
	}

	next := q.edit()
	j.ID = nextID("j", next.joinIDs())
	next.Joins = append(next.Joins, j)
	return next, nil
}

func checkTarget(t JoinTarget) error {
	hasTable := strings.TrimSpace(t.Table) != ""
	hasSub := t.Subquery != nil
	if hasTable == hasSub {
		return fmt.Errorf("join target needs exactly one of table or subquery: %w", ErrInvalidJoin)
	}
	if hasSub && t.Alias == "" {
		return fmt.Errorf("join subquery needs an alias: %w", ErrInvalidJoin)
	}
	return nil
}

func checkConditions(j Join) error {
	if strings.TrimSpace(j.CustomCondition) != "" {
		return nil
	}
	if len(j.Conditions) == 0 {
		return fmt.Errorf("join needs at least one condition: %w", ErrInvalidJoin)
	}
	for _, c := range j.Conditions {
		if c.SourceColumn == "" || c.TargetColumn == "" {
			return fmt.Errorf("join condition with empty column: %w", ErrInvalidJoin)
		}
	}
	return nil
}

// Join looks up a join by id.
func (q Query) Join(id string) (Join, bool) {
	for _, j := range q.Joins {
		if j.ID == id {
			return j, true
		}
	}
	return Join{}, false
}

// JoinUpdate carries the editable parts of a join. Zero-valued members are left unchanged;
// a non-nil empty CustomCondition clears the override.
type JoinUpdate struct {
	Type            JoinType        `json:"type,omitempty"`
	Conditions      []JoinCondition `json:"conditions,omitempty"`
	CustomCondition *string         `json:"custom_condition,omitempty"`
}

// UpdateJoin edits a join's type and conditions in place. Source and target are fixed;
// remove and re-add the join to change them.
func (q Query) UpdateJoin(id string, u JoinUpdate) (Query, error) {
	idx := -1
	for i, j := range q.Joins {
		if j.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return q, fmt.Errorf("join %s: %w", id, ErrNotFound)
	}

	updated := q.Joins[idx].clone()
	if u.Type != "" {
		updated.Type = JoinType(strings.ToUpper(string(u.Type)))
		if !updated.Type.Valid() {
			return q, fmt.Errorf("join type %q: %w", u.Type, ErrInvalidJoin)
		}
	}
	if u.Conditions != nil {
		updated.Conditions = append([]JoinCondition(nil), u.Conditions...)
	}
	if u.CustomCondition != nil {
		updated.CustomCondition = *u.CustomCondition
	}
	if err := checkConditions(updated); err != nil {
		return q, err
	}

	next := q.edit()
	next.Joins[idx] = updated
	return next, nil
}

// RemoveJoin deletes a join and cascades: joins sourced from the removed alias
// (transitively) are removed too, as is every select field, condition, group
// and order entry that references a removed alias. Custom join conditions,
// expression fields and raw values count as references when their text
// qualifies a column with a removed alias.
func (q Query) RemoveJoin(id string) (Query, error) {
	target, ok := q.Join(id)
	if !ok {
		return q, fmt.Errorf("join %s: %w", id, ErrNotFound)
	}

	removed := map[string]bool{strings.ToLower(target.Target.Alias): true}
	next := q.edit()
	joins := make([]Join, 0, len(next.Joins))
	for _, j := range next.Joins {
		if j.ID == id || removed[strings.ToLower(j.SourceAlias)] || mentionsAlias(j.CustomCondition, removed) {
			removed[strings.ToLower(j.Target.Alias)] = true
			continue
		}
		joins = append(joins, j)
	}
	next.Joins = joins
	next.dropReferences(removed)
	next.renumber()
	return next, nil
}

func (q *Query) dropReferences(removed map[string]bool) {
	hit := func(ref *ColumnRef) bool {
		return ref != nil && removed[strings.ToLower(ref.Alias)]
	}

	fields := q.Fields[:0]
	for _, f := range q.Fields {
		switch v := f.(type) {
		case ColumnField:
			if hit(&v.Ref) {
				continue
			}
		case AggregateField:
			if hit(v.Source) {
				continue
			}
		case ExpressionField:
			if mentionsAlias(v.Expression, removed) {
				continue
			}
		case SubqueryField:
			if correlatesWith(v.Query, removed) {
				continue
			}
		}
		fields = append(fields, f)
	}
	q.Fields = fields

	where := q.Where[:0]
	for _, c := range q.Where {
		if hit(c.Ref) || operandHits(c.Operand, removed) {
			continue
		}
		where = append(where, c)
	}
	q.Where = where

	groups := q.GroupBy[:0]
	for _, g := range q.GroupBy {
		if !hit(&g.Ref) {
			groups = append(groups, g)
		}
	}
	q.GroupBy = groups

	orders := q.OrderBy[:0]
	for _, o := range q.OrderBy {
		if !hit(&o.Ref) {
			orders = append(orders, o)
		}
	}
	q.OrderBy = orders
}

func valueHits(v Value, removed map[string]bool) bool {
	switch v.Kind {
	case ValueColumn:
		return v.Ref != nil && removed[strings.ToLower(v.Ref.Alias)]
	case ValueRaw:
		return mentionsAlias(v.Text, removed)
	}
	return false
}

// mentionsAlias reports whether SQL text qualifies a column with any alias in
// aliases, as in ord.id, `ord`.id or [ord].id. Quoted string literals are skipped.
func mentionsAlias(sql string, aliases map[string]bool) bool {
	if strings.TrimSpace(sql) == "" || len(aliases) == 0 {
		return false
	}
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'':
			i = skipQuoted(sql, i, '\'')
		case c == '`' || c == '[' || isIdentStart(c):
			if i > 0 && (isIdentPart(sql[i-1]) || sql[i-1] == '.') {
				i++
				continue
			}
			name, end := readIdent(sql, i)
			rest := strings.TrimLeft(sql[end:], " \t\r\n")
			if name != "" && strings.HasPrefix(rest, ".") && aliases[strings.ToLower(name)] {
				return true
			}
			if end == i {
				end++
			}
			i = end
		default:
			i++
		}
	}
	return false
}

// readIdent reads a bare, back-ticked or bracketed identifier starting at i.
func readIdent(sql string, i int) (string, int) {
	switch sql[i] {
	case '`':
		end := skipQuoted(sql, i, '`')
		return strings.ReplaceAll(sql[i+1:max(end-1, i+1)], "``", "`"), end
	case '[':
		j := strings.IndexByte(sql[i:], ']')
		if j < 0 {
			return "", len(sql)
		}
		return sql[i+1 : i+j], i + j + 1
	}
	j := i
	for j < len(sql) && isIdentPart(sql[j]) {
		j++
	}
	return sql[i:j], j
}

// skipQuoted returns the index just past the quoted run opened at i, treating
// a doubled quote as an escaped one.
func skipQuoted(sql string, i int, quote byte) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != quote {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '$' || (c >= '0' && c <= '9')
}

func operandHits(op Operand, removed map[string]bool) bool {
	switch o := op.(type) {
	case ScalarOperand:
		return valueHits(o.Value, removed)
	case ListOperand:
		for _, v := range o.Values {
			if valueHits(v, removed) {
				return true
			}
		}
	case RangeOperand:
		return valueHits(o.Low, removed) || valueHits(o.High, removed)
	case SubqueryOperand:
		return correlatesWith(o.Query, removed)
	}
	return false
}

// correlatesWith reports whether a nested query references any outer alias in
// removed that it does not shadow with its own declaration.
func correlatesWith(sub *Query, removed map[string]bool) bool {
	if sub == nil {
		return false
	}
	outer := make(map[string]bool, len(removed))
	for name := range removed {
		if !sub.HasAlias(name) {
			outer[name] = true
		}
	}
	if len(outer) == 0 {
		return false
	}
	for _, c := range sub.Where {
		if operandHits(c.Operand, outer) {
			return true
		}
	}
	for _, f := range sub.Fields {
		if sf, ok := f.(SubqueryField); ok && correlatesWith(sf.Query, outer) {
			return true
		}
	}
	return false
}
