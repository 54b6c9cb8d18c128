package query

import (
	"fmt"
	"strings"
)

// AddWhereCondition appends a predicate. ID, Order and a default AND logic are assigned.
func (q Query) AddWhereCondition(c Condition) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	prepared, err := q.prepareCondition(c)
	if err != nil {
		return q, err
	}
	next := q.edit()
	prepared.ID = nextID("w", next.whereIDs())
	next.Where = append(next.Where, prepared)
	next.renumber()
	return next, nil
}

// UpdateWhereCondition replaces the predicate with c.ID, keeping its position.
func (q Query) UpdateWhereCondition(c Condition) (Query, error) {
	next := q.edit()
	idx := -1
	for i, existing := range next.Where {
		if existing.ID == c.ID {
			idx = i
		}
	}
	if idx < 0 {
		return q, fmt.Errorf("condition %s: %w", c.ID, ErrNotFound)
	}
	prepared, err := q.prepareCondition(c)
	if err != nil {
		return q, err
	}
	prepared.ID = c.ID
	next.Where[idx] = prepared
	next.renumber()
	return next, nil
}

// RemoveWhereCondition deletes a predicate.
func (q Query) RemoveWhereCondition(id string) (Query, error) {
	next := q.edit()
	kept := next.Where[:0]
	found := false
	for _, c := range next.Where {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return q, fmt.Errorf("condition %s: %w", id, ErrNotFound)
	}
	next.Where = kept
	next.renumber()
	return next, nil
}

// ReorderWhereConditions rearranges predicates. ids must list every condition exactly once.
func (q Query) ReorderWhereConditions(ids []string) (Query, error) {
	next := q.edit()
	perm, err := permutation(next.whereIDs(), ids)
	if err != nil {
		return q, fmt.Errorf("reorder conditions: %w", err)
	}
	where := make([]Condition, len(perm))
	for i, idx := range perm {
		where[i] = next.Where[idx]
	}
	next.Where = where
	next.renumber()
	return next, nil
}

// prepareCondition normalizes the operator and logic, checks the operand matches
// the operator and resolves column references.
func (q Query) prepareCondition(c Condition) (Condition, error) {
	c = c.clone()
	op, ok := ParseOperator(string(c.Operator))
	if !ok {
		return c, fmt.Errorf("operator %q: %w", c.Operator, ErrInvalidOperator)
	}
	c.Operator = op

	switch strings.ToUpper(string(c.Logic)) {
	case "", string(And):
		c.Logic = And
	case string(Or):
		c.Logic = Or
	default:
		return c, fmt.Errorf("logic %q: %w", c.Logic, ErrInvalidOperator)
	}

	if op.Shape() == ShapeExists {
		if c.Ref != nil {
			return c, fmt.Errorf("%s takes no column: %w", op, ErrInvalidOperand)
		}
	} else {
		if c.Ref == nil {
			return c, fmt.Errorf("%s needs a column: %w", op, ErrInvalidOperand)
		}
		ref, err := q.resolveRef(*c.Ref)
		if err != nil {
			return c, err
		}
		c.Ref = &ref
	}

	if op.Shape() == ShapeNone && c.Operand == nil {
		c.Operand = NoOperand{}
	}
	if err := checkOperand(op, c.Operand); err != nil {
		return c, err
	}

	switch o := c.Operand.(type) {
	case ScalarOperand:
		v, err := q.resolveValue(o.Value)
		if err != nil {
			return c, err
		}
		c.Operand = ScalarOperand{Value: v}
	case ListOperand:
		values := make([]Value, len(o.Values))
		for i, raw := range o.Values {
			v, err := q.resolveValue(raw)
			if err != nil {
				return c, err
			}
			values[i] = v
		}
		c.Operand = ListOperand{Values: values}
	case RangeOperand:
		low, err := q.resolveValue(o.Low)
		if err != nil {
			return c, err
		}
		high, err := q.resolveValue(o.High)
		if err != nil {
			return c, err
		}
		c.Operand = RangeOperand{Low: low, High: high}
	case SubqueryOperand:
		if err := ValidateCorrelated(*o.Query, q); err != nil {
			return c, fmt.Errorf("%s subquery: %w", op, err)
		}
	}
	return c, nil
}

// checkOperand reports whether operand has the shape op requires.
func checkOperand(op Operator, operand Operand) error {
	bad := func(why string) error {
		return fmt.Errorf("%s %s: %w", op, why, ErrInvalidOperand)
	}
	switch o := operand.(type) {
	case nil:
		return bad("needs a value")
	case NoOperand:
		if op.Shape() != ShapeNone {
			return bad("needs a value")
		}
	case ScalarOperand:
		if op.Shape() != ShapeScalar {
			return bad("does not take a single value")
		}
	case ListOperand:
		switch op.Shape() {
		case ShapeSet:
			if len(o.Values) == 0 {
				return bad("needs at least one value")
			}
		case ShapeRange:
			if len(o.Values) != 2 {
				return bad("needs exactly two values")
			}
		default:
			return bad("does not take a value list")
		}
	case RangeOperand:
		if op.Shape() != ShapeRange {
			return bad("does not take a range")
		}
	case SubqueryOperand:
		if op.Shape() != ShapeSet && op.Shape() != ShapeExists {
			return bad("does not take a subquery")
		}
		if o.Query == nil {
			return bad("needs a subquery")
		}
	default:
		return bad("has an unsupported operand")
	}
	if op.Shape() == ShapeExists {
		if _, ok := operand.(SubqueryOperand); !ok {
			return bad("needs a subquery")
		}
	}
	return nil
}

// AddGroupBy appends a GROUP BY column.
func (q Query) AddGroupBy(ref ColumnRef) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	resolved, err := q.resolveRef(ref)
	if err != nil {
		return q, err
	}
	for _, g := range q.GroupBy {
		if strings.EqualFold(g.Ref.Alias, resolved.Alias) && g.Ref.Column == resolved.Column {
			return q, fmt.Errorf("group by %s.%s: %w", resolved.Alias, resolved.Column, ErrDuplicateField)
		}
	}
	next := q.edit()
	next.GroupBy = append(next.GroupBy, GroupByField{ID: nextID("g", next.groupIDs()), Ref: resolved})
	next.renumber()
	return next, nil
}

// RemoveGroupBy deletes a GROUP BY column.
func (q Query) RemoveGroupBy(id string) (Query, error) {
	next := q.edit()
	kept := next.GroupBy[:0]
	for _, g := range next.GroupBy {
		if g.ID != id {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(q.GroupBy) {
		return q, fmt.Errorf("group by %s: %w", id, ErrNotFound)
	}
	next.GroupBy = kept
	next.renumber()
	return next, nil
}

// ReorderGroupBy rearranges GROUP BY columns.
func (q Query) ReorderGroupBy(ids []string) (Query, error) {
	next := q.edit()
	perm, err := permutation(next.groupIDs(), ids)
	if err != nil {
		return q, fmt.Errorf("reorder group by: %w", err)
	}
	groups := make([]GroupByField, len(perm))
	for i, idx := range perm {
		groups[i] = next.GroupBy[idx]
	}
	next.GroupBy = groups
	next.renumber()
	return next, nil
}

func parseDirection(d Direction) (Direction, error) {
	switch strings.ToUpper(string(d)) {
	case "", string(Asc):
		return Asc, nil
	case string(Desc):
		return Desc, nil
	}
	return d, fmt.Errorf("direction %q: %w", d, ErrInvalidField)
}

// AddOrderBy appends an ORDER BY column. An empty direction means ASC.
func (q Query) AddOrderBy(ref ColumnRef, dir Direction) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	dir, err := parseDirection(dir)
	if err != nil {
		return q, err
	}
	resolved, err := q.resolveRef(ref)
	if err != nil {
		return q, err
	}
	for _, o := range q.OrderBy {
		if strings.EqualFold(o.Ref.Alias, resolved.Alias) && o.Ref.Column == resolved.Column {
			return q, fmt.Errorf("order by %s.%s: %w", resolved.Alias, resolved.Column, ErrDuplicateField)
		}
	}
	next := q.edit()
	next.OrderBy = append(next.OrderBy, OrderByField{ID: nextID("o", next.orderIDs()), Ref: resolved, Direction: dir})
	next.renumber()
	return next, nil
}

// UpdateOrderByDirection flips an ORDER BY column between ASC and DESC.
func (q Query) UpdateOrderByDirection(id string, dir Direction) (Query, error) {
	dir, err := parseDirection(dir)
	if err != nil {
		return q, err
	}
	next := q.edit()
	for i := range next.OrderBy {
		if next.OrderBy[i].ID == id {
			next.OrderBy[i].Direction = dir
			return next, nil
		}
	}
	return q, fmt.Errorf("order by %s: %w", id, ErrNotFound)
}

// RemoveOrderBy deletes an ORDER BY column.
func (q Query) RemoveOrderBy(id string) (Query, error) {
	next := q.edit()
	kept := next.OrderBy[:0]
	for _, o := range next.OrderBy {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	if len(kept) == len(q.OrderBy) {
		return q, fmt.Errorf("order by %s: %w", id, ErrNotFound)
	}
	next.OrderBy = kept
	next.renumber()
	return next, nil
}

// ReorderOrderBy rearranges ORDER BY columns.
func (q Query) ReorderOrderBy(ids []string) (Query, error) {
	next := q.edit()
	perm, err := permutation(next.orderIDs(), ids)
	if err != nil {
		return q, fmt.Errorf("reorder order by: %w", err)
	}
	orders := make([]OrderByField, len(perm))
	for i, idx := range perm {
		orders[i] = next.OrderBy[idx]
	}
	next.OrderBy = orders
	next.renumber()
	return next, nil
}

// AddCTE defines a named common table expression ahead of the main query.
func (q Query) AddCTE(name string, sub Query, columns []string, recursive bool) (Query, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return q, fmt.Errorf("cte needs a name: %w", ErrInvalidField)
	}
	for _, c := range q.CTEs {
		if strings.EqualFold(c.Name, name) {
			return q, fmt.Errorf("cte %s: %w", name, ErrDuplicateName)
		}
	}
	if err := Validate(sub); err != nil {
		return q, fmt.Errorf("cte %s: %w", name, err)
	}
	next := q.edit()
	next.CTEs = append(next.CTEs, CTE{
		ID:        nextID("c", next.cteIDs()),
		Name:      name,
		Query:     sub.clonePtr(),
		Columns:   append([]string(nil), columns...),
		Recursive: recursive,
	})
	return next, nil
}

// UpdateCTE replaces the definition with c.ID.
func (q Query) UpdateCTE(c CTE) (Query, error) {
	idx := -1
	for i, existing := range q.CTEs {
		if existing.ID == c.ID {
			idx = i
			continue
		}
		if strings.EqualFold(existing.Name, c.Name) {
			return q, fmt.Errorf("cte %s: %w", c.Name, ErrDuplicateName)
		}
	}
	if idx < 0 {
		return q, fmt.Errorf("cte %s: %w", c.ID, ErrNotFound)
	}
	if strings.TrimSpace(c.Name) == "" || c.Query == nil {
		return q, fmt.Errorf("cte %s needs a name and a query: %w", c.ID, ErrInvalidField)
	}
	if err := Validate(*c.Query); err != nil {
		return q, fmt.Errorf("cte %s: %w", c.Name, err)
	}
	next := q.edit()
	next.CTEs[idx] = c.clone()
	return next, nil
}

// RemoveCTE deletes a common table expression.
func (q Query) RemoveCTE(id string) (Query, error) {
	next := q.edit()
	kept := next.CTEs[:0]
	for _, c := range next.CTEs {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(q.CTEs) {
		return q, fmt.Errorf("cte %s: %w", id, ErrNotFound)
	}
	next.CTEs = kept
	return next, nil
}
