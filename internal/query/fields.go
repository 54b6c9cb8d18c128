package query

import (
	"fmt"
	"strings"
)

// AddSelectColumn appends a column to the SELECT list. The reference may name
// either the alias or the table id; the first alias bound to the table is used.
// Selecting the same alias and column twice returns ErrDuplicateField.
func (q Query) AddSelectColumn(ref ColumnRef, fieldAlias string) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	resolved, err := q.resolveRef(ref)
	if err != nil {
		return q, err
	}
	if _, exists := q.FindColumnField(resolved); exists {
		return q, fmt.Errorf("%s.%s: %w", resolved.Alias, resolved.Column, ErrDuplicateField)
	}

	next := q.edit()
	next.Fields = append(next.Fields, ColumnField{
		ID:    nextID("f", next.fieldIDs()),
		Ref:   resolved,
		Alias: fieldAlias,
	})
	next.renumber()
	return next, nil
}

// FindColumnField returns the column field selecting ref, matching alias
// case-insensitively. A ref without alias matches on table id.
func (q Query) FindColumnField(ref ColumnRef) (ColumnField, bool) {
	for _, f := range q.Fields {
		cf, ok := f.(ColumnField)
		if !ok || cf.Ref.Column != ref.Column {
			continue
		}
		if ref.Alias != "" && strings.EqualFold(cf.Ref.Alias, ref.Alias) {
			return cf, true
		}
		if ref.Alias == "" && cf.Ref.Table == ref.Table {
			return cf, true
		}
	}
	return ColumnField{}, false
}

// Field looks up a select field by id.
func (q Query) Field(id string) (SelectField, bool) {
	for _, f := range q.Fields {
		if f.FieldID() == id {
			return f, true
		}
	}
	return nil, false
}

// RemoveSelectField deletes a select field and re-densifies order.
func (q Query) RemoveSelectField(id string) (Query, error) {
	if _, ok := q.Field(id); !ok {
		return q, fmt.Errorf("field %s: %w", id, ErrNotFound)
	}
	next := q.edit()
	kept := next.Fields[:0]
	for _, f := range next.Fields {
		if f.FieldID() != id {
			kept = append(kept, f)
		}
	}
	next.Fields = kept
	next.renumber()
	return next, nil
}

// SetFieldAlias sets or clears the output alias of a select field.
// Subquery fields always need an alias.
func (q Query) SetFieldAlias(id, fieldAlias string) (Query, error) {
	field, ok := q.Field(id)
	if !ok {
		return q, fmt.Errorf("field %s: %w", id, ErrNotFound)
	}
	if field.Kind() == FieldSubquery && strings.TrimSpace(fieldAlias) == "" {
		return q, fmt.Errorf("subquery field %s needs an alias: %w", id, ErrInvalidField)
	}
	next := q.edit()
	for i, f := range next.Fields {
		if f.FieldID() == id {
			next.Fields[i] = f.withAlias(fieldAlias)
		}
	}
	return next, nil
}

// ReorderSelectFields rearranges the SELECT list. ids must list every field exactly once.
func (q Query) ReorderSelectFields(ids []string) (Query, error) {
	next := q.edit()
	perm, err := permutation(next.fieldIDs(), ids)
	if err != nil {
		return q, fmt.Errorf("reorder fields: %w", err)
	}
	fields := make([]SelectField, len(perm))
	for i, idx := range perm {
		fields[i] = next.Fields[idx]
	}
	next.Fields = fields
	next.renumber()
	return next, nil
}

// AddExpressionField appends raw expression text to the SELECT list.
func (q Query) AddExpressionField(expression, fieldAlias string) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	if strings.TrimSpace(expression) == "" {
		return q, fmt.Errorf("empty expression: %w", ErrInvalidField)
	}
	next := q.edit()
	next.Fields = append(next.Fields, ExpressionField{
		ID:         nextID("f", next.fieldIDs()),
		Expression: expression,
		Alias:      fieldAlias,
	})
	next.renumber()
	return next, nil
}

// AddAggregateField appends fn(source) to the SELECT list; a nil source aggregates *.
func (q Query) AddAggregateField(fn AggregateFunc, source *ColumnRef, distinct bool, fieldAlias string) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	fn = AggregateFunc(strings.ToUpper(string(fn)))
	if !fn.Valid() {
		return q, fmt.Errorf("aggregate %q: %w", fn, ErrInvalidField)
	}
	var resolved *ColumnRef
	if source != nil {
		ref, err := q.resolveRef(*source)
		if err != nil {
			return q, err
		}
		resolved = &ref
	} else if fn != Count {
		return q, fmt.Errorf("%s needs a column: %w", fn, ErrInvalidField)
	} else if distinct {
		return q, fmt.Errorf("COUNT(DISTINCT *) is not valid: %w", ErrInvalidField)
	}

	next := q.edit()
	next.Fields = append(next.Fields, AggregateField{
		ID:       nextID("f", next.fieldIDs()),
		Func:     fn,
		Source:   resolved,
		Distinct: distinct,
		Alias:    fieldAlias,
	})
	next.renumber()
	return next, nil
}

// AddSubqueryField appends a scalar subquery to the SELECT list. The subquery may
// reference aliases of q in its column values.
func (q Query) AddSubqueryField(sub Query, fieldAlias string) (Query, error) {
	if !q.From.IsSet() {
		return q, ErrNoBaseTable
	}
	if strings.TrimSpace(fieldAlias) == "" {
		return q, fmt.Errorf("subquery field needs an alias: %w", ErrInvalidField)
	}
	if err := ValidateCorrelated(sub, q); err != nil {
		return q, fmt.Errorf("subquery field %s: %w", fieldAlias, err)
	}
	next := q.edit()
	next.Fields = append(next.Fields, SubqueryField{
		ID:    nextID("f", next.fieldIDs()),
		Query: sub.clonePtr(),
		Alias: fieldAlias,
	})
	next.renumber()
	return next, nil
}

// SetDistinct toggles SELECT DISTINCT.
func (q Query) SetDistinct(distinct bool) Query {
	next := q.Clone()
	next.Distinct = distinct
	return next
}

// SetLimit sets the pagination window. count must be positive and offset non-negative.
func (q Query) SetLimit(count, offset int) (Query, error) {
	if count <= 0 || offset < 0 {
		return q, fmt.Errorf("count %d offset %d: %w", count, offset, ErrInvalidLimit)
	}
	next := q.Clone()
	next.Limit = &Limit{Count: count, Offset: offset}
	return next, nil
}

// ClearLimit removes pagination.
func (q Query) ClearLimit() Query {
	next := q.Clone()
	next.Limit = nil
	return next
}
