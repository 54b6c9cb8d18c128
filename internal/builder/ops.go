package builder

import (
	"errors"
	"time"

	"querycanvas/internal/query"
)

// The operations below forward to the query's structural edits and commit the
// result through the session's validation boundary.

// AddSelectColumn selects ref from a source already in the query. Selecting
// the same column again is a no-op.
func (s *Session) AddSelectColumn(ref query.ColumnRef, fieldAlias string) (Result, error) {
	start := time.Now()
	next, err := s.q.AddSelectColumn(ref, fieldAlias)
	if errors.Is(err, query.ErrDuplicateField) {
		return s.noop("add_select_column", start), nil
	}
	if err != nil {
		s.reject("add_select_column", err, start)
		return Result{}, err
	}
	return s.commit("add_select_column", next, start)
}

// RemoveSelectField drops a select field by id and closes the gap in field order.
func (s *Session) RemoveSelectField(id string) (Result, error) {
	return s.mutate("remove_select_field", func(q query.Query) (query.Query, error) {
		return q.RemoveSelectField(id)
	})
}

// SetFieldAlias sets the output alias of a field; an empty alias clears it.
func (s *Session) SetFieldAlias(id, fieldAlias string) (Result, error) {
	return s.mutate("set_field_alias", func(q query.Query) (query.Query, error) {
		return q.SetFieldAlias(id, fieldAlias)
	})
}

// ReorderSelectFields assigns field order from ids, which must name every field once.
func (s *Session) ReorderSelectFields(ids []string) (Result, error) {
	return s.mutate("reorder_select_fields", func(q query.Query) (query.Query, error) {
		return q.ReorderSelectFields(ids)
	})
}

// AddExpressionField selects a raw SQL expression, emitted verbatim.
func (s *Session) AddExpressionField(expression, fieldAlias string) (Result, error) {
	return s.mutate("add_expression_field", func(q query.Query) (query.Query, error) {
		return q.AddExpressionField(expression, fieldAlias)
	})
}

// AddAggregateField selects an aggregate over source, or over every row when
// source is nil.
func (s *Session) AddAggregateField(fn query.AggregateFunc, source *query.ColumnRef, distinct bool, fieldAlias string) (Result, error) {
	return s.mutate("add_aggregate_field", func(q query.Query) (query.Query, error) {
		return q.AddAggregateField(fn, source, distinct, fieldAlias)
	})
}

// AddSubqueryField selects a scalar subquery, which may correlate with the
// enclosing query.
func (s *Session) AddSubqueryField(sub query.Query, fieldAlias string) (Result, error) {
	return s.mutate("add_subquery_field", func(q query.Query) (query.Query, error) {
		return q.AddSubqueryField(sub, fieldAlias)
	})
}

// SetDistinct toggles SELECT DISTINCT.
func (s *Session) SetDistinct(distinct bool) (Result, error) {
	return s.mutate("set_distinct", func(q query.Query) (query.Query, error) {
		if !q.From.IsSet() {
			return q, query.ErrNoBaseTable
		}
		return q.SetDistinct(distinct), nil
	})
}

// SetLimit sets row count and offset.
func (s *Session) SetLimit(count, offset int) (Result, error) {
	return s.mutate("set_limit", func(q query.Query) (query.Query, error) {
		if !q.From.IsSet() {
			return q, query.ErrNoBaseTable
		}
		return q.SetLimit(count, offset)
	})
}

// ClearLimit removes pagination.
func (s *Session) ClearLimit() (Result, error) {
	return s.mutate("clear_limit", func(q query.Query) (query.Query, error) {
		return q.ClearLimit(), nil
	})
}

// AddJoin joins targetTable on a single column equality with sourceAlias.
func (s *Session) AddJoin(joinType query.JoinType, sourceAlias, targetTable, sourceColumn, targetColumn string) (Result, error) {
	return s.mutate("add_join", func(q query.Query) (query.Query, error) {
		return q.AddJoin(joinType, sourceAlias, targetTable, sourceColumn, targetColumn)
	})
}

// AddManualJoin adds a fully specified join, including derived tables and
// custom ON conditions.
func (s *Session) AddManualJoin(j query.Join) (Result, error) {
	return s.mutate("add_manual_join", func(q query.Query) (query.Query, error) {
		return q.AddManualJoin(j)
	})
}

// UpdateJoin changes the type or conditions of an existing join.
func (s *Session) UpdateJoin(id string, u query.JoinUpdate) (Result, error) {
	return s.mutate("update_join", func(q query.Query) (query.Query, error) {
		return q.UpdateJoin(id, u)
	})
}

// RemoveJoin drops the join, any join chained from it, and every field,
// condition, grouping and ordering that referenced the dropped aliases.
func (s *Session) RemoveJoin(id string) (Result, error) {
	return s.mutate("remove_join", func(q query.Query) (query.Query, error) {
		return q.RemoveJoin(id)
	})
}

// AddWhereCondition appends a WHERE condition.
func (s *Session) AddWhereCondition(c query.Condition) (Result, error) {
	return s.mutate("add_where_condition", func(q query.Query) (query.Query, error) {
		return q.AddWhereCondition(c)
	})
}

// UpdateWhereCondition replaces the condition with the same id, keeping its order.
func (s *Session) UpdateWhereCondition(c query.Condition) (Result, error) {
	return s.mutate("update_where_condition", func(q query.Query) (query.Query, error) {
		return q.UpdateWhereCondition(c)
	})
}

// RemoveWhereCondition drops a WHERE condition by id.
func (s *Session) RemoveWhereCondition(id string) (Result, error) {
	return s.mutate("remove_where_condition", func(q query.Query) (query.Query, error) {
		return q.RemoveWhereCondition(id)
	})
}

// ReorderWhereConditions assigns condition order from ids.
func (s *Session) ReorderWhereConditions(ids []string) (Result, error) {
	return s.mutate("reorder_where_conditions", func(q query.Query) (query.Query, error) {
		return q.ReorderWhereConditions(ids)
	})
}

// AddGroupBy appends a GROUP BY column.
func (s *Session) AddGroupBy(ref query.ColumnRef) (Result, error) {
	return s.mutate("add_group_by", func(q query.Query) (query.Query, error) {
		return q.AddGroupBy(ref)
	})
}

// RemoveGroupBy drops a GROUP BY entry by id.
func (s *Session) RemoveGroupBy(id string) (Result, error) {
	return s.mutate("remove_group_by", func(q query.Query) (query.Query, error) {
		return q.RemoveGroupBy(id)
	})
}

// ReorderGroupBy assigns GROUP BY order from ids.
func (s *Session) ReorderGroupBy(ids []string) (Result, error) {
	return s.mutate("reorder_group_by", func(q query.Query) (query.Query, error) {
		return q.ReorderGroupBy(ids)
	})
}

// AddOrderBy appends an ORDER BY entry.
func (s *Session) AddOrderBy(ref query.ColumnRef, dir query.Direction) (Result, error) {
	return s.mutate("add_order_by", func(q query.Query) (query.Query, error) {
		return q.AddOrderBy(ref, dir)
	})
}

// UpdateOrderByDirection flips an ORDER BY entry between ASC and DESC.
func (s *Session) UpdateOrderByDirection(id string, dir query.Direction) (Result, error) {
	return s.mutate("update_order_by", func(q query.Query) (query.Query, error) {
		return q.UpdateOrderByDirection(id, dir)
	})
}

// RemoveOrderBy drops an ORDER BY entry by id.
func (s *Session) RemoveOrderBy(id string) (Result, error) {
	return s.mutate("remove_order_by", func(q query.Query) (query.Query, error) {
		return q.RemoveOrderBy(id)
	})
}

// ReorderOrderBy assigns ORDER BY order from ids.
func (s *Session) ReorderOrderBy(ids []string) (Result, error) {
	return s.mutate("reorder_order_by", func(q query.Query) (query.Query, error) {
		return q.ReorderOrderBy(ids)
	})
}

// AddCTE adds a named common table expression ahead of the main query.
func (s *Session) AddCTE(name string, sub query.Query, columns []string, recursive bool) (Result, error) {
	return s.mutate("add_cte", func(q query.Query) (query.Query, error) {
		return q.AddCTE(name, sub, columns, recursive)
	})
}

// UpdateCTE replaces the CTE with the same id.
func (s *Session) UpdateCTE(c query.CTE) (Result, error) {
	return s.mutate("update_cte", func(q query.Query) (query.Query, error) {
		return q.UpdateCTE(c)
	})
}

// RemoveCTE drops a CTE by id.
func (s *Session) RemoveCTE(id string) (Result, error) {
	return s.mutate("remove_cte", func(q query.Query) (query.Query, error) {
		return q.RemoveCTE(id)
	})
}
