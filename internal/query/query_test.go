package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// customersOrders returns customers AS cus LEFT JOIN orders AS ord.
func customersOrders(t *testing.T) Query {
	t.Helper()
	q := New("customers", "")
	q, err := q.AddJoin(JoinLeft, "cus", "orders", "id", "customer_id")
	require.NoError(t, err)
	return q
}

func assertDense(t *testing.T, q Query) {
	t.Helper()
	for i, f := range q.Fields {
		assert.Equal(t, i, f.FieldOrder(), "field %s", f.FieldID())
	}
	for i, c := range q.Where {
		assert.Equal(t, i, c.Order, "condition %s", c.ID)
	}
	for i, g := range q.GroupBy {
		assert.Equal(t, i, g.Order)
	}
	for i, o := range q.OrderBy {
		assert.Equal(t, i, o.Order)
	}
	require.NoError(t, Validate(q))
}

func TestNew_AllocatesAlias(t *testing.T) {
	q := New("sales.customers", "")
	assert.Equal(t, "cus", q.From.Alias)
	assert.False(t, q.IsEmpty())
	assert.True(t, Query{}.IsEmpty())
}

func TestAddSelectColumn_Idempotent(t *testing.T) {
	q := New("customers", "")
	q, err := q.AddSelectColumn(ColumnRef{Table: "customers", Column: "name"}, "")
	require.NoError(t, err)

	again, err := q.AddSelectColumn(ColumnRef{Alias: "cus", Column: "name"}, "")
	assert.ErrorIs(t, err, ErrDuplicateField)
	assert.Len(t, again.Fields, 1)

	field := again.Fields[0].(ColumnField)
	assert.Equal(t, "customers", field.Ref.Table)
	assert.Equal(t, "cus", field.Ref.Alias)
}

func TestAddSelectColumn_Rejections(t *testing.T) {
	_, err := Query{}.AddSelectColumn(ColumnRef{Table: "customers", Column: "name"}, "")
	assert.ErrorIs(t, err, ErrNoBaseTable)

	_, err = New("customers", "").AddSelectColumn(ColumnRef{Table: "orders", Column: "total"}, "")
	assert.ErrorIs(t, err, ErrUnknownAlias)
}

func TestReceiverIsNotMutated(t *testing.T) {
	base := customersOrders(t)
	withField, err := base.AddSelectColumn(ColumnRef{Alias: "ord", Column: "total"}, "")
	require.NoError(t, err)

	assert.Empty(t, base.Fields)
	assert.Len(t, withField.Fields, 1)

	withField.Joins[0].Conditions[0].SourceColumn = "changed"
	assert.Equal(t, "id", base.Joins[0].Conditions[0].SourceColumn)
}

func TestSelectFieldOperations(t *testing.T) {
	q := customersOrders(t)
	var err error
	q, err = q.AddSelectColumn(ColumnRef{Alias: "cus", Column: "name"}, "")
	require.NoError(t, err)
	q, err = q.AddExpressionField("UPPER(cus.name)", "shout")
	require.NoError(t, err)
	q, err = q.AddAggregateField("count", nil, false, "n")
	require.NoError(t, err)
	q, err = q.AddAggregateField(Sum, &ColumnRef{Alias: "ord", Column: "total"}, false, "")
	require.NoError(t, err)
	assertDense(t, q)

	ids := q.fieldIDs()
	assert.Equal(t, []string{"f1", "f2", "f3", "f4"}, ids)

	q, err = q.RemoveSelectField("f2")
	require.NoError(t, err)
	assertDense(t, q)

	q, err = q.ReorderSelectFields([]string{"f4", "f1", "f3"})
	require.NoError(t, err)
	assertDense(t, q)
	assert.Equal(t, []string{"f4", "f1", "f3"}, q.fieldIDs())

	next, err := q.AddExpressionField("1", "")
	require.NoError(t, err)
	assert.Equal(t, "f5", next.Fields[3].FieldID())

	q, err = q.SetFieldAlias("f1", "customer_name")
	require.NoError(t, err)
	f, _ := q.Field("f1")
	assert.Equal(t, "customer_name", f.FieldAlias())

	_, err = q.ReorderSelectFields([]string{"f4", "f1"})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = q.ReorderSelectFields([]string{"f4", "f4", "f1"})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = q.RemoveSelectField("f99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddAggregateField_Rejections(t *testing.T) {
	q := New("orders", "")
	_, err := q.AddAggregateField("MEDIAN", nil, false, "")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = q.AddAggregateField(Sum, nil, false, "")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = q.AddAggregateField(Count, nil, true, "")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestAddManualJoin(t *testing.T) {
	q := New("orders", "")

	q, err := q.AddManualJoin(Join{
		Type:        JoinInner,
		SourceTable: "orders",
		Target:      JoinTarget{Table: "customers"},
		Conditions: []JoinCondition{
			{SourceColumn: "customer_id", TargetColumn: "id"},
			{SourceColumn: "region", TargetColumn: "region"},
		},
	})
	require.NoError(t, err)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, "ord", q.Joins[0].SourceAlias)
	assert.Equal(t, "cus", q.Joins[0].Target.Alias)
	assert.Equal(t, "j1", q.Joins[0].ID)

	_, err = q.AddManualJoin(Join{SourceAlias: "ord", Target: JoinTarget{Table: "customers", Alias: "CUS"}, CustomCondition: "1 = 1"})
	assert.ErrorIs(t, err, ErrDuplicateAlias)

	_, err = q.AddManualJoin(Join{SourceAlias: "ord", Target: JoinTarget{Table: "customers"}})
	assert.ErrorIs(t, err, ErrInvalidJoin)

	sub := New("payments", "p")
	_, err = q.AddManualJoin(Join{SourceAlias: "ord", Target: JoinTarget{Table: "payments", Subquery: &sub, Alias: "x"}, CustomCondition: "1 = 1"})
	assert.ErrorIs(t, err, ErrInvalidJoin)

	q, err = q.AddManualJoin(Join{
		SourceAlias: "ord",
		Target:      JoinTarget{Subquery: &sub, Alias: "pay"},
		Conditions:  []JoinCondition{{SourceColumn: "id", TargetColumn: "order_id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, JoinLeft, q.Joins[1].Type)
	assert.Equal(t, map[string]string{"ord": "orders", "cus": "customers", "pay": ""}, q.AliasMap())
	require.NoError(t, Validate(q))
}

func TestUpdateJoin(t *testing.T) {
	q := customersOrders(t)
	custom := "cus.id = ord.customer_id AND ord.total > 0"

	q, err := q.UpdateJoin("j1", JoinUpdate{Type: "inner", CustomCondition: &custom})
	require.NoError(t, err)
	assert.Equal(t, JoinInner, q.Joins[0].Type)
	assert.Equal(t, custom, q.Joins[0].CustomCondition)

	_, err = q.UpdateJoin("j1", JoinUpdate{Type: "SIDEWAYS"})
	assert.ErrorIs(t, err, ErrInvalidJoin)
	_, err = q.UpdateJoin("nope", JoinUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveJoin_Cascades(t *testing.T) {
	q := customersOrders(t)
	var err error
	q, err = q.AddJoin(JoinLeft, "ord", "order_items", "id", "order_id")
	require.NoError(t, err)
	q, err = q.AddJoin(JoinLeft, "cus", "addresses", "id", "customer_id")
	require.NoError(t, err)

	q, err = q.AddSelectColumn(ColumnRef{Alias: "cus", Column: "name"}, "")
	require.NoError(t, err)
	q, err = q.AddSelectColumn(ColumnRef{Alias: "ord", Column: "total"}, "")
	require.NoError(t, err)
	q, err = q.AddSelectColumn(ColumnRef{Alias: "ord2", Column: "sku"}, "")
	require.NoError(t, err)
	q, err = q.AddSelectColumn(ColumnRef{Alias: "add2", Column: "city"}, "")
	require.NoError(t, err)
	q, err = q.AddWhereCondition(Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: ">", Operand: ScalarOperand{Value: Literal("10")}})
	require.NoError(t, err)
	q, err = q.AddWhereCondition(Condition{Ref: &ColumnRef{Alias: "cus", Column: "vip"}, Operator: "=", Operand: ScalarOperand{Value: Literal("true")}})
	require.NoError(t, err)
	q, err = q.AddOrderBy(ColumnRef{Alias: "ord2", Column: "sku"}, Desc)
	require.NoError(t, err)
	q, err = q.AddGroupBy(ColumnRef{Alias: "cus", Column: "name"})
	require.NoError(t, err)

	q, err = q.RemoveJoin("j1")
	require.NoError(t, err)

	// "add" is skipped as a keyword alias
	assert.Equal(t, []string{"cus", "add2"}, q.Aliases())
	require.Len(t, q.Fields, 2)
	assert.Equal(t, "name", q.Fields[0].(ColumnField).Ref.Column)
	assert.Equal(t, "city", q.Fields[1].(ColumnField).Ref.Column)
	require.Len(t, q.Where, 1)
	assert.Equal(t, "vip", q.Where[0].Ref.Column)
	assert.Empty(t, q.OrderBy)
	assert.Len(t, q.GroupBy, 1)
	assertDense(t, q)
}

func TestRemoveJoin_DropsCorrelatedSubqueries(t *testing.T) {
	q := customersOrders(t)
	sub := New("payments", "p")
	sub, err := sub.AddExpressionField("SUM(p.amount)", "")
	require.NoError(t, err)
	sub, err = sub.AddWhereCondition(Condition{
		Ref:      &ColumnRef{Alias: "p", Column: "order_id"},
		Operator: OpEq,
		Operand:  ScalarOperand{Value: Col("ord", "id")},
	})
	require.NoError(t, err)

	q, err = q.AddSubqueryField(sub, "paid")
	require.NoError(t, err)
	require.NoError(t, Validate(q))

	q, err = q.RemoveJoin("j1")
	require.NoError(t, err)
	assert.Empty(t, q.Fields)
}

func TestRemoveJoin_DropsTextReferences(t *testing.T) {
	q := customersOrders(t)
	var err error
	q, err = q.AddManualJoin(Join{
		Type:            JoinLeft,
		SourceAlias:     "cus",
		Target:          JoinTarget{Table: "addresses", Alias: "adr"},
		CustomCondition: "adr.id = `ord`.shipping_address_id",
	})
	require.NoError(t, err)
	q, err = q.AddManualJoin(Join{
		Type:            JoinLeft,
		SourceAlias:     "cus",
		Target:          JoinTarget{Table: "notes", Alias: "n"},
		CustomCondition: "n.customer_id = cus.id AND n.tag <> 'ord.id'",
	})
	require.NoError(t, err)
	q, err = q.AddExpressionField("ord.total * 2", "double_total")
	require.NoError(t, err)
	q, err = q.AddExpressionField("UPPER(cus.name)", "")
	require.NoError(t, err)
	q, err = q.AddWhereCondition(Condition{Ref: &ColumnRef{Alias: "cus", Column: "id"}, Operator: OpEq, Operand: ScalarOperand{Value: Raw("[ord].customer_id")}})
	require.NoError(t, err)
	q, err = q.AddWhereCondition(Condition{Ref: &ColumnRef{Alias: "cus", Column: "code"}, Operator: OpEq, Operand: ScalarOperand{Value: Raw("word.x")}})
	require.NoError(t, err)

	q, err = q.RemoveJoin("j1")
	require.NoError(t, err)

	assert.Equal(t, []string{"cus", "n"}, q.Aliases())
	require.Len(t, q.Fields, 1)
	assert.Equal(t, "UPPER(cus.name)", q.Fields[0].(ExpressionField).Expression)
	require.Len(t, q.Where, 1)
	assert.Equal(t, "code", q.Where[0].Ref.Column)
	assert.NoError(t, Validate(q))
	assertDense(t, q)
}

func TestMentionsAlias(t *testing.T) {
	removed := map[string]bool{"ord": true}
	tests := []struct {
		sql  string
		want bool
	}{
		{"ord.id = cus.order_id", true},
		{"cus.id = ORD.customer_id", true},
		{"`ord`.id > 0", true},
		{"[ord] . id IS NULL", true},
		{"word.id = 1", false},
		{"sales.ord.id = 1", false},
		{"cus.note = 'ord.id'", false},
		{"cus.note = 'it''s ord.id'", false},
		{"ord = 1", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mentionsAlias(tt.sql, removed), tt.sql)
	}
}

func TestWhereConditions(t *testing.T) {
	q := customersOrders(t)
	tests := []struct {
		name    string
		cond    Condition
		wantErr error
	}{
		{"scalar", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: ">=", Operand: ScalarOperand{Value: Literal("5")}}, nil},
		{"is null", Condition{Ref: &ColumnRef{Table: "customers", Column: "email"}, Operator: "is  null"}, nil},
		{"in list", Condition{Ref: &ColumnRef{Alias: "cus", Column: "tier"}, Operator: "IN", Operand: ListOperand{Values: []Value{Literal("gold"), Literal("silver")}}, Logic: "or"}, nil},
		{"between", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "BETWEEN", Operand: RangeOperand{Low: Literal("1"), High: Literal("9")}}, nil},
		{"between list", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "NOT BETWEEN", Operand: ListOperand{Values: []Value{Literal("1"), Literal("9")}}}, nil},
		{"unknown operator", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "~", Operand: ScalarOperand{Value: Literal("1")}}, ErrInvalidOperator},
		{"empty value", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "=", Operand: ScalarOperand{Value: Literal("")}}, ErrInvalidOperand},
		{"empty list", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "IN", Operand: ListOperand{}}, ErrInvalidOperand},
		{"scalar for in", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "IN", Operand: ScalarOperand{Value: Literal("1")}}, ErrInvalidOperand},
		{"exists with column", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "EXISTS", Operand: SubqueryOperand{Query: &Query{}}}, ErrInvalidOperand},
		{"exists without subquery", Condition{Operator: "EXISTS", Operand: ListOperand{Values: []Value{Literal("1")}}}, ErrInvalidOperand},
		{"missing column", Condition{Operator: "=", Operand: ScalarOperand{Value: Literal("1")}}, ErrInvalidOperand},
		{"unknown alias", Condition{Ref: &ColumnRef{Alias: "zzz", Column: "total"}, Operator: "=", Operand: ScalarOperand{Value: Literal("1")}}, ErrUnknownAlias},
		{"bad logic", Condition{Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "=", Operand: ScalarOperand{Value: Literal("1")}, Logic: "XOR"}, ErrInvalidOperator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := q.AddWhereCondition(tt.cond)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, next.Where)
				return
			}
			require.NoError(t, err)
			require.Len(t, next.Where, 1)
			assertDense(t, next)
		})
	}
}

func TestWhereCondition_UpdateRemoveReorder(t *testing.T) {
	q := customersOrders(t)
	var err error
	for _, col := range []string{"a", "b", "c"} {
		q, err = q.AddWhereCondition(Condition{Ref: &ColumnRef{Alias: "cus", Column: col}, Operator: OpIsNotNull})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"w1", "w2", "w3"}, q.whereIDs())
	assert.Equal(t, NoOperand{}, q.Where[0].Operand)
	assert.Equal(t, And, q.Where[0].Logic)

	q, err = q.UpdateWhereCondition(Condition{ID: "w2", Ref: &ColumnRef{Alias: "ord", Column: "total"}, Operator: "<", Operand: ScalarOperand{Value: Literal("3")}, Logic: Or})
	require.NoError(t, err)
	assert.Equal(t, OpLt, q.Where[1].Operator)
	assert.Equal(t, 1, q.Where[1].Order)

	q, err = q.ReorderWhereConditions([]string{"w3", "w2", "w1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"w3", "w2", "w1"}, q.whereIDs())

	q, err = q.RemoveWhereCondition("w2")
	require.NoError(t, err)
	assertDense(t, q)
	assert.Equal(t, []string{"w3", "w1"}, q.whereIDs())

	_, err = q.UpdateWhereCondition(Condition{ID: "w9", Ref: &ColumnRef{Alias: "cus", Column: "a"}, Operator: OpIsNull})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistsSubqueryCorrelates(t *testing.T) {
	q := New("customers", "")
	sub := New("orders", "o")
	sub, err := sub.AddExpressionField("1", "")
	require.NoError(t, err)
	sub, err = sub.AddWhereCondition(Condition{
		Ref:      &ColumnRef{Alias: "o", Column: "customer_id"},
		Operator: OpEq,
		Operand:  ScalarOperand{Value: Col("cus", "id")},
	})
	require.NoError(t, err)

	// standalone the correlated reference dangles
	assert.ErrorIs(t, Validate(sub), ErrUnknownAlias)

	q, err = q.AddWhereCondition(Condition{Operator: OpExists, Operand: SubqueryOperand{Query: &sub}})
	require.NoError(t, err)
	require.NoError(t, Validate(q))
}

func TestGroupAndOrderBy(t *testing.T) {
	q := customersOrders(t)
	var err error
	q, err = q.AddGroupBy(ColumnRef{Alias: "cus", Column: "name"})
	require.NoError(t, err)
	q, err = q.AddGroupBy(ColumnRef{Alias: "ord", Column: "status"})
	require.NoError(t, err)
	_, err = q.AddGroupBy(ColumnRef{Alias: "CUS", Column: "name"})
	assert.ErrorIs(t, err, ErrDuplicateField)

	q, err = q.ReorderGroupBy([]string{"g2", "g1"})
	require.NoError(t, err)
	assert.Equal(t, "status", q.GroupBy[0].Ref.Column)
	q, err = q.RemoveGroupBy("g1")
	require.NoError(t, err)
	assertDense(t, q)

	q, err = q.AddOrderBy(ColumnRef{Alias: "ord", Column: "total"}, "")
	require.NoError(t, err)
	assert.Equal(t, Asc, q.OrderBy[0].Direction)
	q, err = q.UpdateOrderByDirection("o1", "desc")
	require.NoError(t, err)
	assert.Equal(t, Desc, q.OrderBy[0].Direction)
	_, err = q.AddOrderBy(ColumnRef{Alias: "ord", Column: "id"}, "sideways")
	assert.ErrorIs(t, err, ErrInvalidField)

	q, err = q.AddOrderBy(ColumnRef{Alias: "cus", Column: "name"}, Asc)
	require.NoError(t, err)
	q, err = q.ReorderOrderBy([]string{"o2", "o1"})
	require.NoError(t, err)
	q, err = q.RemoveOrderBy("o2")
	require.NoError(t, err)
	assertDense(t, q)
	_, err = q.RemoveOrderBy("o2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCTEs(t *testing.T) {
	sub := New("orders", "o")
	q := New("recent", "rec")

	q, err := q.AddCTE("recent", sub, []string{"id"}, false)
	require.NoError(t, err)
	_, err = q.AddCTE("RECENT", sub, nil, false)
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = q.AddCTE(" ", sub, nil, false)
	assert.ErrorIs(t, err, ErrInvalidField)

	updated := q.CTEs[0]
	updated.Recursive = true
	q, err = q.UpdateCTE(updated)
	require.NoError(t, err)
	assert.True(t, q.CTEs[0].Recursive)

	q, err = q.RemoveCTE("c1")
	require.NoError(t, err)
	assert.Empty(t, q.CTEs)
}

func TestLimitAndDistinct(t *testing.T) {
	q := New("customers", "")
	q, err := q.SetLimit(10, 20)
	require.NoError(t, err)
	assert.Equal(t, &Limit{Count: 10, Offset: 20}, q.Limit)

	_, err = q.SetLimit(0, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = q.SetLimit(5, -1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	assert.Nil(t, q.ClearLimit().Limit)
	assert.True(t, q.SetDistinct(true).Distinct)
	assert.False(t, q.Distinct)
}
