package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycanvas/internal/query"
)

func applyJSON(t *testing.T, s *Session, raw string) (Result, error) {
	t.Helper()
	cmd, err := ParseCommand([]byte(raw))
	require.NoError(t, err)
	return s.Apply(cmd)
}

func TestApply_CommandSequence(t *testing.T) {
	s := New(shopGraph(t))

	commands := []string{
		`{"op": "add_column", "table": "customers", "column": "name"}`,
		`{"op": "add_column", "table": "orders", "column": "total"}`,
		`{"op": "add_where_condition", "condition": {
			"ref": {"alias": "ord", "column": "total"},
			"operator": ">",
			"operand": {"kind": "scalar", "value": {"kind": "literal", "text": "100"}}
		}}`,
		`{"op": "add_order_by", "ref": {"alias": "cus", "column": "name"}, "direction": "asc"}`,
		`{"op": "set_limit", "count": 20}`,
	}
	for _, raw := range commands {
		res, err := applyJSON(t, s, raw)
		require.NoError(t, err, raw)
		require.True(t, res.Applied, raw)
	}

	assert.Equal(t,
		"SELECT cus.name, ord.total FROM customers AS cus LEFT JOIN orders AS ord ON cus.id = ord.customer_id "+
			"WHERE ord.total > 100 ORDER BY cus.name ASC LIMIT 20",
		s.SQL())

	res, err := applyJSON(t, s, `{"op": "set_dialect", "dialect": "mssql"}`)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Contains(t, s.SQL(), "OFFSET 0 ROWS FETCH NEXT 20 ROWS ONLY")
}

func TestApply_ExistsSubqueryCondition(t *testing.T) {
	s := New(shopGraph(t))
	applied(t)(s.AddColumn("customers", "name"))

	_, err := applyJSON(t, s, `{"op": "add_where_condition", "condition": {
		"operator": "EXISTS",
		"operand": {"kind": "subquery", "query": {
			"from": {"table": "orders", "alias": "o"},
			"fields": [{"kind": "expression", "id": "f1", "order": 0, "expression": "1"}],
			"where": [{"id": "w1", "order": 0, "logic": "AND", "operator": "=",
				"ref": {"table": "orders", "alias": "o", "column": "customer_id"},
				"operand": {"kind": "scalar", "value": {"kind": "column", "ref": {"alias": "cus", "column": "id"}}}}]
		}}
	}}`)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT cus.name FROM customers AS cus WHERE EXISTS (SELECT 1 FROM orders AS o WHERE o.customer_id = cus.id)",
		s.SQL())
}

func TestApply_AmbiguityRoundTrip(t *testing.T) {
	s := New(shopGraph(t))
	applied(t)(s.AddColumn("orders", "id"))

	res, err := applyJSON(t, s, `{"op": "add_column", "table": "addresses", "column": "city"}`)
	require.NoError(t, err)
	require.NotNil(t, res.Signal)

	res, err = applyJSON(t, s, `{"op": "add_column_via", "table": "addresses", "column": "city",
		"relationships": ["`+res.Signal.Candidates[1].RelationshipID+`"]}`)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Contains(t, s.SQL(), "ON ord.shipping_address_id = add2.id")
}

func TestApply_Errors(t *testing.T) {
	s := New(shopGraph(t))

	_, err := ParseCommand([]byte(`{"op": "add_column", "tabel": "customers"}`))
	assert.Error(t, err)
	_, err = ParseCommand([]byte(`{"table": "customers"}`))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = s.Apply(Command{Op: "drop_database"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = s.Apply(Command{Op: "add_group_by"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = s.Apply(Command{Op: "set_dialect", Dialect: "oracle"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = s.Apply(Command{Op: "set_pretty"})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = s.Apply(Command{Op: "set_limit", Count: 5})
	assert.ErrorIs(t, err, query.ErrNoBaseTable)
}

func TestApply_LoadAndReset(t *testing.T) {
	s := New(shopGraph(t))
	applied(t)(s.AddColumn("customers", "name"))
	saved, err := s.Save()
	require.NoError(t, err)

	res, err := s.Apply(Command{Op: "reset"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "", s.SQL())

	_, err = applyJSON(t, s, `{"op": "load", "query": `+string(saved)+`}`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT cus.name FROM customers AS cus", s.SQL())

	pretty := true
	_, err = s.Apply(Command{Op: "set_pretty", Pretty: &pretty})
	require.NoError(t, err)
	assert.Equal(t, "SELECT\n  cus.name\nFROM customers AS cus", s.SQL())
}
