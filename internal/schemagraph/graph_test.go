package schemagraph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopTables() []Table {
	return []Table{
		{ID: "customers", Columns: []Column{{Name: "id", Type: "int"}, {Name: "name", Type: "varchar"}}},
		{ID: "orders", Columns: []Column{{Name: "id"}, {Name: "customer_id"}, {Name: "total"}}},
		{ID: "sales.order_items", Kind: KindView, Columns: []Column{{Name: "order_id"}, {Name: "sku"}}},
	}
}

func TestNew_ValidGraph(t *testing.T) {
	g, err := New(shopTables(), []Relationship{
		{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"},
		{ID: "items_order", FromTable: "sales.order_items", FromColumn: "order_id", ToTable: "orders", ToColumn: "id"},
	})
	require.NoError(t, err)

	customers, ok := g.Table("customers")
	require.True(t, ok)
	assert.Equal(t, KindTable, customers.Kind)
	assert.Equal(t, "Customers", customers.Label)

	items, ok := g.Table("sales.order_items")
	require.True(t, ok)
	assert.Equal(t, KindView, items.Kind)
	assert.Equal(t, "Order Items", items.Label)

	rel, ok := g.Relationship("orders.customer_id->customers.id")
	require.True(t, ok)
	assert.Equal(t, "customers", rel.ToTable)

	assert.Len(t, g.Incident("orders"), 2)
	assert.Len(t, g.Incident("customers"), 1)
	assert.Empty(t, g.Incident("missing"))
	assert.True(t, g.HasColumn("orders", "total"))
	assert.False(t, g.HasColumn("orders", "nope"))
}

func TestNew_RejectsInvalidEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		rel     Relationship
		wantErr error
	}{
		{
			name:    "unknown table",
			rel:     Relationship{FromTable: "orders", FromColumn: "customer_id", ToTable: "clients", ToColumn: "id"},
			wantErr: ErrUnknownTable,
		},
		{
			name:    "unknown column",
			rel:     Relationship{FromTable: "orders", FromColumn: "client_id", ToTable: "customers", ToColumn: "id"},
			wantErr: ErrUnknownColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(shopTables(), []Relationship{tt.rel})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	tables := append(shopTables(), Table{ID: "customers"})
	_, err := New(tables, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)

	rel := Relationship{ID: "r1", FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"}
	_, err = New(shopTables(), []Relationship{rel, rel})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestIncident_SelfLoopCountedOnce(t *testing.T) {
	g, err := New([]Table{{ID: "employees", Columns: []Column{{Name: "id"}, {Name: "manager_id"}}}}, []Relationship{
		{FromTable: "employees", FromColumn: "manager_id", ToTable: "employees", ToColumn: "id"},
	})
	require.NoError(t, err)
	assert.Len(t, g.Incident("employees"), 1)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Customer Orders", DefaultLabel("sales.customer_orders"))
	assert.Equal(t, "Customer Order", EntityName("sales.customer_orders"))
	assert.Equal(t, "Category", EntityName("categories"))

	rel := Relationship{FromTable: "orders", FromColumn: "billing_customer_id", ToTable: "customers", ToColumn: "id"}
	assert.Equal(t, "Order.billing_customer_id -> Customer.id", DescribeRelationship(rel, "orders"))
	assert.Equal(t, "Customer.id -> Order.billing_customer_id", DescribeRelationship(rel, "customers"))
}

const shopYAML = `
tables:
  - id: customers
    columns:
      - name: id
      - name: name
  - id: orders
    label: Purchase Orders
    columns:
      - name: id
      - name: customer_id
relationships:
  - id: orders_customer
    from_table: orders
    from_column: customer_id
    to_table: customers
    to_column: id
`

func TestLoad_YAML(t *testing.T) {
	g, err := Load(strings.NewReader(shopYAML), FormatYAML)
	require.NoError(t, err)

	orders, ok := g.Table("orders")
	require.True(t, ok)
	assert.Equal(t, "Purchase Orders", orders.Label)
	_, ok = g.Relationship("orders_customer")
	assert.True(t, ok)
}

func TestLoad_JSONRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader(`{"tables":[],"edges":[]}`), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode schema graph json")
}

func TestLoadFile_InfersFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.json")
	raw := `{"tables":[{"id":"customers","columns":[{"name":"id"}]}],"relationships":[]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	g, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, g.Tables(), 1)
	assert.Equal(t, FormatYAML, FormatFromPath("graph.yml"))
}

func TestNilGraphAccessors(t *testing.T) {
	var g *Graph
	_, ok := g.Table("x")
	assert.False(t, ok)
	assert.Nil(t, g.Tables())
	assert.Nil(t, g.Incident("x"))
	assert.NotNil(t, Empty())
}
