package schemagraph

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// DefaultLabel humanizes a table id for display.
// Example: "sales.customer_orders" -> "Customer Orders"
func DefaultLabel(tableID string) string {
	return humanize(simpleName(tableID))
}

// EntityName returns the singular display name for one row of a table.
// Example: "sales.customer_orders" -> "Customer Order"
func EntityName(tableID string) string {
	words := splitWords(simpleName(tableID))
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return titleWords(words)
}

// DescribeRelationship renders a relationship for disambiguation prompts, oriented
// from the given source table.
// Example: "Order.billing_customer_id -> Customer.id"
func DescribeRelationship(rel Relationship, sourceTable string) string {
	fromTable, fromColumn, toTable, toColumn := rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn
	if rel.FromTable != sourceTable && rel.ToTable == sourceTable {
		fromTable, fromColumn, toTable, toColumn = toTable, toColumn, fromTable, fromColumn
	}
	return EntityName(fromTable) + "." + fromColumn + " -> " + EntityName(toTable) + "." + toColumn
}

func simpleName(tableID string) string {
	name := tableID
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.Trim(name, "`[]\" ")
}

func humanize(name string) string {
	return titleWords(splitWords(name))
}

func splitWords(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
}

func titleWords(words []string) string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, strings.ToUpper(w[:1])+strings.ToLower(w[1:]))
	}
	return strings.Join(out, " ")
}
