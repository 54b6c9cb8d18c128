// Package sqlgen renders query ASTs as dialect-specific SQL text.
package sqlgen

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"querycanvas/internal/query"
	"querycanvas/internal/sqlutil"
)

const indentUnit = "  "

// numericLiteral excludes leading zeros so codes like '007' stay strings.
var numericLiteral = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][-+]?\d+)?$`)

// Generate renders q for dialect d. Pretty output puts each clause on its own
// line with list items indented; compact output is a single line. A query
// without a base source renders as the empty string. A nil dialect means MySQL.
func Generate(q query.Query, d *Dialect, pretty bool) string {
	if d == nil {
		d = MySQL
	}
	if !q.From.IsSet() {
		return ""
	}
	g := &generator{d: d, pretty: pretty}
	return g.statement(q, false).String()
}

type generator struct {
	d      *Dialect
	pretty bool
}

// text is rendered SQL split at structural line breaks. Newlines inside a
// literal or raw expression stay inside their line and are never indented.
type text []string

func str(s string) text { return text{s} }

func (t text) String() string { return strings.Join(t, "\n") }

// cat joins fragments on one line: the last line of each part continues with
// the first line of the next.
func cat(parts ...text) text {
	var out text
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		if len(out) == 0 {
			out = append(out, p...)
			continue
		}
		out[len(out)-1] += p[0]
		out = append(out, p[1:]...)
	}
	return out
}

func indent(t text) text {
	out := make(text, len(t))
	for i, line := range t {
		out[i] = indentUnit + line
	}
	return out
}

// clause is one SQL clause. List clauses render each item on its own indented
// line in pretty mode; other clauses keep their single item beside the keyword.
type clause struct {
	keyword string
	items   []text
	sep     string
	list    bool
}

func (g *generator) statement(q query.Query, nested bool) text {
	if !q.From.IsSet() {
		return nil
	}
	var clauses []clause

	if len(q.CTEs) > 0 {
		clauses = append(clauses, g.with(q.CTEs))
	}
	clauses = append(clauses, g.selectClause(q))
	clauses = append(clauses, clause{keyword: "FROM", items: []text{g.from(q.From)}})
	for _, j := range q.Joins {
		clauses = append(clauses, g.join(j))
	}
	if len(q.Where) > 0 {
		clauses = append(clauses, g.where(q.Where))
	}
	if len(q.GroupBy) > 0 {
		clauses = append(clauses, g.groupBy(q.GroupBy))
	}
	if len(q.OrderBy) > 0 {
		clauses = append(clauses, g.orderBy(q.OrderBy))
	}
	switch {
	case q.Limit != nil:
		clauses = append(clauses, g.limit(*q.Limit, len(q.OrderBy) > 0)...)
	case nested && len(q.OrderBy) > 0 && g.d.OffsetFetch:
		// nested ORDER BY is only valid alongside OFFSET
		clauses = append(clauses, clause{keyword: "OFFSET", items: []text{str("0 ROWS")}})
	}
	return g.render(clauses)
}

func (g *generator) render(clauses []clause) text {
	var out text
	for _, c := range clauses {
		rendered := g.renderClause(c)
		if g.pretty || len(out) == 0 {
			out = append(out, rendered...)
			continue
		}
		out = cat(out, str(" "), rendered)
	}
	return out
}

func (g *generator) renderClause(c clause) text {
	if !g.pretty || !c.list {
		parts := []text{str(c.keyword + " ")}
		for i, item := range c.items {
			if i > 0 {
				parts = append(parts, str(c.sep))
			}
			parts = append(parts, item)
		}
		return cat(parts...)
	}
	out := text{c.keyword}
	sep := strings.TrimRight(c.sep, " ")
	for i, item := range c.items {
		if i < len(c.items)-1 && sep != "" {
			item = cat(item, str(sep))
		}
		out = append(out, indent(item)...)
	}
	return out
}

// sub renders a nested query in parentheses.
func (g *generator) sub(q *query.Query) text {
	if q == nil {
		return str("(SELECT NULL)")
	}
	inner := g.statement(*q, true)
	if len(inner) == 0 {
		inner = str("SELECT NULL")
	}
	if g.pretty {
		out := text{"("}
		out = append(out, indent(inner)...)
		return append(out, ")")
	}
	return cat(str("("), inner, str(")"))
}

func (g *generator) with(ctes []query.CTE) clause {
	keyword := "WITH"
	items := make([]text, 0, len(ctes))
	for _, c := range ctes {
		if c.Recursive && g.d.RecursiveKeyword {
			keyword = "WITH RECURSIVE"
		}
		name := g.d.QuoteIdent(c.Name)
		if len(c.Columns) > 0 {
			cols := make([]string, len(c.Columns))
			for i, col := range c.Columns {
				cols[i] = g.d.QuoteIdent(col)
			}
			name += " (" + strings.Join(cols, ", ") + ")"
		}
		items = append(items, cat(str(name+" AS "), g.sub(c.Query)))
	}
	return clause{keyword: keyword, items: items, sep: ", ", list: true}
}

func (g *generator) selectClause(q query.Query) clause {
	keyword := "SELECT"
	if q.Distinct {
		keyword = "SELECT DISTINCT"
	}
	fields := append([]query.SelectField(nil), q.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].FieldOrder() < fields[j].FieldOrder() })

	items := make([]text, 0, len(fields))
	for _, f := range fields {
		items = append(items, g.field(f))
	}
	if len(items) == 0 {
		items = append(items, str("*"))
	}
	return clause{keyword: keyword, items: items, sep: ", ", list: true}
}

func (g *generator) field(f query.SelectField) text {
	var expr text
	switch v := f.(type) {
	case query.ColumnField:
		expr = str(g.ref(v.Ref))
	case query.ExpressionField:
		expr = str(v.Expression)
	case query.AggregateField:
		expr = str(g.aggregate(v))
	case query.SubqueryField:
		expr = g.sub(v.Query)
	default:
		expr = str("NULL")
	}
	return cat(expr, str(g.as(f.FieldAlias())))
}

func (g *generator) aggregate(a query.AggregateField) string {
	arg := "*"
	if a.Source != nil {
		arg = g.ref(*a.Source)
		if a.Distinct {
			arg = "DISTINCT " + arg
		}
	}
	return strings.ToUpper(string(a.Func)) + "(" + arg + ")"
}

func (g *generator) as(alias string) string {
	if alias == "" {
		return ""
	}
	return " AS " + g.d.QuoteIdent(alias)
}

func (g *generator) ref(r query.ColumnRef) string {
	column := g.d.QuoteIdent(r.Column)
	switch {
	case r.Alias != "":
		return g.d.QuoteIdent(r.Alias) + "." + column
	case r.Table != "":
		return g.d.QuoteQualified(r.Table) + "." + column
	}
	return column
}

func (g *generator) source(table string, subquery *query.Query, alias string) text {
	if subquery != nil {
		return cat(g.sub(subquery), str(g.as(alias)))
	}
	return str(g.d.QuoteQualified(table) + g.as(alias))
}

func (g *generator) from(f query.From) text {
	return g.source(f.Table, f.Subquery, f.Alias)
}

func (g *generator) joinKeyword(t query.JoinType) string {
	switch t {
	case query.JoinInner:
		return "INNER JOIN"
	case query.JoinRight:
		return "RIGHT JOIN"
	case query.JoinFull:
		return g.d.FullJoin
	}
	return "LEFT JOIN"
}

func (g *generator) join(j query.Join) clause {
	on := strings.TrimSpace(j.CustomCondition)
	if on == "" {
		conds := make([]string, 0, len(j.Conditions))
		for _, c := range j.Conditions {
			left := query.ColumnRef{Alias: j.SourceAlias, Column: c.SourceColumn}
			right := query.ColumnRef{Alias: j.Target.Alias, Column: c.TargetColumn}
			conds = append(conds, g.ref(left)+" = "+g.ref(right))
		}
		on = strings.Join(conds, " AND ")
	}
	if on == "" {
		on = "1 = 1"
	}
	target := g.source(j.Target.Table, j.Target.Subquery, j.Target.Alias)
	return clause{keyword: g.joinKeyword(j.Type), items: []text{cat(target, str(" ON "+on))}}
}

func (g *generator) where(conds []query.Condition) clause {
	sorted := append([]query.Condition(nil), conds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	items := make([]text, 0, len(sorted))
	for i, c := range sorted {
		cond := g.condition(c)
		if i > 0 {
			logic := query.And
			if c.Logic == query.Or {
				logic = query.Or
			}
			cond = cat(str(string(logic)+" "), cond)
		}
		items = append(items, cond)
	}
	return clause{keyword: "WHERE", items: items, sep: " ", list: true}
}

func (g *generator) condition(c query.Condition) text {
	op := string(c.Operator)
	left := "NULL"
	if c.Ref != nil {
		left = g.ref(*c.Ref)
	}

	switch o := c.Operand.(type) {
	case query.SubqueryOperand:
		if c.Operator.Shape() == query.ShapeExists {
			return cat(str(op+" "), g.sub(o.Query))
		}
		return cat(str(left+" "+op+" "), g.sub(o.Query))
	case query.ListOperand:
		if c.Operator.Shape() == query.ShapeRange && len(o.Values) == 2 {
			return str(left + " " + op + " " + g.value(o.Values[0]) + " AND " + g.value(o.Values[1]))
		}
		values := make([]string, len(o.Values))
		for i, v := range o.Values {
			values[i] = g.value(v)
		}
		if len(values) == 0 {
			values = append(values, "NULL")
		}
		return str(left + " " + op + " (" + strings.Join(values, ", ") + ")")
	case query.RangeOperand:
		return str(left + " " + op + " " + g.value(o.Low) + " AND " + g.value(o.High))
	case query.ScalarOperand:
		return str(left + " " + op + " " + g.value(o.Value))
	}
	return str(left + " " + op)
}

func (g *generator) value(v query.Value) string {
	switch v.Kind {
	case query.ValueRaw:
		return v.Text
	case query.ValueColumn:
		if v.Ref == nil {
			return "NULL"
		}
		return g.ref(*v.Ref)
	}
	return g.literal(v.Text)
}

// literal renders numbers, booleans and NULL bare and quotes everything else.
func (g *generator) literal(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToUpper(trimmed) {
	case "NULL":
		return "NULL"
	case "TRUE":
		if g.d.BooleanLiterals {
			return "TRUE"
		}
		return "1"
	case "FALSE":
		if g.d.BooleanLiterals {
			return "FALSE"
		}
		return "0"
	}
	if numericLiteral.MatchString(trimmed) {
		return trimmed
	}
	return sqlutil.QuoteString(raw)
}

func (g *generator) groupBy(groups []query.GroupByField) clause {
	sorted := append([]query.GroupByField(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	items := make([]text, len(sorted))
	for i, gb := range sorted {
		items[i] = str(g.ref(gb.Ref))
	}
	return clause{keyword: "GROUP BY", items: items, sep: ", ", list: true}
}

func (g *generator) orderBy(orders []query.OrderByField) clause {
	sorted := append([]query.OrderByField(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	items := make([]text, len(sorted))
	for i, o := range sorted {
		dir := query.Asc
		if o.Direction == query.Desc {
			dir = query.Desc
		}
		items[i] = str(g.ref(o.Ref) + " " + string(dir))
	}
	return clause{keyword: "ORDER BY", items: items, sep: ", ", list: true}
}

func (g *generator) limit(l query.Limit, ordered bool) []clause {
	if g.d.OffsetFetch {
		var out []clause
		if !ordered {
			// OFFSET/FETCH requires an ORDER BY
			out = append(out, clause{keyword: "ORDER BY", items: []text{str("(SELECT NULL)")}})
		}
		return append(out, clause{
			keyword: "OFFSET",
			items:   []text{str(fmt.Sprintf("%d ROWS FETCH NEXT %d ROWS ONLY", l.Offset, l.Count))},
		})
	}
	item := fmt.Sprintf("%d", l.Count)
	if l.Offset > 0 {
		item += fmt.Sprintf(" OFFSET %d", l.Offset)
	}
	return []clause{{keyword: "LIMIT", items: []text{str(item)}}}
}
