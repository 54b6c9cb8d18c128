// Package query defines the in-memory AST of a single SELECT statement and the
// structural operations that edit it. Operations never mutate their receiver;
// each returns an edited deep copy that still satisfies Validate.
package query

import "strings"

// JoinType is the SQL join flavor.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
)

// Valid reports whether t is a known join type.
func (t JoinType) Valid() bool {
	switch t {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return true
	}
	return false
}

// ParseJoinType parses a case-insensitive join type name.
func ParseJoinType(s string) (JoinType, bool) {
	t := JoinType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Logic joins a WHERE condition to the one before it.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

// AggregateFunc is one of the supported aggregate functions.
type AggregateFunc string

const (
	Count AggregateFunc = "COUNT"
	Sum   AggregateFunc = "SUM"
	Avg   AggregateFunc = "AVG"
	Min   AggregateFunc = "MIN"
	Max   AggregateFunc = "MAX"
)

// Valid reports whether f is a supported aggregate.
func (f AggregateFunc) Valid() bool {
	switch f {
	case Count, Sum, Avg, Min, Max:
		return true
	}
	return false
}

// ColumnRef names a column of an in-scope table instance.
type ColumnRef struct {
	Table  string `json:"table,omitempty"` // table id
	Alias  string `json:"alias,omitempty"` // in-scope alias rendered by the generator
	Column string `json:"column"`
}

// Query is one SELECT statement. The zero value is an empty query with no base table.
type Query struct {
	From     From
	Distinct bool
	Fields   []SelectField
	Joins    []Join
	Where    []Condition
	GroupBy  []GroupByField
	OrderBy  []OrderByField
	Limit    *Limit
	CTEs     []CTE
}

// From is the base row source: a table or a subquery, each under an alias.
type From struct {
	Table    string `json:"table,omitempty"`
	Subquery *Query `json:"subquery,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

// IsSet reports whether a base source has been chosen.
func (f From) IsSet() bool {
	return f.Table != "" || f.Subquery != nil
}

// FieldKind discriminates SelectField variants.
type FieldKind string

const (
	FieldColumn     FieldKind = "column"
	FieldExpression FieldKind = "expression"
	FieldAggregate  FieldKind = "aggregate"
	FieldSubquery   FieldKind = "subquery"
)

// SelectField is one item of the SELECT list. Implementations are
// ColumnField, ExpressionField, AggregateField and SubqueryField.
type SelectField interface {
	Kind() FieldKind
	FieldID() string
	FieldAlias() string
	FieldOrder() int

	withOrder(order int) SelectField
	withAlias(alias string) SelectField
	clone() SelectField
}

// ColumnField selects a single column.
type ColumnField struct {
	ID    string
	Ref   ColumnRef
	Alias string
	Order int
}

func (f ColumnField) Kind() FieldKind { return FieldColumn }
func (f ColumnField) FieldID() string { return f.ID }
func (f ColumnField) FieldAlias() string { return f.Alias }
func (f ColumnField) FieldOrder() int { return f.Order }
func (f ColumnField) withOrder(order int) SelectField { f.Order = order; return f }
func (f ColumnField) withAlias(alias string) SelectField { f.Alias = alias; return f }
func (f ColumnField) clone() SelectField { return f }

// ExpressionField selects raw expression text, emitted verbatim.
type ExpressionField struct {
	ID         string
	Expression string
	Alias      string
	Order      int
}

func (f ExpressionField) Kind() FieldKind { return FieldExpression }
func (f ExpressionField) FieldID() string { return f.ID }
func (f ExpressionField) FieldAlias() string { return f.Alias }
func (f ExpressionField) FieldOrder() int { return f.Order }
func (f ExpressionField) withOrder(order int) SelectField { f.Order = order; return f }
func (f ExpressionField) withAlias(alias string) SelectField { f.Alias = alias; return f }
func (f ExpressionField) clone() SelectField { return f }

// AggregateField applies an aggregate to a column, or to * when Source is nil.
type AggregateField struct {
	ID       string
	Func     AggregateFunc
	Source   *ColumnRef
	Distinct bool
	Alias    string
	Order    int
}

func (f AggregateField) Kind() FieldKind { return FieldAggregate }
func (f AggregateField) FieldID() string { return f.ID }
func (f AggregateField) FieldAlias() string { return f.Alias }
func (f AggregateField) FieldOrder() int { return f.Order }
func (f AggregateField) withOrder(order int) SelectField { f.Order = order; return f }
func (f AggregateField) withAlias(alias string) SelectField { f.Alias = alias; return f }
func (f AggregateField) clone() SelectField {
	if f.Source != nil {
		src := *f.Source
		f.Source = &src
	}
	return f
}

// SubqueryField selects a scalar subquery under an alias.
type SubqueryField struct {
	ID    string
	Query *Query
	Alias string
	Order int
}

func (f SubqueryField) Kind() FieldKind { return FieldSubquery }
func (f SubqueryField) FieldID() string { return f.ID }
func (f SubqueryField) FieldAlias() string { return f.Alias }
func (f SubqueryField) FieldOrder() int { return f.Order }
func (f SubqueryField) withOrder(order int) SelectField { f.Order = order; return f }
func (f SubqueryField) withAlias(alias string) SelectField { f.Alias = alias; return f }
func (f SubqueryField) clone() SelectField {
	f.Query = f.Query.clonePtr()
	return f
}

// JoinCondition is one equality source.SourceColumn = target.TargetColumn.
type JoinCondition struct {
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
}

// JoinTarget is the joined row source. Exactly one of Table and Subquery is set.
type JoinTarget struct {
	Table    string `json:"table,omitempty"`
	Subquery *Query `json:"subquery,omitempty"`
	Alias    string `json:"alias"`
}

// Join attaches a row source to an alias already in scope.
type Join struct {
	ID              string          `json:"id"`
	Type            JoinType        `json:"type"`
	SourceTable     string          `json:"source_table"`
	SourceAlias     string          `json:"source_alias"`
	Target          JoinTarget      `json:"target"`
	Conditions      []JoinCondition `json:"conditions,omitempty"`
	CustomCondition string          `json:"custom_condition,omitempty"` // replaces Conditions verbatim
}

func (j Join) clone() Join {
	j.Conditions = append([]JoinCondition(nil), j.Conditions...)
	j.Target.Subquery = j.Target.Subquery.clonePtr()
	return j
}

// Operator is a WHERE comparison operator.
type Operator string

const (
	OpEq         Operator = "="
	OpNotEq      Operator = "!="
	OpNotEqANSI  Operator = "<>"
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
	OpExists     Operator = "EXISTS"
	OpNotExists  Operator = "NOT EXISTS"
)

// OperandShape groups operators by the payload they accept.
type OperandShape int

const (
	ShapeUnknown OperandShape = iota
	ShapeScalar
	ShapeSet   // list or subquery
	ShapeRange // two bounds
	ShapeNone
	ShapeExists
)

// Shape returns the operand shape op requires.
func (op Operator) Shape() OperandShape {
	switch op {
	case OpEq, OpNotEq, OpNotEqANSI, OpGt, OpGte, OpLt, OpLte, OpLike, OpNotLike:
		return ShapeScalar
	case OpIn, OpNotIn:
		return ShapeSet
	case OpBetween, OpNotBetween:
		return ShapeRange
	case OpIsNull, OpIsNotNull:
		return ShapeNone
	case OpExists, OpNotExists:
		return ShapeExists
	}
	return ShapeUnknown
}

// ParseOperator normalizes case and spacing of an operator name.
func ParseOperator(s string) (Operator, bool) {
	op := Operator(strings.Join(strings.Fields(strings.ToUpper(s)), " "))
	return op, op.Shape() != ShapeUnknown
}

// ValueKind discriminates how a Value renders.
type ValueKind string

const (
	ValueLiteral ValueKind = "literal" // quoted unless numeric, boolean or NULL
	ValueRaw     ValueKind = "raw"     // emitted verbatim
	ValueColumn  ValueKind = "column"  // a column reference, possibly to an enclosing scope
)

// Value is a right-hand side operand element.
type Value struct {
	Kind ValueKind  `json:"kind"`
	Text string     `json:"text,omitempty"`
	Ref  *ColumnRef `json:"ref,omitempty"`
}

// Literal returns a literal value.
func Literal(text string) Value { return Value{Kind: ValueLiteral, Text: text} }

// Raw returns a value emitted verbatim.
func Raw(text string) Value { return Value{Kind: ValueRaw, Text: text} }

// Col returns a column-reference value.
func Col(alias, column string) Value {
	return Value{Kind: ValueColumn, Ref: &ColumnRef{Alias: alias, Column: column}}
}

func (v Value) clone() Value {
	if v.Ref != nil {
		ref := *v.Ref
		v.Ref = &ref
	}
	return v
}

// Operand is the payload of a Condition. Implementations are NoOperand,
// ScalarOperand, ListOperand, RangeOperand and SubqueryOperand.
type Operand interface {
	operandKind() string
	cloneOperand() Operand
}

// NoOperand is the payload of IS NULL and IS NOT NULL.
type NoOperand struct{}

// ScalarOperand is a single comparison value.
type ScalarOperand struct {
	Value Value
}

// ListOperand is a literal value list for IN and NOT IN (or a two-element BETWEEN).
type ListOperand struct {
	Values []Value
}

// RangeOperand holds BETWEEN bounds.
type RangeOperand struct {
	Low  Value
	High Value
}

// SubqueryOperand is a nested query for IN, NOT IN, EXISTS and NOT EXISTS.
type SubqueryOperand struct {
	Query *Query
}

func (NoOperand) operandKind() string { return "none" }
func (ScalarOperand) operandKind() string { return "scalar" }
func (ListOperand) operandKind() string { return "list" }
func (RangeOperand) operandKind() string { return "range" }
func (SubqueryOperand) operandKind() string { return "subquery" }

func (o NoOperand) cloneOperand() Operand { return o }
func (o ScalarOperand) cloneOperand() Operand { return ScalarOperand{Value: o.Value.clone()} }
func (o ListOperand) cloneOperand() Operand {
	values := make([]Value, len(o.Values))
	for i, v := range o.Values {
		values[i] = v.clone()
	}
	return ListOperand{Values: values}
}
func (o RangeOperand) cloneOperand() Operand {
	return RangeOperand{Low: o.Low.clone(), High: o.High.clone()}
}
func (o SubqueryOperand) cloneOperand() Operand { return SubqueryOperand{Query: o.Query.clonePtr()} }

// Condition is one WHERE predicate. Ref is nil for EXISTS and NOT EXISTS.
type Condition struct {
	ID       string
	Ref      *ColumnRef
	Operator Operator
	Operand  Operand
	Logic    Logic
	Order    int
}

func (c Condition) clone() Condition {
	if c.Ref != nil {
		ref := *c.Ref
		c.Ref = &ref
	}
	if c.Operand != nil {
		c.Operand = c.Operand.cloneOperand()
	}
	return c
}

// GroupByField is one GROUP BY column.
type GroupByField struct {
	ID    string    `json:"id"`
	Ref   ColumnRef `json:"ref"`
	Order int       `json:"order"`
}

// OrderByField is one ORDER BY column.
type OrderByField struct {
	ID        string    `json:"id"`
	Ref       ColumnRef `json:"ref"`
	Direction Direction `json:"direction"`
	Order     int       `json:"order"`
}

// CTE is a named common table expression.
type CTE struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Query     *Query   `json:"query"`
	Columns   []string `json:"columns,omitempty"`
	Recursive bool     `json:"recursive,omitempty"`
}

func (c CTE) clone() CTE {
	c.Query = c.Query.clonePtr()
	c.Columns = append([]string(nil), c.Columns...)
	return c
}

// Limit is the pagination window. Offset 0 means no offset.
type Limit struct {
	Count  int `json:"count"`
	Offset int `json:"offset,omitempty"`
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	out := q
	out.From.Subquery = q.From.Subquery.clonePtr()
	if q.Fields != nil {
		out.Fields = make([]SelectField, len(q.Fields))
		for i, f := range q.Fields {
			out.Fields[i] = f.clone()
		}
	}
	if q.Joins != nil {
		out.Joins = make([]Join, len(q.Joins))
		for i, j := range q.Joins {
			out.Joins[i] = j.clone()
		}
	}
	if q.Where != nil {
		out.Where = make([]Condition, len(q.Where))
		for i, c := range q.Where {
			out.Where[i] = c.clone()
		}
	}
	out.GroupBy = append([]GroupByField(nil), q.GroupBy...)
	out.OrderBy = append([]OrderByField(nil), q.OrderBy...)
	if q.Limit != nil {
		limit := *q.Limit
		out.Limit = &limit
	}
	if q.CTEs != nil {
		out.CTEs = make([]CTE, len(q.CTEs))
		for i, c := range q.CTEs {
			out.CTEs[i] = c.clone()
		}
	}
	return out
}

func (q *Query) clonePtr() *Query {
	if q == nil {
		return nil
	}
	c := q.Clone()
	return &c
}

// IsEmpty reports whether no base table has been chosen.
func (q Query) IsEmpty() bool {
	return !q.From.IsSet()
}
