package query

import (
	"encoding/json"
	"fmt"
)

// queryJSON is the persisted shape of a Query. Select fields and condition
// operands carry a "kind" discriminator.
type queryJSON struct {
	From     From           `json:"from"`
	Distinct bool           `json:"distinct,omitempty"`
	Fields   []fieldJSON    `json:"fields"`
	Joins    []Join         `json:"joins,omitempty"`
	Where    []Condition    `json:"where,omitempty"`
	GroupBy  []GroupByField `json:"group_by,omitempty"`
	OrderBy  []OrderByField `json:"order_by,omitempty"`
	Limit    *Limit         `json:"limit,omitempty"`
	CTEs     []CTE          `json:"ctes,omitempty"`
}

type fieldJSON struct {
	Kind       FieldKind     `json:"kind"`
	ID         string        `json:"id"`
	Order      int           `json:"order"`
	Alias      string        `json:"alias,omitempty"`
	Ref        *ColumnRef    `json:"ref,omitempty"`
	Expression string        `json:"expression,omitempty"`
	Func       AggregateFunc `json:"func,omitempty"`
	Source     *ColumnRef    `json:"source,omitempty"`
	Distinct   bool          `json:"distinct,omitempty"`
	Query      *Query        `json:"query,omitempty"`
}

type conditionJSON struct {
	ID       string       `json:"id"`
	Ref      *ColumnRef   `json:"ref,omitempty"`
	Operator Operator     `json:"operator"`
	Operand  *operandJSON `json:"operand,omitempty"`
	Logic    Logic        `json:"logic"`
	Order    int          `json:"order"`
}

type operandJSON struct {
	Kind   string  `json:"kind"`
	Value  *Value  `json:"value,omitempty"`
	Values []Value `json:"values,omitempty"`
	Low    *Value  `json:"low,omitempty"`
	High   *Value  `json:"high,omitempty"`
	Query  *Query  `json:"query,omitempty"`
}

// MarshalJSON encodes the query in its persisted form.
func (q Query) MarshalJSON() ([]byte, error) {
	wire := queryJSON{
		From:     q.From,
		Distinct: q.Distinct,
		Fields:   make([]fieldJSON, 0, len(q.Fields)),
		Joins:    q.Joins,
		Where:    q.Where,
		GroupBy:  q.GroupBy,
		OrderBy:  q.OrderBy,
		Limit:    q.Limit,
		CTEs:     q.CTEs,
	}
	for _, f := range q.Fields {
		fj, err := encodeField(f)
		if err != nil {
			return nil, err
		}
		wire.Fields = append(wire.Fields, fj)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the persisted form. It does not validate; callers run Validate.
func (q *Query) UnmarshalJSON(data []byte) error {
	var wire queryJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Query{
		From:     wire.From,
		Distinct: wire.Distinct,
		Joins:    wire.Joins,
		Where:    wire.Where,
		GroupBy:  wire.GroupBy,
		OrderBy:  wire.OrderBy,
		Limit:    wire.Limit,
		CTEs:     wire.CTEs,
	}
	for _, fj := range wire.Fields {
		f, err := decodeField(fj)
		if err != nil {
			return err
		}
		out.Fields = append(out.Fields, f)
	}
	*q = out
	return nil
}

func encodeField(f SelectField) (fieldJSON, error) {
	out := fieldJSON{Kind: f.Kind(), ID: f.FieldID(), Order: f.FieldOrder(), Alias: f.FieldAlias()}
	switch v := f.(type) {
	case ColumnField:
		ref := v.Ref
		out.Ref = &ref
	case ExpressionField:
		out.Expression = v.Expression
	case AggregateField:
		out.Func = v.Func
		out.Source = v.Source
		out.Distinct = v.Distinct
	case SubqueryField:
		out.Query = v.Query
	default:
		return out, fmt.Errorf("unsupported select field type %T", f)
	}
	return out, nil
}

func decodeField(fj fieldJSON) (SelectField, error) {
	switch fj.Kind {
	case FieldColumn:
		if fj.Ref == nil {
			return nil, fmt.Errorf("column field %s has no ref", fj.ID)
		}
		return ColumnField{ID: fj.ID, Ref: *fj.Ref, Alias: fj.Alias, Order: fj.Order}, nil
	case FieldExpression:
		return ExpressionField{ID: fj.ID, Expression: fj.Expression, Alias: fj.Alias, Order: fj.Order}, nil
	case FieldAggregate:
		return AggregateField{ID: fj.ID, Func: fj.Func, Source: fj.Source, Distinct: fj.Distinct, Alias: fj.Alias, Order: fj.Order}, nil
	case FieldSubquery:
		return SubqueryField{ID: fj.ID, Query: fj.Query, Alias: fj.Alias, Order: fj.Order}, nil
	}
	return nil, fmt.Errorf("unknown select field kind %q", fj.Kind)
}

// MarshalJSON encodes the condition with a kind-tagged operand.
func (c Condition) MarshalJSON() ([]byte, error) {
	wire := conditionJSON{ID: c.ID, Ref: c.Ref, Operator: c.Operator, Logic: c.Logic, Order: c.Order}
	if c.Operand != nil {
		wire.Operand = &operandJSON{Kind: c.Operand.operandKind()}
		switch o := c.Operand.(type) {
		case ScalarOperand:
			v := o.Value
			wire.Operand.Value = &v
		case ListOperand:
			wire.Operand.Values = o.Values
		case RangeOperand:
			low, high := o.Low, o.High
			wire.Operand.Low, wire.Operand.High = &low, &high
		case SubqueryOperand:
			wire.Operand.Query = o.Query
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a condition and its kind-tagged operand.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var wire conditionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Condition{ID: wire.ID, Ref: wire.Ref, Operator: wire.Operator, Logic: wire.Logic, Order: wire.Order}
	if wire.Operand != nil {
		op, err := decodeOperand(*wire.Operand)
		if err != nil {
			return fmt.Errorf("condition %s: %w", wire.ID, err)
		}
		out.Operand = op
	}
	*c = out
	return nil
}

func decodeOperand(o operandJSON) (Operand, error) {
	switch o.Kind {
	case "none":
		return NoOperand{}, nil
	case "scalar":
		if o.Value == nil {
			return nil, fmt.Errorf("scalar operand has no value")
		}
		return ScalarOperand{Value: *o.Value}, nil
	case "list":
		return ListOperand{Values: o.Values}, nil
	case "range":
		if o.Low == nil || o.High == nil {
			return nil, fmt.Errorf("range operand needs low and high")
		}
		return RangeOperand{Low: *o.Low, High: *o.High}, nil
	case "subquery":
		if o.Query == nil {
			return nil, fmt.Errorf("subquery operand has no query")
		}
		return SubqueryOperand{Query: o.Query}, nil
	}
	return nil, fmt.Errorf("unknown operand kind %q", o.Kind)
}

// Marshal encodes q as indented JSON.
func Marshal(q Query) ([]byte, error) {
	return json.MarshalIndent(q, "", "  ")
}

// Unmarshal decodes and validates a persisted query.
func Unmarshal(data []byte) (Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return Query{}, fmt.Errorf("failed to decode query: %w", err)
	}
	if err := Validate(q); err != nil {
		return Query{}, fmt.Errorf("invalid query: %w", err)
	}
	return q, nil
}
