package query

import (
	"errors"
	"fmt"
	"strings"
)

// scope is the set of aliases visible to a query plus its enclosing scopes.
type scope struct {
	aliases map[string]bool
	parent  *scope
}

func (s *scope) resolves(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.aliases[strings.ToLower(name)] {
			return true
		}
	}
	return false
}

func (s *scope) local(name string) bool {
	return s != nil && s.aliases[strings.ToLower(name)]
}

// Validate checks that q and every nested query satisfy the AST invariants:
// references resolve to declared aliases, aliases are unique per scope,
// ordered collections are dense, and each source has exactly one of table or subquery.
// The returned error joins every violation found.
func Validate(q Query) error {
	v := &validator{}
	v.query(q, nil, "query")
	return errors.Join(v.errs...)
}

// ValidateCorrelated validates sub as a query nested inside outer, so column
// values in sub may reference aliases declared by outer.
func ValidateCorrelated(sub, outer Query) error {
	v := &validator{}
	v.query(sub, scopeOf(outer, nil), "subquery")
	return errors.Join(v.errs...)
}

func scopeOf(q Query, parent *scope) *scope {
	s := &scope{aliases: make(map[string]bool, len(q.Joins)+1), parent: parent}
	for _, name := range q.Aliases() {
		s.aliases[strings.ToLower(name)] = true
	}
	return s
}

type validator struct {
	errs []error
}

func (v *validator) fail(path string, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(path+": "+format, args...))
}

func (v *validator) query(q Query, parent *scope, path string) {
	if !q.From.IsSet() {
		if len(q.Fields)+len(q.Joins)+len(q.Where)+len(q.GroupBy)+len(q.OrderBy) > 0 {
			v.fail(path, "%w", ErrNoBaseTable)
		}
		return
	}

	local := &scope{aliases: make(map[string]bool, len(q.Joins)+1), parent: parent}
	v.from(q.From, local, path)
	v.joins(q.Joins, local, path)
	v.fields(q.Fields, local, path)
	v.conditions(q.Where, local, path)
	v.groupBy(q.GroupBy, local, path)
	v.orderBy(q.OrderBy, local, path)
	v.ctes(q.CTEs, path)

	if q.Limit != nil && (q.Limit.Count <= 0 || q.Limit.Offset < 0) {
		v.fail(path, "limit %d offset %d: %w", q.Limit.Count, q.Limit.Offset, ErrInvalidLimit)
	}
}

func (v *validator) declare(s *scope, name, path string) {
	if strings.TrimSpace(name) == "" {
		v.fail(path, "missing alias: %w", ErrUnknownAlias)
		return
	}
	key := strings.ToLower(name)
	if s.aliases[key] {
		v.fail(path, "alias %s: %w", name, ErrDuplicateAlias)
		return
	}
	s.aliases[key] = true
}

func (v *validator) from(f From, s *scope, path string) {
	if f.Table != "" && f.Subquery != nil {
		v.fail(path, "from has both table and subquery: %w", ErrInvalidJoin)
	}
	if f.Subquery != nil {
		v.query(*f.Subquery, nil, path+".from")
	}
	v.declare(s, f.Alias, path+".from")
}

func (v *validator) joins(joins []Join, s *scope, path string) {
	seen := make(map[string]bool, len(joins))
	for _, j := range joins {
		jp := fmt.Sprintf("%s.join[%s]", path, j.ID)
		if j.ID == "" || seen[j.ID] {
			v.fail(jp, "missing or repeated id: %w", ErrDuplicateField)
		}
		seen[j.ID] = true
		if !j.Type.Valid() {
			v.fail(jp, "type %q: %w", j.Type, ErrInvalidJoin)
		}
		if !s.local(j.SourceAlias) {
			v.fail(jp, "source alias %s: %w", j.SourceAlias, ErrUnknownAlias)
		}
		if err := checkTarget(j.Target); err != nil {
			v.fail(jp, "%w", err)
		}
		if err := checkConditions(j); err != nil {
			v.fail(jp, "%w", err)
		}
		if j.Target.Subquery != nil {
			v.query(*j.Target.Subquery, nil, jp)
		}
		v.declare(s, j.Target.Alias, jp)
	}
}

func (v *validator) ref(ref *ColumnRef, s *scope, path string) {
	if ref == nil {
		return
	}
	if ref.Column == "" {
		v.fail(path, "reference without column: %w", ErrInvalidField)
	}
	if !s.local(ref.Alias) {
		v.fail(path, "alias %q: %w", ref.Alias, ErrUnknownAlias)
	}
}

func (v *validator) value(val Value, s *scope, path string) {
	switch val.Kind {
	case ValueLiteral, ValueRaw:
		if strings.TrimSpace(val.Text) == "" {
			v.fail(path, "empty %s value: %w", val.Kind, ErrInvalidOperand)
		}
	case ValueColumn:
		if val.Ref == nil {
			v.fail(path, "column value without reference: %w", ErrInvalidOperand)
			return
		}
		if !s.resolves(val.Ref.Alias) {
			v.fail(path, "alias %q: %w", val.Ref.Alias, ErrUnknownAlias)
		}
	default:
		v.fail(path, "value kind %q: %w", val.Kind, ErrInvalidOperand)
	}
}

func (v *validator) dense(path, collection string, ids []string, orders []int) {
	seenID := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seenID[id] {
			v.fail(path, "%s id %q missing or repeated: %w", collection, id, ErrDuplicateField)
		}
		seenID[id] = true
	}
	seenOrder := make([]bool, len(orders))
	for _, o := range orders {
		if o < 0 || o >= len(orders) || seenOrder[o] {
			v.fail(path, "%s order values are not a dense permutation: %w", collection, ErrInvalidOrder)
			return
		}
		seenOrder[o] = true
	}
}

func (v *validator) fields(fields []SelectField, s *scope, path string) {
	orders := make([]int, len(fields))
	ids := make([]string, len(fields))
	for i, f := range fields {
		orders[i] = f.FieldOrder()
		ids[i] = f.FieldID()
		fp := fmt.Sprintf("%s.field[%s]", path, f.FieldID())
		switch field := f.(type) {
		case ColumnField:
			v.ref(&field.Ref, s, fp)
		case ExpressionField:
			if strings.TrimSpace(field.Expression) == "" {
				v.fail(fp, "empty expression: %w", ErrInvalidField)
			}
		case AggregateField:
			if !field.Func.Valid() {
				v.fail(fp, "aggregate %q: %w", field.Func, ErrInvalidField)
			}
			if field.Source == nil && field.Func != Count {
				v.fail(fp, "%s needs a column: %w", field.Func, ErrInvalidField)
			}
			v.ref(field.Source, s, fp)
		case SubqueryField:
			if field.Query == nil {
				v.fail(fp, "missing subquery: %w", ErrInvalidField)
				continue
			}
			if strings.TrimSpace(field.Alias) == "" {
				v.fail(fp, "subquery field needs an alias: %w", ErrInvalidField)
			}
			v.query(*field.Query, s, fp)
		default:
			v.fail(fp, "unsupported field type %T: %w", f, ErrInvalidField)
		}
	}
	v.dense(path, "field", ids, orders)
}

func (v *validator) conditions(conds []Condition, s *scope, path string) {
	orders := make([]int, len(conds))
	ids := make([]string, len(conds))
	for i, c := range conds {
		orders[i] = c.Order
		ids[i] = c.ID
		cp := fmt.Sprintf("%s.where[%s]", path, c.ID)
		if c.Logic != And && c.Logic != Or {
			v.fail(cp, "logic %q: %w", c.Logic, ErrInvalidOperator)
		}
		if c.Operator.Shape() == ShapeUnknown {
			v.fail(cp, "operator %q: %w", c.Operator, ErrInvalidOperator)
			continue
		}
		if c.Operator.Shape() == ShapeExists {
			if c.Ref != nil {
				v.fail(cp, "%s takes no column: %w", c.Operator, ErrInvalidOperand)
			}
		} else if c.Ref == nil {
			v.fail(cp, "%s needs a column: %w", c.Operator, ErrInvalidOperand)
		}
		v.ref(c.Ref, s, cp)
		if err := checkOperand(c.Operator, c.Operand); err != nil {
			v.fail(cp, "%w", err)
			continue
		}
		switch o := c.Operand.(type) {
		case ScalarOperand:
			v.value(o.Value, s, cp)
		case ListOperand:
			for _, val := range o.Values {
				v.value(val, s, cp)
			}
		case RangeOperand:
			v.value(o.Low, s, cp)
			v.value(o.High, s, cp)
		case SubqueryOperand:
			v.query(*o.Query, s, cp)
		}
	}
	v.dense(path, "where", ids, orders)
}

func (v *validator) groupBy(groups []GroupByField, s *scope, path string) {
	orders := make([]int, len(groups))
	ids := make([]string, len(groups))
	for i, g := range groups {
		orders[i] = g.Order
		ids[i] = g.ID
		v.ref(&g.Ref, s, fmt.Sprintf("%s.group[%s]", path, g.ID))
	}
	v.dense(path, "group by", ids, orders)
}

func (v *validator) orderBy(items []OrderByField, s *scope, path string) {
	orders := make([]int, len(items))
	ids := make([]string, len(items))
	for i, o := range items {
		orders[i] = o.Order
		ids[i] = o.ID
		op := fmt.Sprintf("%s.order[%s]", path, o.ID)
		if o.Direction != Asc && o.Direction != Desc {
			v.fail(op, "direction %q: %w", o.Direction, ErrInvalidField)
		}
		v.ref(&o.Ref, s, op)
	}
	v.dense(path, "order by", ids, orders)
}

func (v *validator) ctes(ctes []CTE, path string) {
	names := make(map[string]bool, len(ctes))
	for _, c := range ctes {
		cp := fmt.Sprintf("%s.cte[%s]", path, c.Name)
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" {
			v.fail(cp, "cte needs a name: %w", ErrInvalidField)
		} else if names[key] {
			v.fail(cp, "%w", ErrDuplicateName)
		}
		names[key] = true
		if c.Query == nil {
			v.fail(cp, "missing query: %w", ErrInvalidField)
			continue
		}
		v.query(*c.Query, nil, cp)
	}
}
