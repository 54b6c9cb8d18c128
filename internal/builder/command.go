package builder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"querycanvas/internal/query"
	"querycanvas/internal/sqlgen"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
)

// Command is the wire form of one session operation: {"op": "...", ...args}.
// Each op reads only the members it needs.
type Command struct {
	Op string `json:"op"`

	Table         string         `json:"table,omitempty"`
	Column        string         `json:"column,omitempty"`
	Relationships []string       `json:"relationships,omitempty"`
	JoinType      query.JoinType `json:"join_type,omitempty"`

	ID         string              `json:"id,omitempty"`
	IDs        []string            `json:"ids,omitempty"`
	Ref        *query.ColumnRef    `json:"ref,omitempty"`
	Alias      string              `json:"alias,omitempty"`
	Expression string              `json:"expression,omitempty"`
	Func       query.AggregateFunc `json:"func,omitempty"`
	Distinct   bool                `json:"distinct,omitempty"`
	Direction  query.Direction     `json:"direction,omitempty"`
	Count      int                 `json:"count,omitempty"`
	Offset     int                 `json:"offset,omitempty"`

	Query      *query.Query      `json:"query,omitempty"`
	Join       *query.Join       `json:"join,omitempty"`
	JoinUpdate *query.JoinUpdate `json:"join_update,omitempty"`
	Condition  *query.Condition  `json:"condition,omitempty"`

	Name      string     `json:"name,omitempty"`
	Columns   []string   `json:"columns,omitempty"`
	Recursive bool       `json:"recursive,omitempty"`
	CTE       *query.CTE `json:"cte,omitempty"`

	Dialect string `json:"dialect,omitempty"`
	Pretty  *bool  `json:"pretty,omitempty"`
}

// ParseCommand decodes one command, rejecting unknown members.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	if cmd.Op == "" {
		return Command{}, fmt.Errorf("command without op: %w", ErrInvalidCommand)
	}
	return cmd, nil
}

func missing(op, member string) error {
	return fmt.Errorf("%s requires %s: %w", op, member, ErrInvalidCommand)
}

// Apply dispatches cmd to the matching session operation.
func (s *Session) Apply(cmd Command) (Result, error) {
	switch cmd.Op {
	case "add_column":
		return s.AddColumn(cmd.Table, cmd.Column)
	case "add_column_via":
		return s.AddColumnVia(cmd.Table, cmd.Column, cmd.Relationships, cmd.JoinType)
	case "add_select_column":
		if cmd.Ref == nil {
			return Result{}, missing(cmd.Op, "ref")
		}
		return s.AddSelectColumn(*cmd.Ref, cmd.Alias)
	case "remove_select_field":
		return s.RemoveSelectField(cmd.ID)
	case "set_field_alias":
		return s.SetFieldAlias(cmd.ID, cmd.Alias)
	case "reorder_select_fields":
		return s.ReorderSelectFields(cmd.IDs)
	case "add_expression_field":
		return s.AddExpressionField(cmd.Expression, cmd.Alias)
	case "add_aggregate_field":
		return s.AddAggregateField(cmd.Func, cmd.Ref, cmd.Distinct, cmd.Alias)
	case "add_subquery_field":
		if cmd.Query == nil {
			return Result{}, missing(cmd.Op, "query")
		}
		return s.AddSubqueryField(*cmd.Query, cmd.Alias)
	case "set_distinct":
		return s.SetDistinct(cmd.Distinct)
	case "set_limit":
		return s.SetLimit(cmd.Count, cmd.Offset)
	case "clear_limit":
		return s.ClearLimit()

	case "add_join":
		if cmd.Join != nil {
			return s.AddManualJoin(*cmd.Join)
		}
		if cmd.Ref == nil {
			return Result{}, missing(cmd.Op, "join or ref")
		}
		return s.AddJoin(cmd.JoinType, cmd.Ref.Alias, cmd.Table, cmd.Ref.Column, cmd.Column)
	case "add_manual_join":
		if cmd.Join == nil {
			return Result{}, missing(cmd.Op, "join")
		}
		return s.AddManualJoin(*cmd.Join)
	case "update_join":
		if cmd.JoinUpdate == nil {
			return Result{}, missing(cmd.Op, "join_update")
		}
		return s.UpdateJoin(cmd.ID, *cmd.JoinUpdate)
	case "remove_join":
		return s.RemoveJoin(cmd.ID)

	case "add_where_condition":
		if cmd.Condition == nil {
			return Result{}, missing(cmd.Op, "condition")
		}
		return s.AddWhereCondition(*cmd.Condition)
	case "update_where_condition":
		if cmd.Condition == nil {
			return Result{}, missing(cmd.Op, "condition")
		}
		return s.UpdateWhereCondition(*cmd.Condition)
	case "remove_where_condition":
		return s.RemoveWhereCondition(cmd.ID)
	case "reorder_where_conditions":
		return s.ReorderWhereConditions(cmd.IDs)

	case "add_group_by":
		if cmd.Ref == nil {
			return Result{}, missing(cmd.Op, "ref")
		}
		return s.AddGroupBy(*cmd.Ref)
	case "remove_group_by":
		return s.RemoveGroupBy(cmd.ID)
	case "reorder_group_by":
		return s.ReorderGroupBy(cmd.IDs)

	case "add_order_by":
		if cmd.Ref == nil {
			return Result{}, missing(cmd.Op, "ref")
		}
		return s.AddOrderBy(*cmd.Ref, cmd.Direction)
	case "update_order_by":
		return s.UpdateOrderByDirection(cmd.ID, cmd.Direction)
	case "remove_order_by":
		return s.RemoveOrderBy(cmd.ID)
	case "reorder_order_by":
		return s.ReorderOrderBy(cmd.IDs)

	case "add_cte":
		if cmd.Query == nil {
			return Result{}, missing(cmd.Op, "query")
		}
		return s.AddCTE(cmd.Name, *cmd.Query, cmd.Columns, cmd.Recursive)
	case "update_cte":
		if cmd.CTE == nil {
			return Result{}, missing(cmd.Op, "cte")
		}
		return s.UpdateCTE(*cmd.CTE)
	case "remove_cte":
		return s.RemoveCTE(cmd.ID)

	case "reset":
		return s.Reset(), nil
	case "load":
		if cmd.Query == nil {
			return Result{}, missing(cmd.Op, "query")
		}
		return s.Replace(*cmd.Query)
	case "set_dialect":
		d, err := sqlgen.Lookup(cmd.Dialect)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		s.SetDialect(d)
		return Result{Applied: true}, nil
	case "set_pretty":
		if cmd.Pretty == nil {
			return Result{}, missing(cmd.Op, "pretty")
		}
		s.SetPretty(*cmd.Pretty)
		return Result{Applied: true}, nil
	}
	return Result{}, fmt.Errorf("%q: %w", cmd.Op, ErrUnknownCommand)
}
