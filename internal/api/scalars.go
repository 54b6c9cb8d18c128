package api

import (
	"encoding/json"
	"log/slog"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/kinds"
)

// JSONScalar carries serialized queries, commands and preview rows. Output
// is emitted as a JSON value; input may be a JSON value (variables or
// object literals) or a string holding JSON text. Parsed input is a
// json.RawMessage.
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value.",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case nil:
			return nil
		case json.RawMessage:
			return decodeRaw(v)
		case []byte:
			return decodeRaw(v)
		default:
			return v
		}
	},
	ParseValue: func(value interface{}) interface{} {
		if s, ok := value.(string); ok {
			return rawFromText(s)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return json.RawMessage(raw)
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if sv, ok := valueAST.(*ast.StringValue); ok {
			return rawFromText(sv.Value)
		}
		raw, err := json.Marshal(literalValue(valueAST))
		if err != nil {
			return nil
		}
		return json.RawMessage(raw)
	},
})

func decodeRaw(raw []byte) interface{} {
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Default().Warn("failed to serialize JSON scalar", slog.String("error", err.Error()))
		return nil
	}
	return out
}

// rawFromText accepts a string that holds JSON text. Anything else is kept
// as a JSON string.
func rawFromText(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

func literalValue(valueAST ast.Value) interface{} {
	switch valueAST.GetKind() {
	case kinds.ObjectValue:
		obj := valueAST.(*ast.ObjectValue)
		out := make(map[string]interface{}, len(obj.Fields))
		for _, field := range obj.Fields {
			out[field.Name.Value] = literalValue(field.Value)
		}
		return out
	case kinds.ListValue:
		list := valueAST.(*ast.ListValue)
		out := make([]interface{}, 0, len(list.Values))
		for _, item := range list.Values {
			out = append(out, literalValue(item))
		}
		return out
	case kinds.IntValue:
		return json.Number(valueAST.(*ast.IntValue).Value)
	case kinds.FloatValue:
		return json.Number(valueAST.(*ast.FloatValue).Value)
	case kinds.StringValue:
		return valueAST.(*ast.StringValue).Value
	case kinds.BooleanValue:
		return valueAST.(*ast.BooleanValue).Value
	case kinds.EnumValue:
		return valueAST.(*ast.EnumValue).Value
	default:
		return nil
	}
}
