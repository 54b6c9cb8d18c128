// Package sqlutil provides SQL identifier and literal quoting helpers shared by
// the SQL generator and the preview executor.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier with backticks and escapes any
// backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteBracketIdentifier quotes a SQL Server identifier with brackets and
// escapes any closing bracket within the identifier by doubling it.
func QuoteBracketIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "]", "]]")
	return "[" + escaped + "]"
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// IsBareIdentifier reports whether name matches [A-Za-z_][A-Za-z0-9_$]* and so
// can be emitted without quoting (keyword checks are the caller's concern).
func IsBareIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '$'):
		default:
			return false
		}
	}
	return true
}

// QuoteStyle identifies an identifier quoting convention.
type QuoteStyle int

const (
	QuoteNone QuoteStyle = iota
	QuoteBacktick
	QuoteBracket
	QuoteDouble
)

// Quoted reports which quoting convention wraps name, if any.
func Quoted(name string) QuoteStyle {
	if len(name) < 2 {
		return QuoteNone
	}
	first, last := name[0], name[len(name)-1]
	switch {
	case first == '`' && last == '`':
		return QuoteBacktick
	case first == '[' && last == ']':
		return QuoteBracket
	case first == '"' && last == '"':
		return QuoteDouble
	}
	return QuoteNone
}

// Unquote strips one level of identifier quoting and collapses doubled
// escape characters. Unquoted input is returned unchanged.
func Unquote(name string) string {
	inner := name
	if len(name) >= 2 {
		inner = name[1 : len(name)-1]
	}
	switch Quoted(name) {
	case QuoteBacktick:
		return strings.ReplaceAll(inner, "``", "`")
	case QuoteBracket:
		return strings.ReplaceAll(inner, "]]", "]")
	case QuoteDouble:
		return strings.ReplaceAll(inner, `""`, `"`)
	}
	return name
}

// SplitQualified splits a dotted identifier into segments, ignoring dots that
// appear inside quoted segments.
// Example: "[my.db].[dbo].orders" -> ["[my.db]", "[dbo]", "orders"]
func SplitQualified(name string) []string {
	var (
		parts   []string
		start   int
		closing byte
	)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if closing != 0 {
			if c == closing {
				// a doubled closing character is an escape, not the end of the segment
				if i+1 < len(name) && name[i+1] == closing {
					i++
					continue
				}
				closing = 0
			}
			continue
		}
		switch c {
		case '`':
			closing = '`'
		case '"':
			closing = '"'
		case '[':
			closing = ']'
		case '.':
			parts = append(parts, name[start:i])
			start = i + 1
		}
	}
	return append(parts, name[start:])
}
