package sqlgen

import (
	"fmt"
	"strings"

	"querycanvas/internal/sqlutil"
)

// Name identifies a SQL dialect.
type Name string

const (
	NameMySQL     Name = "mysql"
	NameSQLServer Name = "sqlserver"
)

// Dialect defines the syntax variations of a SQL target.
type Dialect struct {
	Name Name

	// Identifier quoting
	quote      func(string) string
	quoteStyle sqlutil.QuoteStyle

	// Pagination: LIMIT n OFFSET m, or OFFSET m ROWS FETCH NEXT n ROWS ONLY
	OffsetFetch bool

	// RecursiveKeyword emits WITH RECURSIVE when any CTE is recursive.
	RecursiveKeyword bool

	// FullJoin is the keyword pair for a FULL join.
	FullJoin string

	// BooleanLiterals renders TRUE/FALSE literals; otherwise 1/0.
	BooleanLiterals bool

	reserved map[string]bool
}

// MySQL is the MySQL-family dialect.
var MySQL = &Dialect{
	Name:             NameMySQL,
	quote:            sqlutil.QuoteIdentifier,
	quoteStyle:       sqlutil.QuoteBacktick,
	RecursiveKeyword: true,
	FullJoin:         "FULL JOIN",
	BooleanLiterals:  true,
	reserved:         withCommon(mysqlReserved),
}

// SQLServer is the SQL Server-family dialect.
var SQLServer = &Dialect{
	Name:        NameSQLServer,
	quote:       sqlutil.QuoteBracketIdentifier,
	quoteStyle:  sqlutil.QuoteBracket,
	OffsetFetch: true,
	FullJoin:    "FULL OUTER JOIN",
	reserved:    withCommon(sqlServerReserved),
}

// Lookup returns the dialect registered under name. Common aliases are accepted.
func Lookup(name string) (*Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb", "tidb":
		return MySQL, nil
	case "sqlserver", "mssql", "tsql":
		return SQLServer, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// Dialects lists the supported dialects.
func Dialects() []*Dialect {
	return []*Dialect{MySQL, SQLServer}
}

// IsReserved reports whether word is a keyword in this dialect.
func (d *Dialect) IsReserved(word string) bool {
	return d.reserved[strings.ToLower(word)]
}

// QuoteIdent returns name quoted only if it needs to be. Identifiers already
// quoted in this dialect's style pass through; identifiers quoted in another
// style are unquoted and reconsidered.
func (d *Dialect) QuoteIdent(name string) string {
	if name == "" || name == "*" {
		return name
	}
	style := sqlutil.Quoted(name)
	if style == d.quoteStyle {
		return name
	}
	if style != sqlutil.QuoteNone {
		name = sqlutil.Unquote(name)
	}
	if sqlutil.IsBareIdentifier(name) && !d.IsReserved(name) {
		return name
	}
	return d.quote(name)
}

// QuoteQualified quotes each dot-separated segment of a qualified name.
// Example: "sales.order details" -> "sales.`order details`"
func (d *Dialect) QuoteQualified(name string) string {
	parts := sqlutil.SplitQualified(name)
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func withCommon(extra []string) map[string]bool {
	out := make(map[string]bool, len(commonReserved)+len(extra))
	for _, w := range commonReserved {
		out[w] = true
	}
	for _, w := range extra {
		out[w] = true
	}
	return out
}

var commonReserved = []string{
	"add", "all", "alter", "and", "any", "as", "asc", "between", "by", "case", "check",
	"column", "constraint", "create", "cross", "current_date", "current_time",
	"current_timestamp", "current_user", "database", "default", "delete", "desc",
	"distinct", "drop", "else", "end", "exists", "foreign", "from", "full", "grant",
	"group", "having", "in", "index", "inner", "insert", "into", "is", "join", "key",
	"left", "like", "not", "null", "on", "or", "order", "outer", "primary",
	"references", "right", "select", "set", "table", "then", "to", "union", "unique",
	"update", "values", "when", "where", "with",
}

var mysqlReserved = []string{
	"accessible", "analyze", "before", "both", "call", "cascade", "change", "condition",
	"continue", "convert", "cursor", "databases", "dec", "decimal", "declare", "delayed",
	"describe", "div", "double", "dual", "each", "elseif", "enclosed", "escaped", "exit",
	"explain", "false", "fetch", "float", "for", "force", "fulltext", "function",
	"generated", "groups", "high_priority", "if", "ignore", "int", "integer", "interval",
	"iterate", "keys", "kill", "lateral", "leading", "leave", "limit", "lines", "load",
	"lock", "long", "loop", "match", "mod", "natural", "numeric", "optimize", "option",
	"outfile", "over", "partition", "precision", "procedure", "purge", "range", "rank",
	"read", "real", "recursive", "regexp", "release", "rename", "repeat", "replace",
	"require", "restrict", "return", "revoke", "rlike", "row", "rows", "row_number",
	"schema", "schemas", "separator", "show", "signal", "spatial", "sql", "starting",
	"system", "terminated", "trailing", "trigger", "true", "undo", "unlock", "unsigned",
	"usage", "use", "using", "varchar", "virtual", "while", "window", "write", "xor",
	"year_month", "zerofill",
}

var sqlServerReserved = []string{
	"authorization", "backup", "begin", "break", "browse", "bulk", "cascade",
	"checkpoint", "close", "clustered", "coalesce", "collate", "commit", "compute",
	"contains", "containstable", "continue", "convert", "cursor", "dbcc", "deallocate",
	"declare", "deny", "disk", "distributed", "double", "dump", "errlvl", "escape",
	"except", "exec", "execute", "exit", "external", "fetch", "file", "fillfactor",
	"for", "freetext", "freetexttable", "function", "goto", "holdlock", "identity",
	"identity_insert", "identitycol", "if", "intersect", "kill", "lineno", "load",
	"merge", "national", "nocheck", "nonclustered", "nullif", "of", "off", "offsets",
	"open", "opendatasource", "openquery", "openrowset", "openxml", "option", "over",
	"percent", "pivot", "plan", "precision", "print", "proc", "procedure", "public",
	"raiserror", "read", "readtext", "reconfigure", "replication", "restore",
	"restrict", "return", "revert", "revoke", "rollback", "rowcount", "rowguidcol",
	"rule", "save", "schema", "securityaudit", "semantickeyphrasetable",
	"session_user", "setuser", "shutdown", "some", "statistics", "system_user",
	"tablesample", "textsize", "top", "tran", "transaction", "trigger", "truncate",
	"try_convert", "tsequal", "unpivot", "updatetext", "use", "user", "varying",
	"view", "waitfor", "while", "within", "writetext",
}
