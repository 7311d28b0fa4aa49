package tableutil

import (
	"strconv"
	"strings"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
)

// normalizeType reduces a reported type to its upper-case base name. Size
// and scale come from the declaration when the catalog reports none, as
// SQLite does: "varchar(20) not null" → "VARCHAR", 20, 0.
func normalizeType(declared string, size, scale int) (string, int, int) {
	decl := strings.ToUpper(strings.TrimSpace(declared))
	decl = strings.TrimSpace(strings.TrimSuffix(decl, " NOT NULL"))
	if size == 0 {
		size, scale = columntype.SizeOf(decl)
	}
	return columntype.BaseName(decl), size, scale
}

// normalizeDefault turns a catalog default into the value CreateParam
// expects and reports whether it is an expression. Casts
// ("'a'::character varying"), wrapping parentheses ("((0))") and quotes are
// removed; NULL means no default. Function calls and niladic functions such
// as CURRENT_TIMESTAMP keep their text and are reported as expressions.
func normalizeDefault(raw string) (*string, bool) {
	v := strings.TrimSpace(raw)
	for {
		next := unwrapParens(stripCast(v))
		if next == v {
			break
		}
		v = next
	}
	if v == "" || strings.EqualFold(v, "NULL") {
		return nil, false
	}
	if closingQuote(v) == len(v)-1 {
		v = strings.ReplaceAll(v[1:len(v)-1], "''", "'")
		return &v, false
	}
	return &v, isExpression(v)
}

var niladic = map[string]bool{
	"CURRENT_TIMESTAMP": true,
	"CURRENT_DATE":      true,
	"CURRENT_TIME":      true,
	"LOCALTIMESTAMP":    true,
	"LOCALTIME":         true,
	"SYSDATE":           true,
	"SYSTIMESTAMP":      true,
	"CURRENT_USER":      true,
	"SESSION_USER":      true,
	"USER":              true,
}

// isExpression tells unquoted expressions from values some catalogs
// (MySQL) report without quotes.
func isExpression(v string) bool {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return false
	}
	upper := strings.ToUpper(v)
	return strings.Contains(v, "(") || niladic[upper] || strings.HasPrefix(upper, "NEXT VALUE FOR ")
}

// closingQuote returns the index of the quote closing the literal that
// starts v, or -1 when v does not start with one.
func closingQuote(v string) int {
	if len(v) < 2 || v[0] != '\'' {
		return -1
	}
	for i := 1; i < len(v); i++ {
		if v[i] != '\'' {
			continue
		}
		if i+1 < len(v) && v[i+1] == '\'' {
			i++
			continue
		}
		return i
	}
	return -1
}

// unwrapParens removes one pair of parentheses enclosing all of v.
// "(a)+(b)" is left alone.
func unwrapParens(v string) string {
	if len(v) < 2 || v[0] != '(' || v[len(v)-1] != ')' {
		return v
	}
	depth := 0
	quoted := false
	for i := 0; i < len(v); i++ {
		switch {
		case v[i] == '\'':
			quoted = !quoted
		case quoted:
		case v[i] == '(':
			depth++
		case v[i] == ')':
			depth--
			if depth == 0 && i < len(v)-1 {
				return v
			}
		}
	}
	return strings.TrimSpace(v[1 : len(v)-1])
}

// stripCast cuts a trailing "::type" outside quotes and parentheses, so
// "nextval('s'::regclass)" keeps its inner cast.
func stripCast(v string) string {
	quoted := false
	depth := 0
	for i := 0; i < len(v)-1; i++ {
		switch {
		case v[i] == '\'':
			quoted = !quoted
		case quoted:
		case v[i] == '(':
			depth++
		case v[i] == ')':
			depth--
		case depth == 0 && v[i] == ':' && v[i+1] == ':':
			return strings.TrimSpace(v[:i])
		}
	}
	return v
}

func isNullable(v string) bool {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "YES", "Y", "1", "TRUE":
		return true
	}
	return false
}
