package columntype

import (
	"strings"
)

// ColumnInfo is a read-only snapshot of one table column.
type ColumnInfo struct {
	Name      string
	TypeName  string
	Code      Code
	Size      int
	Precision int
	Scale     int
	Nullable  bool
	Default   *string

	// DefaultExpr marks Default as an expression such as CURRENT_TIMESTAMP
	// rather than a literal value.
	DefaultExpr bool
}

// StdTypeName returns the standard name of the column's type.
func (c ColumnInfo) StdTypeName() string {
	return StdTypeName(c.Code)
}

// Def converts the snapshot into a definition that recreates the column.
func (c ColumnInfo) Def() ColumnDef {
	size := c.Size
	if size == 0 && c.Code.IsNumeric() && !c.Code.IsInteger() {
		size = c.Precision
	}
	return ColumnDef{
		Name:        c.Name,
		Type:        c.StdTypeName(),
		Size:        size,
		Scale:       c.Scale,
		Nullable:    c.Nullable,
		Default:     c.Default,
		DefaultExpr: c.DefaultExpr,
	}
}

// ColumnDef describes a column to create or alter, in standard type terms.
type ColumnDef struct {
	Name     string
	Type     string
	Size     int
	Scale    int
	Nullable bool
	Default  *string

	// DefaultExpr writes Default verbatim instead of as a quoted literal.
	DefaultExpr bool
}

// IndexColumnInfo is one column of an index.
type IndexColumnInfo struct {
	Name       string
	Position   int
	Descending bool
}

// IndexInfo is a read-only snapshot of one index.
type IndexInfo struct {
	Name    string
	Table   string
	Type    string
	Unique  bool
	Columns []IndexColumnInfo
}

// ColumnList renders the columns the way CreateIndex accepts them:
// "col1,col2 DESC".
func (i IndexInfo) ColumnList() string {
	parts := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		parts[n] = c.Name
		if c.Descending {
			parts[n] += " DESC"
		}
	}
	return strings.Join(parts, ",")
}

// HasColumn reports whether the index covers the column.
func (i IndexInfo) HasColumn(name string) bool {
	for _, c := range i.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// Matches reports whether the index has the given uniqueness and exactly
// the given columns in the same order and direction.
func (i IndexInfo) Matches(unique bool, columns []IndexColumnInfo) bool {
	if i.Unique != unique || len(i.Columns) != len(columns) {
		return false
	}
	for n, c := range i.Columns {
		if !strings.EqualFold(c.Name, columns[n].Name) || c.Descending != columns[n].Descending {
			return false
		}
	}
	return true
}

// ParseIndexColumns parses "col1, col2 DESC, col3 ASC".
func ParseIndexColumns(spec string) []IndexColumnInfo {
	var cols []IndexColumnInfo
	for _, part := range strings.Split(spec, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		col := IndexColumnInfo{Name: fields[0], Position: len(cols) + 1}
		if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
			col.Descending = true
		}
		cols = append(cols, col)
	}
	return cols
}
