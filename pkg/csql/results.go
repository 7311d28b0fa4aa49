package csql

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// Column describes one result column.
type Column struct {
	Name     string
	TypeName string
	Code     columntype.Code
	// Ordinal is 1-based.
	Ordinal int
}

// Row is one materialized result row, values already converted.
type Row []any

// timeLayout is how temporal values render as text.
const timeLayout = "2006-01-02 15:04:05.000"

// loadResults materializes every result set of rows. Further result sets
// chain into fresh CSQL values reachable through NextResults.
func (c *CSQL) loadResults(rows *sql.Rows) error {
	types := c.db.ColumnTypes()
	loc := c.db.Location()

	for set := c; ; {
		colTypes, err := rows.ColumnTypes()
		if err != nil {
			return err
		}
		set.columns = make([]Column, len(colTypes))
		for i, ct := range colTypes {
			set.columns[i] = Column{
				Name:     ct.Name(),
				TypeName: ct.DatabaseTypeName(),
				Code:     resolveCode(types, ct),
				Ordinal:  i + 1,
			}
		}

		for rows.Next() {
			if set.maxRows > 0 && len(set.rows) >= set.maxRows {
				return dberr.TooManyRows(set.maxRows, len(set.rows)+1).WithSQL(set.sql)
			}
			values := make([]any, len(colTypes))
			dest := make([]any, len(colTypes))
			for i := range values {
				dest[i] = &values[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			for i, v := range values {
				values[i] = convertValue(v, set.columns[i].Code, loc)
			}
			set.rows = append(set.rows, Row(values))
			set.rowCount = len(set.rows)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if !rows.NextResultSet() {
			return rows.Err()
		}
		next := &CSQL{
			db:       c.db,
			sql:      c.sql,
			sqlType:  c.sqlType,
			maxRows:  c.maxRows,
			readOnly: c.readOnly,
			cursor:   -1,
		}
		set.next = next
		set = next
	}
}

// resolveCode maps a result column to a type code through the registry,
// learning native names it has not seen.
func resolveCode(types *columntype.Registry, ct *sql.ColumnType) columntype.Code {
	name := strings.TrimSpace(ct.DatabaseTypeName())
	if name == "" {
		return columntype.CodeForScanType(ct.ScanType())
	}
	if t, ok := types.FindType(name); ok {
		return t.Code
	}
	code, ok := columntype.CodeOf(name)
	if !ok {
		code = columntype.CodeForScanType(ct.ScanType())
	}
	return types.Learn(name, code).Code
}

// convertValue copies driver buffers and normalizes temporal values so the
// row outlives the cursor.
func convertValue(v any, code columntype.Code, loc *time.Location) any {
	switch x := v.(type) {
	case []byte:
		if code.IsBinary() {
			return append([]byte(nil), x...)
		}
		return string(x)
	case time.Time:
		if loc != nil {
			return x.In(loc)
		}
		return x
	}
	return v
}

// NextResults returns the next result set of a multi-result statement, nil
// when there is none.
func (c *CSQL) NextResults() *CSQL { return c.next }

// RowCount is the number of rows loaded by a query, or affected by an
// update or batch.
func (c *CSQL) RowCount() int { return c.rowCount }

// ColumnCount is the number of result columns.
func (c *CSQL) ColumnCount() int { return len(c.columns) }

// Columns returns the result columns.
func (c *CSQL) Columns() []Column { return c.columns }

// Rows returns the materialized rows.
func (c *CSQL) Rows() []Row { return c.rows }

// ColumnName returns the name of column col.
func (c *CSQL) ColumnName(col int) (string, error) {
	if col < 0 || col >= len(c.columns) {
		return "", dberr.Assertion("column %d out of range [0,%d)", col, len(c.columns))
	}
	return c.columns[col].Name, nil
}

// ColumnIndex returns the position of the named column, ignoring case, or
// -1.
func (c *CSQL) ColumnIndex(name string) int {
	for i, col := range c.columns {
		if strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}

// Next advances the cursor, reporting whether a row is available.
func (c *CSQL) Next() bool {
	if c.cursor+1 < len(c.rows) {
		c.cursor++
		return true
	}
	c.cursor = len(c.rows)
	return false
}

// Reset moves the cursor before the first row.
func (c *CSQL) Reset() { c.cursor = -1 }

// Get returns the raw value of column col in the current row.
func (c *CSQL) Get(col int) (any, error) {
	if c.cursor < 0 || c.cursor >= len(c.rows) {
		return nil, dberr.Assertion("no current row")
	}
	row := c.rows[c.cursor]
	if col < 0 || col >= len(row) {
		return nil, dberr.Assertion("column %d out of range [0,%d)", col, len(row))
	}
	return row[col], nil
}

// IsNull reports whether column col of the current row is NULL.
func (c *CSQL) IsNull(col int) (bool, error) {
	v, err := c.Get(col)
	return v == nil, err
}

// GetString returns column col as text; NULL is "".
func (c *CSQL) GetString(col int) (string, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return "", err
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return formatValue(v), nil
}

// GetInt64 returns column col as an integer; NULL is 0.
func (c *CSQL) GetInt64(col int) (int64, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return 0, err
	}
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("column %d: %q is not a number: %w", col, x, err)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("column %d: cannot convert %T to int64", col, v)
}

// GetInt returns column col as an int; NULL is 0.
func (c *CSQL) GetInt(col int) (int, error) {
	n, err := c.GetInt64(col)
	return int(n), err
}

// GetFloat64 returns column col as a float; NULL is 0.
func (c *CSQL) GetFloat64(col int) (float64, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("column %d: %q is not a number: %w", col, x, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("column %d: cannot convert %T to float64", col, v)
}

// GetBool returns column col as a boolean; NULL is false.
func (c *CSQL) GetBool(col int) (bool, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return false, err
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "1", "TRUE", "T", "Y", "YES":
			return true, nil
		case "0", "FALSE", "F", "N", "NO", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("column %d: cannot convert %v to bool", col, v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// GetTime returns column col as a time in the configured zone; NULL is
// the zero time.
func (c *CSQL) GetTime(col int) (time.Time, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(x), c.db.Location()); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("column %d: %q is not a time", col, x)
	}
	return time.Time{}, fmt.Errorf("column %d: cannot convert %T to time", col, v)
}

// GetBytes returns column col as bytes; NULL is nil.
func (c *CSQL) GetBytes(col int) ([]byte, error) {
	v, err := c.Get(col)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return []byte(formatValue(v)), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return hex.EncodeToString(x)
	case time.Time:
		return x.Format(timeLayout)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

var tableDataEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// EncodeTableData dumps the result as tab separated lines. Backslash, tab,
// newline and carriage return are escaped and NULL is \N. The optional
// header row holds name:TYPE pairs with the coarse type of each column.
func (c *CSQL) EncodeTableData(withHeader bool) string {
	var b strings.Builder
	if withHeader {
		for i, col := range c.columns {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(tableDataEscaper.Replace(col.Name))
			b.WriteByte(':')
			b.WriteString(col.Code.Coarse())
		}
		b.WriteByte('\n')
	}
	for _, row := range c.rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte('\t')
			}
			if v == nil {
				b.WriteString(`\N`)
				continue
			}
			b.WriteString(tableDataEscaper.Replace(formatValue(v)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
