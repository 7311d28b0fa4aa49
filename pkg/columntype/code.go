package columntype

import (
	"database/sql"
	"reflect"
	"strings"
	"time"
)

// Code is a portable SQL type code. Values follow the JDBC numbering so that
// codes stored or logged elsewhere keep their meaning.
type Code int

// Type codes.
const (
	Bit           Code = -7
	TinyInt       Code = -6
	SmallInt      Code = 5
	Integer       Code = 4
	BigInt        Code = -5
	Float         Code = 6
	Real          Code = 7
	Double        Code = 8
	Numeric       Code = 2
	Decimal       Code = 3
	Char          Code = 1
	VarChar       Code = 12
	LongVarChar   Code = -1
	NChar         Code = -15
	NVarChar      Code = -9
	Date          Code = 91
	Time          Code = 92
	Timestamp     Code = 93
	Binary        Code = -2
	VarBinary     Code = -3
	LongVarBinary Code = -4
	Null          Code = 0
	Other         Code = 1111
	Blob          Code = 2004
	Clob          Code = 2005
	Boolean       Code = 16
)

var stdNames = map[Code]string{
	Bit:           "BIT",
	TinyInt:       "TINYINT",
	SmallInt:      "SMALLINT",
	Integer:       "INTEGER",
	BigInt:        "BIGINT",
	Float:         "FLOAT",
	Real:          "REAL",
	Double:        "DOUBLE",
	Numeric:       "NUMERIC",
	Decimal:       "DECIMAL",
	Char:          "CHAR",
	VarChar:       "VARCHAR",
	LongVarChar:   "LONGVARCHAR",
	NChar:         "NCHAR",
	NVarChar:      "NVARCHAR",
	Date:          "DATE",
	Time:          "TIME",
	Timestamp:     "TIMESTAMP",
	Binary:        "BINARY",
	VarBinary:     "VARBINARY",
	LongVarBinary: "LONGVARBINARY",
	Null:          "NULL",
	Other:         "OTHER",
	Blob:          "BLOB",
	Clob:          "CLOB",
	Boolean:       "BOOLEAN",
}

// StdNames lists the standard type names every dialect can create.
var StdNames = []string{
	"BIT", "BOOLEAN", "TINYINT", "SMALLINT", "INTEGER", "BIGINT",
	"FLOAT", "REAL", "DOUBLE", "NUMERIC", "DECIMAL",
	"CHAR", "VARCHAR", "LONGVARCHAR", "CLOB",
	"DATE", "TIME", "TIMESTAMP",
	"BINARY", "VARBINARY", "LONGVARBINARY", "BLOB",
}

// StdTypeName returns the standard name for a code, "OTHER" if unknown.
func StdTypeName(code Code) string {
	if name, ok := stdNames[code]; ok {
		return name
	}
	return "OTHER"
}

// CodeOf returns the code of a standard type name.
func CodeOf(std string) (Code, bool) {
	std = strings.ToUpper(strings.TrimSpace(std))
	for code, name := range stdNames {
		if name == std {
			return code, true
		}
	}
	return Other, false
}

// IsNumeric reports whether values of the code are numbers.
func (c Code) IsNumeric() bool {
	switch c {
	case TinyInt, SmallInt, Integer, BigInt, Float, Real, Double, Numeric, Decimal:
		return true
	}
	return false
}

// IsInteger reports whether values of the code are whole numbers.
func (c Code) IsInteger() bool {
	switch c {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

// IsTemporal reports whether values of the code are dates or times.
func (c Code) IsTemporal() bool {
	return c == Date || c == Time || c == Timestamp
}

// IsText reports whether values of the code are character data.
func (c Code) IsText() bool {
	switch c {
	case Char, VarChar, LongVarChar, NChar, NVarChar, Clob:
		return true
	}
	return false
}

// IsBinary reports whether values of the code are raw bytes.
func (c Code) IsBinary() bool {
	switch c {
	case Binary, VarBinary, LongVarBinary, Blob:
		return true
	}
	return false
}

// Coarse groups the code into the handful of kinds used by data dumps:
// STRING, NUMBER, DATE, BOOLEAN or BINARY.
func (c Code) Coarse() string {
	switch {
	case c.IsNumeric():
		return "NUMBER"
	case c.IsTemporal():
		return "DATE"
	case c == Bit || c == Boolean:
		return "BOOLEAN"
	case c.IsBinary():
		return "BINARY"
	}
	return "STRING"
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	nullTimeType   = reflect.TypeOf(sql.NullTime{})
	nullInt64Type  = reflect.TypeOf(sql.NullInt64{})
	nullInt32Type  = reflect.TypeOf(sql.NullInt32{})
	nullFloatType  = reflect.TypeOf(sql.NullFloat64{})
	nullBoolType   = reflect.TypeOf(sql.NullBool{})
	nullStringType = reflect.TypeOf(sql.NullString{})
	rawBytesType   = reflect.TypeOf(sql.RawBytes{})
)

// CodeForScanType guesses a code from the Go type a driver scans a column
// into. Used for native types missing from a dialect's table.
func CodeForScanType(t reflect.Type) Code {
	if t == nil {
		return Other
	}
	switch t {
	case timeType, nullTimeType:
		return Timestamp
	case nullInt64Type:
		return BigInt
	case nullInt32Type:
		return Integer
	case nullFloatType:
		return Double
	case nullBoolType:
		return Boolean
	case nullStringType:
		return VarChar
	case rawBytesType:
		return VarBinary
	}
	switch t.Kind() {
	case reflect.Int64, reflect.Uint64:
		return BigInt
	case reflect.Int, reflect.Int32, reflect.Uint32, reflect.Uint:
		return Integer
	case reflect.Int16, reflect.Uint16:
		return SmallInt
	case reflect.Int8, reflect.Uint8:
		return TinyInt
	case reflect.Float32:
		return Real
	case reflect.Float64:
		return Double
	case reflect.Bool:
		return Boolean
	case reflect.String:
		return VarChar
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return VarBinary
		}
	}
	return Other
}
