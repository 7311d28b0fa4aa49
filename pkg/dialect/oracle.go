package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	goora "github.com/sijms/go-ora/v2"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

var (
	oraCodePattern   = regexp.MustCompile(`ORA-(\d{5})`)
	oraDeadlockState = regexp.MustCompile(`\b(?:61000|17081)\b`)
)

type oracle struct {
	base
}

func newOracle() *oracle {
	return &oracle{base{
		vendor:         Oracle,
		driver:         "oracle",
		minVersion:     "10.1",
		versionQuery:   "SELECT version FROM product_component_version WHERE product LIKE 'Oracle%'",
		maxConnQuery:   "SELECT value FROM v$parameter WHERE name = 'processes'",
		maxStatement:   64 << 20,
		inlineComments: true,
		separator:      ";\n",
		identCase:      upperCase,
		types: []ct.NativeType{
			withScale("NUMBER", ct.Numeric, 38),
			withLength("FLOAT", ct.Double, 126),
			plain("BINARY_FLOAT", ct.Real),
			plain("BINARY_DOUBLE", ct.Double),
			quote(withLength("CHAR", ct.Char, 2000)),
			quote(withLength("NCHAR", ct.NChar, 2000)),
			quote(withLength("VARCHAR2", ct.VarChar, 4000)),
			quote(withLength("NVARCHAR2", ct.NVarChar, 4000)),
			quote(plain("LONG", ct.LongVarChar)),
			quote(plain("CLOB", ct.Clob)),
			quote(plain("NCLOB", ct.Clob)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			withLength("RAW", ct.VarBinary, 2000),
			plain("LONG RAW", ct.LongVarBinary),
			plain("BLOB", ct.Blob),
			quote(plain("ROWID", ct.Other)),
		},
		aliases: map[string]ct.Alias{
			"BIT":           aliasSized("NUMBER", 1, 0),
			"BOOLEAN":       aliasSized("NUMBER", 1, 0),
			"TINYINT":       aliasSized("NUMBER", 3, 0),
			"SMALLINT":      aliasSized("NUMBER", 5, 0),
			"INTEGER":       aliasSized("NUMBER", 10, 0),
			"BIGINT":        aliasSized("NUMBER", 19, 0),
			"NUMERIC":       alias("NUMBER"),
			"DECIMAL":       alias("NUMBER"),
			"REAL":          alias("BINARY_FLOAT"),
			"DOUBLE":        alias("BINARY_DOUBLE"),
			"VARCHAR":       alias("VARCHAR2"),
			"LONGVARCHAR":   alias("CLOB"),
			"TIME":          alias("DATE"),
			"BINARY":        alias("RAW"),
			"VARBINARY":     alias("RAW"),
			"LONGVARBINARY": alias("BLOB"),
		},
		varcharLimit: 4000,
		largeText:    "CLOB",
	}}
}

// BuildDSN accepts "thin:@host:port:SID", "thin:@//host:port/service" or
// "//host:port/service" and renders it through go-ora's URL builder.
func (d *oracle) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:")
	s = strings.TrimPrefix(s, "oracle:")
	s = strings.TrimPrefix(s, "thin:")
	s = strings.TrimPrefix(s, "@")

	params := map[string]string{}
	var host, port, service string
	if strings.HasPrefix(s, "//") || strings.Contains(s, "/") {
		u := parseConnURL(s)
		host, port, service = u.host, u.port, u.path
		params = u.params
	} else {
		// host:port:SID
		parts := strings.Split(s, ":")
		host = parts[0]
		if len(parts) > 1 {
			port = parts[1]
		}
		if len(parts) > 2 {
			service = parts[2]
			params["SID"] = service
		}
	}
	if host == "" {
		return "", fmt.Errorf("oracle url %q has no host", raw)
	}
	portNum := 1521
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("oracle url %q: bad port: %w", raw, err)
		}
		portNum = n
	}
	if _, sid := params["SID"]; sid {
		service = ""
	}
	return goora.BuildUrl(host, portNum, service, user, password, mergeProps(params, props)), nil
}

func (d *oracle) AddColumnSQL(table, column, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD (%s %s)", table, column, clause)
}

func (d *oracle) AlterColumnSQL(table, column, _, clause string, _ bool) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY (%s %s)", table, column, clause)}
}

func (d *oracle) UpdateStatsSQL(table string) string {
	return fmt.Sprintf("ANALYZE TABLE %s COMPUTE STATISTICS", table)
}

func (d *oracle) TablesQuery() string {
	return "SELECT table_name FROM user_tables"
}

func (d *oracle) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT column_name, data_type, char_length, data_precision, data_scale,
  CASE WHEN nullable = 'Y' THEN 'YES' ELSE 'NO' END, data_default
FROM user_tab_columns
WHERE table_name = %s
ORDER BY column_id`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *oracle) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT i.index_name, c.column_name, c.column_position,
  CASE WHEN c.descend = 'DESC' THEN 1 ELSE 0 END,
  CASE WHEN i.uniqueness = 'UNIQUE' THEN 1 ELSE 0 END
FROM user_indexes i
JOIN user_ind_columns c ON c.index_name = i.index_name
WHERE i.table_name = %s
  AND i.index_name NOT IN (SELECT constraint_name FROM user_constraints WHERE constraint_type = 'P')
ORDER BY i.index_name, c.column_position`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *oracle) ProceduresQuery() string {
	return "SELECT object_name FROM user_procedures WHERE object_type = 'PROCEDURE'"
}

// ClassifyError maps ORA-00060 and SQLSTATE 61000 / code 17081.
func (d *oracle) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	if err == nil {
		return c
	}
	msg := err.Error()
	if m := oraCodePattern.FindStringSubmatch(msg); m != nil {
		c.Code, _ = strconv.Atoi(m[1])
		if c.Code == 60 {
			c.Kind = dberr.KindDeadlock
		}
	}
	if oraDeadlockState.MatchString(msg) {
		c.Kind = dberr.KindDeadlock
		c.SQLState = "61000"
	}
	return c
}

func init() {
	Register(newOracle())
}
