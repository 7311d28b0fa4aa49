package dialect

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/thda/tds"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// sybaseBenign are informational message numbers that arrive as errors:
// the rename notice and backup/restore progress reports.
var sybaseBenign = map[int]bool{
	0:    true,
	3211: true,
	3216: true,
	3217: true,
	3218: true,
	3219: true,
	3231: true,
	3232: true,
	3255: true,
	4001: true,
	4002: true,
	4035: true,
	4301: true,
	4302: true,
	4303: true,
	4304: true,
	4305: true,
	4306: true,
	4307: true,
	4308: true,
	4309: true,
	4310: true,
	4311: true,
	8409: true,
}

var sybaseMsgPattern = regexp.MustCompile(`(?i)\bmsg(?:\s*number)?[:\s]+(\d+)`)

type sybase struct {
	base
}

func newSybase() *sybase {
	types := transactSQLTypes()
	types = append(types,
		quote(withLength("UNICHAR", ct.NChar, 8000)),
		quote(withLength("UNIVARCHAR", ct.NVarChar, 8000)),
		quote(plain("UNITEXT", ct.LongVarChar)),
		quote(plain("BIGDATETIME", ct.Timestamp)),
	)
	aliases := transactSQLAliases()
	aliases["BIGINT"] = aliasSized("NUMERIC", 20, 0)
	return &sybase{base{
		vendor:         Sybase,
		driver:         "tds",
		minVersion:     "12.5",
		versionQuery:   "SELECT @@version",
		maxConnQuery:   "SELECT @@max_connections",
		maxStatement:   16 << 20,
		inlineComments: true,
		separator:      "\ngo\n",
		props:          map[string]string{"charset": "utf8"},
		types:          types,
		aliases:        aliases,
		varcharLimit:   1900,
		largeText:      "TEXT",
		nullKeyword:    "NULL",
	}}
}

// BuildDSN renders a tds:// URL from "jdbc:sybase:Tds:host:port/db".
func (d *sybase) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	u := parseConnURL(raw, "sybase:Tds:", "sybase:", "tds:")
	if u.host == "" {
		return "", fmt.Errorf("sybase url %q has no host", raw)
	}
	params := mergeProps(u.params, props)
	return urlDSN("tds", user, password, u.addr("5000"), u.path, params), nil
}

// EmulatesMaxRows: the driver has no native row cap, so the session one is
// used and reset after each query.
func (d *sybase) EmulatesMaxRows() bool { return true }

func (d *sybase) RowCountSQL(n int) string {
	return "SET ROWCOUNT " + strconv.Itoa(n)
}

func (d *sybase) AlterColumnSQL(table, column, _, clause string, _ bool) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY %s %s", table, column, clause)}
}

func (d *sybase) RenameColumnSQL(table, from, to, _ string) string {
	return fmt.Sprintf("sp_rename '%s.%s', '%s'", table, from, to)
}

func (d *sybase) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("sp_rename '%s', '%s'", from, to)
}

func (d *sybase) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s.%s", table, name)
}

func (d *sybase) RenameIndexSQL(table, from, to string) string {
	return fmt.Sprintf("sp_rename '%s.%s', '%s', 'index'", table, from, to)
}

func (d *sybase) UpdateStatsSQL(table string) string {
	return "UPDATE STATISTICS " + table
}

func (d *sybase) TablesQuery() string {
	return "SELECT name FROM sysobjects WHERE type = 'U'"
}

func (d *sybase) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT c.name, t.name, c.length, c.prec, c.scale,
  CASE WHEN (c.status & 8) = 8 THEN 'YES' ELSE 'NO' END,
  NULL
FROM syscolumns c
JOIN systypes t ON t.usertype = c.usertype
WHERE c.id = OBJECT_ID(%s)
ORDER BY c.colid`, d.EncodeString(table))
}

// IndexesQuery walks the key slots of sysindexes; index_col returns NULL
// past the last key.
func (d *sybase) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT i.name, index_col(o.name, i.indid, k.n), k.n,
  CASE WHEN index_colorder(o.name, i.indid, k.n) = 'DESC' THEN 1 ELSE 0 END,
  CASE WHEN (i.status & 2) = 2 THEN 1 ELSE 0 END
FROM sysindexes i
JOIN sysobjects o ON o.id = i.id
JOIN (SELECT 1 n UNION SELECT 2 UNION SELECT 3 UNION SELECT 4 UNION SELECT 5
  UNION SELECT 6 UNION SELECT 7 UNION SELECT 8 UNION SELECT 9 UNION SELECT 10
  UNION SELECT 11 UNION SELECT 12 UNION SELECT 13 UNION SELECT 14 UNION SELECT 15
  UNION SELECT 16) k ON k.n <= i.keycnt
WHERE o.name = %s AND i.indid > 0 AND i.indid < 255
  AND index_col(o.name, i.indid, k.n) IS NOT NULL
ORDER BY i.name, k.n`, d.EncodeString(table))
}

func (d *sybase) ProceduresQuery() string {
	return "SELECT name FROM sysobjects WHERE type = 'P'"
}

// ClassifyError takes the message number from the driver's server error,
// or from the message text when the error has lost its type: 1205 is a
// deadlock, informational numbers are benign.
func (d *sybase) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	if err == nil {
		return c
	}
	code, ok := sybaseMsgNumber(err)
	if !ok {
		return c
	}
	c.Code = code
	if c.Code == 1205 {
		c.Kind = dberr.KindDeadlock
	}
	c.Benign = sybaseBenign[c.Code]
	return c
}

func sybaseMsgNumber(err error) (int, bool) {
	var syb tds.SybError
	if errors.As(err, &syb) {
		return int(syb.MsgNumber), true
	}
	var sybp *tds.SybError
	if errors.As(err, &sybp) && sybp != nil {
		return int(sybp.MsgNumber), true
	}
	if m := sybaseMsgPattern.FindStringSubmatch(err.Error()); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	return 0, false
}

func init() {
	Register(newSybase())
}
