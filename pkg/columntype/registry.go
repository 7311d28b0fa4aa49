// Package columntype maps native SQL type names of each vendor onto a small
// set of standard type names, and renders the DDL fragment for a standard
// type on a given vendor.
package columntype

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// NativeType describes one type as the database names it.
type NativeType struct {
	Name          string
	Code          Code
	Precision     int // maximum length or precision, 0 if unknown
	AcceptsLength bool
	AcceptsScale  bool
	LiteralPrefix string
	LiteralSuffix string
	// EscapePrefix replaces LiteralPrefix when the value contains
	// backslashes, e.g. PostgreSQL E'...'.
	EscapePrefix string
}

// StdName returns the standard type name of the native type.
func (t NativeType) StdName() string {
	return StdTypeName(t.Code)
}

// Literal renders value as a SQL literal of this type.
func (t NativeType) Literal(value string) string {
	prefix := t.LiteralPrefix
	if t.LiteralSuffix == "'" {
		value = strings.ReplaceAll(value, "'", "''")
	}
	if t.EscapePrefix != "" && strings.Contains(value, `\`) {
		prefix = t.EscapePrefix
		value = strings.ReplaceAll(value, `\`, `\\`)
	}
	return prefix + value + t.LiteralSuffix
}

// Alias maps a standard name onto a native type, optionally with fixed
// length and scale.
type Alias struct {
	Name  string
	Size  int
	Scale int
}

// Source supplies the vendor-specific facts a Registry is built from.
type Source interface {
	// NativeTypes lists the vendor's types. The first entry for a code is
	// the preferred native type for that code.
	NativeTypes() []NativeType
	// TypeAliases maps standard names the vendor spells differently.
	TypeAliases() map[string]Alias
	// VarcharLimit returns the longest VARCHAR the vendor supports and the
	// type used beyond it.
	VarcharLimit() (int, string)
	// NullKeyword is appended to nullable column definitions, may be "".
	NullKeyword() string
}

// Registry resolves native types for one database. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	byName       map[string]NativeType
	byCode       map[Code]NativeType
	aliases      map[string]Alias
	varcharLimit int
	largeText    string
	nullKeyword  string
}

// NewRegistry builds a registry from a vendor source.
func NewRegistry(src Source) *Registry {
	r := &Registry{
		byName:  map[string]NativeType{},
		byCode:  map[Code]NativeType{},
		aliases: map[string]Alias{},
	}
	for _, t := range src.NativeTypes() {
		r.add(t)
	}
	for std, alias := range src.TypeAliases() {
		r.aliases[strings.ToUpper(std)] = alias
	}
	r.varcharLimit, r.largeText = src.VarcharLimit()
	r.nullKeyword = src.NullKeyword()
	return r
}

func (r *Registry) add(t NativeType) {
	t.Name = strings.ToUpper(t.Name)
	if _, ok := r.byName[t.Name]; !ok {
		r.byName[t.Name] = t
	}
	if _, ok := r.byCode[t.Code]; !ok {
		r.byCode[t.Code] = t
	}
}

// BaseName strips parameters and normalizes case: "varchar(20)" → "VARCHAR".
func BaseName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	return strings.ToUpper(name)
}

// SizeOf extracts declared parameters: "NUMERIC(10,2)" → 10, 2.
func SizeOf(declared string) (size, scale int) {
	open := strings.IndexByte(declared, '(')
	end := strings.LastIndexByte(declared, ')')
	if open < 0 || end <= open {
		return 0, 0
	}
	parts := strings.Split(declared[open+1:end], ",")
	size, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		scale, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return size, scale
}

// FindType resolves a native type by name. Parameters are ignored.
func (r *Registry) FindType(name string) (NativeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[BaseName(name)]
	return t, ok
}

// FindTypeByCode returns the preferred native type for a code.
func (r *Registry) FindTypeByCode(code Code) (NativeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byCode[code]
	return t, ok
}

// CodeOfNative returns the code of a native type name, Other if unknown.
func (r *Registry) CodeOfNative(name string) Code {
	if t, ok := r.FindType(name); ok {
		return t.Code
	}
	if code, ok := CodeOf(BaseName(name)); ok {
		return code
	}
	return Other
}

// StdTypeName returns the standard name of a code.
func (r *Registry) StdTypeName(code Code) string {
	return StdTypeName(code)
}

// Learn records a native type seen in result metadata that the vendor table
// did not list. Known names are left untouched.
func (r *Registry) Learn(name string, code Code) NativeType {
	key := BaseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byName[key]; ok {
		return t
	}
	t := NativeType{Name: key, Code: code}
	if code.IsText() || code.IsTemporal() {
		t.LiteralPrefix, t.LiteralSuffix = "'", "'"
	}
	r.byName[key] = t
	return t
}

// Names lists every known native type name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the native type a standard name is created as, together
// with any fixed parameters imposed by the vendor alias.
func (r *Registry) Resolve(std string, size int) (NativeType, Alias, error) {
	std = BaseName(std)
	r.mu.RLock()
	defer r.mu.RUnlock()

	alias, aliased := r.aliases[std]
	name := std
	if aliased {
		name = alias.Name
	}
	if isCharType(std) && r.varcharLimit > 0 && size > r.varcharLimit && r.largeText != "" {
		name = r.largeText
		alias = Alias{Name: r.largeText}
	}
	t, ok := r.byName[strings.ToUpper(name)]
	if !ok {
		return NativeType{}, Alias{}, fmt.Errorf("unknown type %q", std)
	}
	return t, alias, nil
}

func isCharType(std string) bool {
	switch std {
	case "VARCHAR", "CHAR", "NVARCHAR", "NCHAR":
		return true
	}
	return false
}

// NativeDecl renders the native type for a standard type with its
// parameters when the native type accepts them: "VARCHAR(40)".
func (r *Registry) NativeDecl(std string, size, scale int) (string, NativeType, error) {
	t, alias, err := r.Resolve(std, size)
	if err != nil {
		return "", NativeType{}, err
	}
	if alias.Size > 0 {
		size, scale = alias.Size, alias.Scale
	}
	decl := t.Name
	if t.AcceptsLength && size > 0 {
		if t.AcceptsScale && scale > 0 {
			decl = fmt.Sprintf("%s(%d,%d)", t.Name, size, scale)
		} else {
			decl = fmt.Sprintf("%s(%d)", t.Name, size)
		}
	}
	return decl, t, nil
}

// CreateParam renders the column type clause for a standard type: native
// name, parameters when the native type accepts them, DEFAULT and
// nullability.
func (r *Registry) CreateParam(std string, size, scale int, nullable bool, def *string) (string, error) {
	return r.createParam(std, size, scale, nullable, def, false)
}

// ColumnClause is CreateParam for a column definition. An expression
// default is written as is.
func (r *Registry) ColumnClause(def ColumnDef) (string, error) {
	return r.createParam(def.Type, def.Size, def.Scale, def.Nullable, def.Default, def.DefaultExpr)
}

func (r *Registry) createParam(std string, size, scale int, nullable bool, def *string, expr bool) (string, error) {
	decl, t, err := r.NativeDecl(std, size, scale)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(decl)
	if def != nil {
		b.WriteString(" DEFAULT ")
		switch {
		case expr && strings.Contains(*def, "("):
			// function defaults must be parenthesised on sqlite and mysql
			b.WriteString("(" + *def + ")")
		case !expr && (t.LiteralPrefix != "" || t.LiteralSuffix != ""):
			b.WriteString(t.Literal(*def))
		default:
			b.WriteString(*def)
		}
	}
	if !nullable {
		b.WriteString(" NOT NULL")
	} else if r.nullKeyword != "" {
		b.WriteString(" ")
		b.WriteString(r.nullKeyword)
	}
	return b.String(), nil
}
