// Package dberr defines the error taxonomy shared by the database layer.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the class of a database error.
type Kind int

const (
	// KindSQL is a vendor error without a more specific classification.
	KindSQL Kind = iota
	// KindConnectivity means a connection could not be obtained or validated.
	KindConnectivity
	// KindVersion means the server or driver is below the supported minimum.
	KindVersion
	// KindDeadlock is vendor-reported contention, safe to retry higher up.
	KindDeadlock
	// KindTooManyRows means the row cap was exceeded.
	KindTooManyRows
	// KindNoRows means a query expected to return exactly one row returned none.
	KindNoRows
	// KindSchema means a DDL precondition was violated.
	KindSchema
	// KindInterrupted means cancellation was observed.
	KindInterrupted
	// KindAssertion is an invariant violation caused by a caller bug.
	KindAssertion
	// KindReadOnly is a write attempted through a read-only database.
	KindReadOnly
)

var kindNames = map[Kind]string{
	KindSQL:          "sql",
	KindConnectivity: "connectivity",
	KindVersion:      "version",
	KindDeadlock:     "deadlock",
	KindTooManyRows:  "too many rows",
	KindNoRows:       "no rows found",
	KindSchema:       "schema",
	KindInterrupted:  "interrupted",
	KindAssertion:    "assertion",
	KindReadOnly:     "read only",
}

// String returns the readable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. Every *Error matches the sentinel of its
// kind with errors.Is.
var (
	ErrSQL          = errors.New("dberr: sql error")
	ErrConnectivity = errors.New("dberr: connectivity error")
	ErrVersion      = errors.New("dberr: version error")
	ErrDeadlock     = errors.New("dberr: deadlock")
	ErrTooManyRows  = errors.New("dberr: too many rows")
	ErrNoRows       = errors.New("dberr: no rows found")
	ErrSchema       = errors.New("dberr: schema error")
	ErrInterrupted  = errors.New("dberr: interrupted")
	ErrAssertion    = errors.New("dberr: assertion failed")
	ErrReadOnly     = errors.New("dberr: database is read only")
)

var sentinels = map[Kind]error{
	KindSQL:          ErrSQL,
	KindConnectivity: ErrConnectivity,
	KindVersion:      ErrVersion,
	KindDeadlock:     ErrDeadlock,
	KindTooManyRows:  ErrTooManyRows,
	KindNoRows:       ErrNoRows,
	KindSchema:       ErrSchema,
	KindInterrupted:  ErrInterrupted,
	KindAssertion:    ErrAssertion,
	KindReadOnly:     ErrReadOnly,
}

// Error is a classified database error with enough context to diagnose it
// without re-running the statement.
type Error struct {
	Kind     Kind
	Message  string
	SQL      string
	RowCount int
	Code     int
	SQLState string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != 0 || e.SQLState != "" {
		fmt.Fprintf(&b, " [code=%d state=%s]", e.Code, e.SQLState)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.SQL != "" {
		b.WriteString("\nSQL: ")
		b.WriteString(e.SQL)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Retryable reports whether retrying the whole unit of work may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindDeadlock
}

// Fatal reports whether the error must never be retried.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindVersion, KindAssertion, KindInterrupted, KindReadOnly:
		return true
	}
	return false
}

// WithSQL attaches the offending SQL text.
func (e *Error) WithSQL(sql string) *Error {
	e.SQL = sql
	return e
}

// WithRowCount attaches the number of rows read so far.
func (e *Error) WithRowCount(n int) *Error {
	e.RowCount = n
	return e
}

// WithVendor attaches the vendor error code and SQLSTATE.
func (e *Error) WithVendor(code int, state string) *Error {
	e.Code = code
	e.SQLState = state
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause as kind.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Connectivity creates a connectivity error.
func Connectivity(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConnectivity, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Version creates a version error.
func Version(format string, args ...interface{}) *Error {
	return New(KindVersion, format, args...)
}

// Deadlock classifies cause as a deadlock.
func Deadlock(cause error) *Error {
	return &Error{Kind: KindDeadlock, Message: "transaction aborted by contention", Cause: cause}
}

// TooManyRows reports that more than max rows were returned.
func TooManyRows(max, read int) *Error {
	return &Error{Kind: KindTooManyRows, Message: fmt.Sprintf("more than %d rows returned", max), RowCount: read}
}

// NoRows reports that a single-row query returned nothing.
func NoRows() *Error {
	return &Error{Kind: KindNoRows, Message: "query returned no rows"}
}

// Schema creates a schema precondition error.
func Schema(format string, args ...interface{}) *Error {
	return New(KindSchema, format, args...)
}

// Interrupted reports observed cancellation. cause is usually ctx.Err().
func Interrupted(cause error) *Error {
	return &Error{Kind: KindInterrupted, Message: "operation cancelled", Cause: cause}
}

// Assertion reports an invariant violation.
func Assertion(format string, args ...interface{}) *Error {
	return New(KindAssertion, format, args...)
}

// ReadOnly reports a write refused by read-only protection.
func ReadOnly(format string, args ...interface{}) *Error {
	return New(KindReadOnly, format, args...)
}

// SQL wraps cause as a generic SQL error unless it already is a *Error.
func SQL(cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: KindSQL, Cause: cause}
}

// KindOf returns the kind of err, or KindSQL when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSQL
}

// IsDeadlock checks if an error is a deadlock.
func IsDeadlock(err error) bool {
	return errors.Is(err, ErrDeadlock)
}

// IsTooManyRows checks if an error is a row cap violation.
func IsTooManyRows(err error) bool {
	return errors.Is(err, ErrTooManyRows)
}

// IsNoRows checks if an error is a no-rows error.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// IsInterrupted checks if an error reports cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsReadOnly checks if an error is a refused write.
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}

// IsFatal checks if an error must not be retried.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return false
}
