package dberr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		sentinel error
	}{
		{"deadlock", Deadlock(errors.New("deadlock detected")), ErrDeadlock},
		{"too many rows", TooManyRows(10, 11), ErrTooManyRows},
		{"no rows", NoRows(), ErrNoRows},
		{"schema", Schema("table %s missing", "t"), ErrSchema},
		{"interrupted", Interrupted(context.Canceled), ErrInterrupted},
		{"assertion", Assertion("autocommit off"), ErrAssertion},
		{"version", Version("too old"), ErrVersion},
		{"connectivity", Connectivity(nil, "pool timeout"), ErrConnectivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.err.Kind, KindOf(wrapped))
		})
	}
}

func TestErrorKeepsCauseChain(t *testing.T) {
	err := Interrupted(context.Canceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, IsInterrupted(err))
	assert.True(t, IsFatal(err))
}

func TestRetryableAndFatal(t *testing.T) {
	assert.True(t, Deadlock(errors.New("x")).Retryable())
	assert.False(t, Deadlock(errors.New("x")).Fatal())
	assert.True(t, Version("old").Fatal())
	assert.True(t, Assertion("bad").Fatal())
	assert.True(t, ReadOnly("no writes").Fatal())
	assert.True(t, IsReadOnly(fmt.Errorf("wrapped: %w", ReadOnly("no writes"))))
	assert.False(t, NoRows().Retryable())
}

func TestSQLWrapsOnlyUnclassified(t *testing.T) {
	plain := errors.New("syntax error")
	wrapped := SQL(plain)
	require.Error(t, wrapped)
	assert.Equal(t, KindSQL, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, plain))

	classified := Deadlock(plain)
	assert.Same(t, classified, SQL(classified))
	assert.Nil(t, SQL(nil))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := TooManyRows(5, 6).WithSQL("select * from t")
	msg := err.Error()
	assert.Contains(t, msg, "more than 5 rows")
	assert.Contains(t, msg, "select * from t")
	assert.Equal(t, 6, err.RowCount)

	vendor := Wrap(KindSQL, errors.New("boom"), "execute").WithVendor(1205, "40001")
	assert.Contains(t, vendor.Error(), "code=1205")
	assert.Contains(t, vendor.Error(), "state=40001")
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindSQL, KindOf(errors.New("x")))
	assert.Equal(t, "deadlock", KindDeadlock.String())
}
