package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitWriterTogglesDebug(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	Debug("hidden", "k", 1)
	assert.Empty(t, buf.String())
	assert.False(t, Enabled())

	InitWriter(&buf, true)
	defer InitWriter(&buf, false)
	Debug("shown", "k", 2)
	assert.True(t, Enabled())
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=2")
}

func TestTimingLogger(t *testing.T) {
	var buf bytes.Buffer
	InitTiming(&buf, true)
	defer InitTiming(nil, false)

	assert.True(t, TimingEnabled())
	Timing().Debug("executed", "sql", "select 1")
	assert.Contains(t, buf.String(), "logger=sql.timing")
	assert.Contains(t, buf.String(), `sql="select 1"`)
}
