package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Out, Err, color.NoColor = prevOut, prevErr, prevColor })
	return &out, &errOut
}

func TestRenderTable(t *testing.T) {
	s, err := RenderTable([]string{"id", "name"}, [][]string{{"1", "apple"}, {"2", "pear"}})
	require.NoError(t, err)
	assert.Contains(t, s, "name")
	assert.Contains(t, s, "apple")
	assert.Contains(t, s, "pear")
}

func TestPrintKeyValues(t *testing.T) {
	out, _ := capture(t)
	PrintKeyValues([][2]string{{"vendor", "sqlite"}, {"max connections", "4"}})
	assert.Equal(t, "vendor:          sqlite\nmax connections: 4\n", out.String())
}

func TestMessagesGoToTheirStreams(t *testing.T) {
	out, errOut := capture(t)
	PrintSuccess("created %s", "widget")
	PrintError("failed %d", 2)
	PrintWarning("slow")

	assert.Contains(t, out.String(), "created widget")
	assert.Contains(t, errOut.String(), "failed 2")
	assert.Contains(t, errOut.String(), "slow")
	assert.NotContains(t, out.String(), "failed")
}
