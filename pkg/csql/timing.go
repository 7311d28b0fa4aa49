package csql

import (
	"context"
	"log/slog"
	rdebug "runtime/debug"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
)

// logTiming records one execution on the timing logger. Slow statements
// carry a stack trace; so does every failure when DEBUG_SHOW_STACK is set.
func (c *CSQL) logTiming(start time.Time, err error) {
	cfg := c.db.Config()
	elapsed := time.Since(start)
	slow := cfg.SlowQueryThreshold > 0 && elapsed > cfg.SlowQueryThreshold

	if err != nil {
		attrs := []any{"database", c.db.String(), "sql", c.sql, "error", err}
		if cfg.DebugShowStack {
			attrs = append(attrs, "stack", string(rdebug.Stack()))
		}
		debug.Debug("statement failed", attrs...)
	}

	if !debug.TimingEnabled() {
		return
	}

	level := slog.LevelInfo
	attrs := []any{
		"database", c.db.String(),
		"sql", c.sql,
		"type", c.sqlType.String(),
		"rows", c.rowCount,
		"elapsed", elapsed,
	}
	if c.warning != nil {
		attrs = append(attrs, "warning", c.warning.Error())
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, "error", err.Error())
	}
	if slow {
		level = slog.LevelWarn
		attrs = append(attrs, "slow", true, "stack", string(rdebug.Stack()))
	} else if err != nil && cfg.DebugShowStack {
		attrs = append(attrs, "stack", string(rdebug.Stack()))
	}
	debug.Timing().Log(context.Background(), level, "sql", attrs...)
}
