package cmdlog

import (
	"time"

	"threadlens/internal/logging"
	"threadlens/internal/metrics"
)

// Run executes f as the named command, counting runs and failures and logging the outcome.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	if err != nil {
		metrics.IncCommandError(cmd)
		logging.Error(cmd+"_error", map[string]any{"error": err.Error()})
	} else {
		logging.Info(cmd+"_ok", map[string]any{"took_ms": time.Since(start).Milliseconds()})
	}
	return err
}
