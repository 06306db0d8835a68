// Package safego launches fire-and-forget goroutines (audit writes, audit batch shipping) that
// must not take the process down when they panic.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// Go runs fn in a new goroutine under the given task name. A panic is recovered, logged with
// its stack and counted in background_panics_total{task}.
func Go(task string, fn func()) {
	go func() {
		defer recoverTask(task)
		fn()
	}()
}

func recoverTask(task string) {
	if r := recover(); r != nil {
		telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
		slog.Error("recovered panic in background goroutine",
			"task", task,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
