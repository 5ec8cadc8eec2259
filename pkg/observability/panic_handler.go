package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in a background goroutine and logs it.
// Call it deferred at the top of goroutines such as cron jobs and file watchers.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}
