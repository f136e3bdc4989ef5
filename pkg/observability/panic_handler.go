package observability

import (
	"fmt"
	"runtime/debug"
)

// Recover must be deferred directly. A panic in the deferring goroutine is
// logged with its stack and swallowed. then runs afterwards in every case,
// so the goroutine can still report to whoever is waiting on it.
//
//	defer observability.Recover(logger, "auth strategy jwt", func() { done <- res })
func Recover(logger *Logger, where string, then func()) {
	if v := recover(); v != nil {
		logger.WithFields(map[string]interface{}{
			"panic": fmt.Sprint(v),
			"where": where,
			"stack": string(debug.Stack()),
		}).Error("Recovered from panic")
	}
	if then != nil {
		then()
	}
}
