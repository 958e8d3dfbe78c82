package safe

import (
	"PRelay/logger"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a new goroutine that recovers from panic,
// so that one misbehaving connection doesn't crash the relay.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred; it logs and swallows a panic.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[SafeGo] panic recovered", zap.String("goroutine", name), zap.Error(errs.ErrPanic(r)))
	}
}

// DefaultString returns s, or the fallback if s is empty.
func DefaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
