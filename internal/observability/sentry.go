package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry enables error capture. An empty DSN leaves capture disabled.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: environment}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	sentryEnabled = true
	return nil
}

// CaptureError reports err when capture is enabled; nil errors are ignored.
func CaptureError(err error) {
	if err == nil || !sentryEnabled {
		return
	}
	sentry.CaptureException(err)
}

// CapturePanic reports a recovered panic value.
func CapturePanic(rec any) {
	if !sentryEnabled {
		return
	}
	sentry.CurrentHub().Recover(rec)
}

// FlushSentry waits for queued events before shutdown.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}
