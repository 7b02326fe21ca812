// Package errtrack reports unexpected failures of scheduled runs and
// provider calls to Sentry. All functions are no-ops until Init succeeds.
package errtrack

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"outreach-backend/pkg/logger"
)

var enabled bool

// Init configures the Sentry client. An empty DSN disables reporting.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		logger.Info("error tracking disabled: no SENTRY_DSN")
		enabled = false
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Tags == nil {
				event.Tags = make(map[string]string)
			}
			event.Tags["service"] = "outreach-backend"
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	enabled = true
	logger.Info("error tracking initialized", zap.String("environment", environment))
	return nil
}

// IsEnabled reports whether events are being sent.
func IsEnabled() bool {
	return enabled
}

// CaptureError sends err with the given tags.
func CaptureError(err error, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func Flush(timeout time.Duration) {
	if !enabled {
		return
	}
	sentry.Flush(timeout)
}
