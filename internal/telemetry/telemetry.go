// Package telemetry reports enhanced errors to Sentry. Reporting is opt-in;
// when disabled every call is a no-op so callers never need to check.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/expensems/emspush/internal/conf"
	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/logging"
)

var (
	enabled bool
	logger  *slog.Logger
)

// Init configures Sentry from settings and installs the error reporter.
// With telemetry disabled it only clears any previously installed reporter.
func Init(settings *conf.Settings) error {
	logger = logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}

	if !settings.Sentry.Enabled || settings.Sentry.DSN == "" {
		enabled = false
		errors.SetTelemetryReporter(nil)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}

	enabled = true
	errors.SetTelemetryReporter(reportEnhancedError)
	logger.Info("telemetry enabled")
	return nil
}

// Flush waits for buffered events to be sent; call during shutdown
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}

// reportEnhancedError forwards one enhanced error to Sentry, tagged with its
// component and category. Each error is reported at most once.
func reportEnhancedError(ee *errors.EnhancedError) {
	if !enabled || ee == nil || ee.IsReported() {
		return
	}
	ee.MarkReported()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.GetCategory()))
		for k, v := range ee.GetContext() {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(ee)
	})
}
