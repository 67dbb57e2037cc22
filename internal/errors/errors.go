// Package errors provides enhanced error handling for the emspush client.
// Errors carry a component, a category from the push-delivery error taxonomy,
// and arbitrary context, and can be reported to telemetry without the
// originating package knowing whether telemetry is enabled.
package errors

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrorCategory represents the failure class of an error
type ErrorCategory string

const (
	// CategoryPermissionDenied indicates the user denied the notification
	// permission; sticky, never retried programmatically
	CategoryPermissionDenied ErrorCategory = "permission-denied"
	// CategoryAgentUnavailable indicates the background delivery agent could
	// not be installed or is not responding
	CategoryAgentUnavailable ErrorCategory = "agent-unavailable"
	// CategoryTokenAcquisition indicates the push provider was reachable but
	// token issuance failed
	CategoryTokenAcquisition ErrorCategory = "token-acquisition"
	// CategoryBackendSync indicates a token or read-state round trip with the
	// backend failed
	CategoryBackendSync ErrorCategory = "backend-sync"
	// CategoryRender indicates a system notification display call failed
	CategoryRender ErrorCategory = "render-failed"
	// CategoryNetwork indicates a generic network failure
	CategoryNetwork ErrorCategory = "network"
	// CategoryValidation indicates invalid input or state
	CategoryValidation ErrorCategory = "validation"
	// CategoryConfiguration indicates invalid or missing configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryNotFound indicates a missing resource
	CategoryNotFound ErrorCategory = "not-found"
	// CategorySystem indicates an internal failure
	CategorySystem ErrorCategory = "system"
	// CategoryGeneric is used when no category was assigned
	CategoryGeneric ErrorCategory = "generic"
)

// EnhancedError wraps an error with component, category and context metadata
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	reported bool
	mu       sync.Mutex
}

// Error returns the underlying error message
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap returns the wrapped error for errors.Is/As chains
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is reports whether target matches this error or its chain
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Component == other.Component && ee.Category == other.Category
	}
	return errors.Is(ee.Err, target)
}

// GetComponent returns the component that produced the error
func (ee *EnhancedError) GetComponent() string { return ee.Component }

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() ErrorCategory { return ee.Category }

// GetContext returns a copy of the error context map
func (ee *EnhancedError) GetContext() map[string]any {
	ctx := make(map[string]any, len(ee.Context))
	for k, v := range ee.Context {
		ctx[k] = v
	}
	return ctx
}

// MarkReported flags the error as already sent to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns true if the error was already sent to telemetry
func (ee *EnhancedError) IsReported() bool {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	return ee.reported
}

// ErrorBuilder provides a fluent API for constructing enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates an error builder from an existing error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf creates an error builder from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key-value pair to the error context
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError and reports it to telemetry if a reporter
// has been installed
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}

	reporterMu.RLock()
	reporter := telemetryReporter
	reporterMu.RUnlock()
	if reporter != nil {
		reporter(ee)
	}

	return ee
}

// telemetryReporter is installed by the telemetry package at startup.
// Keeping it as a callback avoids an import cycle between errors and
// telemetry.
var (
	telemetryReporter func(*EnhancedError)
	reporterMu        sync.RWMutex
)

// SetTelemetryReporter installs the telemetry reporting callback. Passing nil
// disables reporting.
func SetTelemetryReporter(reporter func(*EnhancedError)) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if errors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// IsNotFound checks if an error indicates a missing resource
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// Standard library passthroughs so callers only import this package.

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target
func As(err error, target any) bool { return errors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join wraps a list of errors into a single error
func Join(errs ...error) error { return errors.Join(errs...) }

// NewStd creates a plain standard library error without enhancement
func NewStd(text string) error { return errors.New(text) }
