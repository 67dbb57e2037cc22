// Package registration owns the notification permission state machine and
// the device token lifecycle: acquire, persist, refresh, revoke, and keeping
// the backend's stored token in sync across restarts.
//
// Every operation fails softly: step failures are recorded as a diagnostic
// error reachable via Err(), and downstream features degrade to "no push"
// instead of crashing the app.
package registration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/observability/metrics"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/push"
)

// TokenSyncer is the backend surface the manager needs. Implemented by
// backend.Client.
type TokenSyncer interface {
	UpdateToken(ctx context.Context, token string) error
	DeleteToken(ctx context.Context) error
}

// TokenCache is the persistent local token storage. Implemented by
// tokenstore.Store.
type TokenCache interface {
	Save(token string) error
	Current() (string, error)
	Clear() error
}

// AgentController is the manager's view of the background delivery agent.
// Implemented by agent.Agent.
type AgentController interface {
	Active() bool
	Send(msg push.Message)
}

// Config holds manager tuning parameters
type Config struct {
	// OperationTimeout bounds permission-gated operations; on expiry the
	// system is left in the pre-call state (no token)
	OperationTimeout time.Duration
	// AgentCheckTimeout bounds the agent readiness probe
	AgentCheckTimeout time.Duration
}

// DefaultConfig returns default manager configuration
func DefaultConfig() Config {
	return Config{
		OperationTimeout:  15 * time.Second,
		AgentCheckTimeout: 2 * time.Second,
	}
}

// Manager is the single source of truth for "can we deliver, and are we
// correctly registered to receive".
type Manager struct {
	config     Config
	provider   provider.Provider
	backend    TokenSyncer
	cache      TokenCache
	agent      AgentController
	permission PermissionAPI
	deliver    provider.DeliverFunc
	metrics    *metrics.PushMetrics

	mu      sync.Mutex
	token   string
	lastErr error

	logger *slog.Logger
}

// New creates a registration manager. The deliver sink, when non-nil, is
// subscribed with the provider once a token is acquired; metrics may be nil.
func New(config Config, prov provider.Provider, be TokenSyncer, cache TokenCache,
	ag AgentController, perm PermissionAPI, deliver provider.DeliverFunc, m *metrics.PushMetrics) *Manager {

	if config.OperationTimeout <= 0 {
		config.OperationTimeout = DefaultConfig().OperationTimeout
	}
	if config.AgentCheckTimeout <= 0 {
		config.AgentCheckTimeout = DefaultConfig().AgentCheckTimeout
	}

	logger := logging.ForService("registration")
	if logger == nil {
		logger = slog.Default().With("service", "registration")
	}

	return &Manager{
		config:     config,
		provider:   prov,
		backend:    be,
		cache:      cache,
		agent:      ag,
		permission: perm,
		deliver:    deliver,
		metrics:    m,
		logger:     logger,
	}
}

// Initialize verifies the agent is active, reads the permission state, and
// if granted acquires or refreshes the device token and pushes it to the
// backend. Idempotent: safe to call on every page load; repeated calls never
// cause duplicate registrations. Never returns an error: failures are
// recorded via Err().
func (m *Manager) Initialize(ctx context.Context) {
	m.clearErr()

	if !m.CheckAgentActive(ctx) {
		m.recordErr(errors.Newf("background delivery agent is not available").
			Component("registration").
			Category(errors.CategoryAgentUnavailable).
			Build())
		return
	}

	state := m.permission.Current()
	m.logger.Debug("initialize", "permission", state)

	if state != push.PermissionGranted {
		// Nothing to do: unasked waits for an explicit user request, denied
		// is sticky until changed outside the app.
		return
	}

	m.acquireAndSync(ctx)
}

// RequestPermission acquires a token after obtaining permission. If already
// granted it behaves like a token refresh; if unasked it triggers the
// platform prompt; if denied it does nothing (the prompt is never repeated
// programmatically). Returns the token, or an empty string on any failure
// with the cause available via Err().
func (m *Manager) RequestPermission(ctx context.Context) string {
	m.clearErr()

	if !m.CheckAgentActive(ctx) {
		m.recordErr(errors.Newf("background delivery agent is not available").
			Component("registration").
			Category(errors.CategoryAgentUnavailable).
			Build())
		return ""
	}

	switch m.permission.Current() {
	case push.PermissionGranted:
		// Token may have rotated since last use
		return m.acquireAndSync(ctx)

	case push.PermissionDenied:
		m.recordErr(errors.Newf("notification permission is denied").
			Component("registration").
			Category(errors.CategoryPermissionDenied).
			Build())
		return ""

	case push.PermissionUnasked:
		promptCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
		defer cancel()

		state, err := m.permission.Request(promptCtx)
		if err != nil {
			m.recordErr(errors.New(err).
				Component("registration").
				Category(errors.CategoryPermissionDenied).
				Context("operation", "request_permission").
				Build())
			return ""
		}
		if state != push.PermissionGranted {
			m.recordErr(errors.Newf("notification permission was not granted: %s", state).
				Component("registration").
				Category(errors.CategoryPermissionDenied).
				Build())
			return ""
		}
		return m.acquireAndSync(ctx)
	}

	return ""
}

// RemoveToken revokes the device token with the provider and the backend and
// clears the local cache. Best effort: called on logout, it must not block
// logout on failure. Local state is always cleared.
func (m *Manager) RemoveToken(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	if err := m.provider.DeleteToken(opCtx); err != nil {
		m.logger.Warn("provider token deletion failed", "error", err)
	}
	if err := m.backend.DeleteToken(opCtx); err != nil {
		m.logger.Warn("backend token deletion failed", "error", err)
	}
	if err := m.cache.Clear(); err != nil {
		m.logger.Warn("local token cache clear failed", "error", err)
	}

	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TokenRevokesTotal.Inc()
	}
	m.logger.Info("device token removed")
}

// CheckAgentActive ensures the background delivery agent is installed and
// responding. A waiting agent version is told to activate immediately; an
// active one answers a no-op readiness probe.
func (m *Manager) CheckAgentActive(ctx context.Context) bool {
	if m.agent == nil {
		return false
	}

	if !m.agent.Active() {
		// A newly installed version may be waiting; force activation the way
		// a page does after deploying a new agent.
		m.agent.Send(push.Message{Type: push.MessageSkipWaiting})
	}

	reply := make(chan push.Message, 1)
	m.agent.Send(push.Message{Type: push.MessageCheckAgent, Reply: reply})

	select {
	case msg := <-reply:
		return msg.Type == push.MessageAgentActive
	case <-time.After(m.config.AgentCheckTimeout):
		return false
	case <-ctx.Done():
		return false
	}
}

// Token returns the in-memory device token, or "" if none is registered
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Err returns the diagnostic error from the last failed operation, or nil
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError dismisses the diagnostic error
func (m *Manager) ClearError() {
	m.clearErr()
}

// acquireAndSync obtains the current token from the provider, persists it,
// syncs the backend when the registered value changed, and starts payload
// delivery. Returns the token or "" on failure.
func (m *Manager) acquireAndSync(ctx context.Context) string {
	opCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	token, err := m.provider.Token(opCtx)
	if err != nil || token == "" {
		if err == nil {
			err = errors.NewStd("provider returned an empty token")
		}
		m.recordErr(errors.New(err).
			Component("registration").
			Category(errors.CategoryTokenAcquisition).
			Build())
		return ""
	}

	previous, err := m.cache.Current()
	if err != nil {
		m.logger.Warn("reading cached token failed", "error", err)
	}

	m.mu.Lock()
	alreadySynced := m.token == token
	m.mu.Unlock()

	if !alreadySynced || previous != token {
		if err := m.cache.Save(token); err != nil {
			m.logger.Warn("persisting token failed", "error", err)
		}

		// Idempotent upsert: the backend supersedes any previous token for
		// this installation, so a rotation never leaves a stale registration.
		if err := m.backend.UpdateToken(opCtx, token); err != nil {
			if m.metrics != nil {
				m.metrics.TokenSyncsTotal.WithLabelValues("error").Inc()
			}
			m.recordErr(errors.New(err).
				Component("registration").
				Category(errors.CategoryBackendSync).
				Build())
			// Leave the pre-call state: an unsynced token is not kept
			m.mu.Lock()
			m.token = ""
			m.mu.Unlock()
			return ""
		}
		if m.metrics != nil {
			m.metrics.TokenSyncsTotal.WithLabelValues("success").Inc()
		}
		if previous != "" && previous != token {
			m.logger.Info("device token rotated", "previous_suffix", suffix(previous), "token_suffix", suffix(token))
		} else {
			m.logger.Info("device token registered", "token_suffix", suffix(token))
		}
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	if m.deliver != nil {
		if err := m.provider.Subscribe(opCtx, token, m.deliver); err != nil {
			// Delivery failure is not a registration failure; the token is
			// valid and the next Initialize retries the subscription.
			m.logger.Warn("provider subscription failed", "error", err)
		}
	}

	return token
}

func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("registration operation failed", "error", err)
}

func (m *Manager) clearErr() {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()
}

// suffix returns the tail of a token for log correlation without exposing
// the full credential.
func suffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
