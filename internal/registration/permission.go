package registration

import (
	"context"
	"sync"

	"github.com/expensems/emspush/internal/push"
)

// PermissionAPI abstracts the platform notification permission surface. The
// state is read-only input from the platform except for Request, which may
// transition unasked to granted or denied through a user-modal prompt.
type PermissionAPI interface {
	// Current returns the platform permission state
	Current() push.PermissionState
	// Request triggers the permission prompt and blocks on the user decision.
	// It must only be called in the unasked state; the platform does not
	// re-prompt once the user has decided.
	Request(ctx context.Context) (push.PermissionState, error)
}

// MemoryPermission is an in-process PermissionAPI. The production runtime
// seeds it from configuration or an interactive prompt; tests drive it
// directly.
type MemoryPermission struct {
	mu      sync.Mutex
	state   push.PermissionState
	decide  func() push.PermissionState
	prompts int
}

// NewMemoryPermission creates a permission surface in the given state. The
// decide function resolves a prompt; it defaults to granting.
func NewMemoryPermission(state push.PermissionState, decide func() push.PermissionState) *MemoryPermission {
	if decide == nil {
		decide = func() push.PermissionState { return push.PermissionGranted }
	}
	return &MemoryPermission{state: state, decide: decide}
}

// Current returns the permission state
func (m *MemoryPermission) Current() push.PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Request resolves the prompt via the decide function. A decided state is
// sticky: prompting again returns it without invoking decide.
func (m *MemoryPermission) Request(ctx context.Context) (push.PermissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return m.state, err
	}
	if m.state != push.PermissionUnasked {
		return m.state, nil
	}

	m.prompts++
	m.state = m.decide()
	return m.state, nil
}

// Prompts returns how many times the user was actually prompted
func (m *MemoryPermission) Prompts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts
}
