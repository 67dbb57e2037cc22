package registration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/provider"
	"github.com/expensems/emspush/internal/push"
)

// fakeSyncer records backend token calls and injects failures
type fakeSyncer struct {
	mu        sync.Mutex
	updates   []string
	deletes   int
	updateErr error
	deleteErr error
}

func (f *fakeSyncer) UpdateToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, token)
	return nil
}

func (f *fakeSyncer) DeleteToken(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.deleteErr
}

func (f *fakeSyncer) updateCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updates...)
}

// fakeCache is an in-memory TokenCache
type fakeCache struct {
	mu    sync.Mutex
	token string
}

func (f *fakeCache) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	return nil
}

func (f *fakeCache) Current() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeCache) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

// fakeAgent answers readiness probes like an activated delivery agent
type fakeAgent struct {
	mu           sync.Mutex
	active       bool
	skipWaitings int
}

func (f *fakeAgent) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeAgent) Send(msg push.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch msg.Type {
	case push.MessageSkipWaiting:
		f.skipWaitings++
		f.active = true
	case push.MessageCheckAgent:
		if f.active && msg.Reply != nil {
			msg.Reply <- push.Message{Type: push.MessageAgentActive}
		}
	}
}

type managerFixture struct {
	manager    *Manager
	provider   *provider.MockProvider
	backend    *fakeSyncer
	cache      *fakeCache
	agent      *fakeAgent
	permission *MemoryPermission
	delivered  []*push.Payload
}

func newFixture(state push.PermissionState, decide func() push.PermissionState) *managerFixture {
	f := &managerFixture{
		provider:   provider.NewMockProvider(),
		backend:    &fakeSyncer{},
		cache:      &fakeCache{},
		agent:      &fakeAgent{active: true},
		permission: NewMemoryPermission(state, decide),
	}
	deliver := func(payload *push.Payload) {
		f.delivered = append(f.delivered, payload)
	}
	f.manager = New(DefaultConfig(), f.provider, f.backend, f.cache,
		f.agent, f.permission, deliver, nil)
	return f
}

func TestInitializeGrantedAcquiresAndSyncsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	ctx := context.Background()

	f.manager.Initialize(ctx)
	require.NoError(t, f.manager.Err())
	require.Equal(t, "mock-token-1", f.manager.Token())
	assert.True(t, f.provider.Subscribed())

	cached, err := f.cache.Current()
	require.NoError(t, err)
	assert.Equal(t, "mock-token-1", cached)

	// Repeated page loads must not re-register
	f.manager.Initialize(ctx)
	f.manager.Initialize(ctx)

	assert.Equal(t, []string{"mock-token-1"}, f.backend.updateCalls(),
		"same token is synced to the backend exactly once")
}

func TestInitializeUnaskedDoesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionUnasked, nil)
	f.manager.Initialize(context.Background())

	assert.NoError(t, f.manager.Err())
	assert.Empty(t, f.manager.Token())
	assert.Zero(t, f.permission.Prompts(), "initialization never prompts")
	assert.Empty(t, f.backend.updateCalls())
}

func TestInitializeDeniedDoesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionDenied, nil)
	f.manager.Initialize(context.Background())

	assert.NoError(t, f.manager.Err(), "denied is a valid resting state, not an error")
	assert.Empty(t, f.manager.Token())
}

func TestInitializeAgentUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)

	// A waiting agent is nudged to activate before the probe
	f.agent.mu.Lock()
	f.agent.active = false
	f.agent.mu.Unlock()

	f.manager.Initialize(context.Background())
	assert.NoError(t, f.manager.Err())
	assert.Equal(t, 1, f.agent.skipWaitings)

	// No agent at all is a hard stop
	mgr := New(DefaultConfig(), f.provider, f.backend, f.cache, nil, f.permission, nil, nil)
	mgr.Initialize(context.Background())
	assert.True(t, errors.IsCategory(mgr.Err(), errors.CategoryAgentUnavailable))
}

func TestRequestPermissionDeniedIsSticky(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionDenied, nil)

	token := f.manager.RequestPermission(context.Background())

	assert.Empty(t, token)
	assert.Zero(t, f.permission.Prompts(), "denied permission is never re-prompted")
	assert.True(t, errors.IsCategory(f.manager.Err(), errors.CategoryPermissionDenied))
}

func TestRequestPermissionPromptGranted(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionUnasked, func() push.PermissionState {
		return push.PermissionGranted
	})

	token := f.manager.RequestPermission(context.Background())

	require.NoError(t, f.manager.Err())
	assert.Equal(t, "mock-token-1", token)
	assert.Equal(t, 1, f.permission.Prompts())
	assert.Equal(t, []string{"mock-token-1"}, f.backend.updateCalls())
}

func TestRequestPermissionPromptDenied(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionUnasked, func() push.PermissionState {
		return push.PermissionDenied
	})

	token := f.manager.RequestPermission(context.Background())

	assert.Empty(t, token)
	assert.True(t, errors.IsCategory(f.manager.Err(), errors.CategoryPermissionDenied))
	assert.Empty(t, f.backend.updateCalls())
}

func TestRequestPermissionGrantedRefreshesRotatedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	ctx := context.Background()

	f.manager.Initialize(ctx)
	require.Equal(t, "mock-token-1", f.manager.Token())

	f.provider.Rotate()

	token := f.manager.RequestPermission(ctx)

	require.Equal(t, "mock-token-2", token)
	assert.Equal(t, []string{"mock-token-1", "mock-token-2"}, f.backend.updateCalls(),
		"a rotated token is re-registered with the backend")

	cached, err := f.cache.Current()
	require.NoError(t, err)
	assert.Equal(t, "mock-token-2", cached)
}

func TestBackendSyncFailureKeepsPreCallState(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	f.backend.updateErr = errors.NewStd("backend down")

	f.manager.Initialize(context.Background())

	assert.Empty(t, f.manager.Token(), "an unsynced token is not kept")
	assert.True(t, errors.IsCategory(f.manager.Err(), errors.CategoryBackendSync))
}

func TestTokenAcquisitionFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	f.provider.TokenErr = errors.NewStd("provider unreachable")

	f.manager.Initialize(context.Background())

	assert.Empty(t, f.manager.Token())
	assert.True(t, errors.IsCategory(f.manager.Err(), errors.CategoryTokenAcquisition))
	assert.Empty(t, f.backend.updateCalls())
}

func TestRemoveTokenAlwaysClearsLocalState(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	ctx := context.Background()

	f.manager.Initialize(ctx)
	require.NotEmpty(t, f.manager.Token())

	// Backend failure must not block logout
	f.backend.deleteErr = errors.NewStd("backend down")

	f.manager.RemoveToken(ctx)

	assert.Empty(t, f.manager.Token())
	cached, err := f.cache.Current()
	require.NoError(t, err)
	assert.Empty(t, cached)
	assert.Equal(t, []string{"mock-token-1"}, f.provider.DeletedTokens)
}

func TestSubscribeFailureIsNotARegistrationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(push.PermissionGranted, nil)
	f.provider.SubscribeErr = errors.NewStd("broker unreachable")

	f.manager.Initialize(context.Background())

	assert.NoError(t, f.manager.Err())
	assert.Equal(t, "mock-token-1", f.manager.Token(),
		"the token stays valid even when delivery cannot start yet")
}
