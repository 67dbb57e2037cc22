package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/expensems/emspush/internal/push"
)

// MockProvider is an in-memory Provider for tests. It issues sequential
// tokens, records deletions, and lets tests inject payload deliveries.
type MockProvider struct {
	mu           sync.Mutex
	token        string
	tokenCounter int
	deliver      DeliverFunc

	// Error injection
	TokenErr     error
	SubscribeErr error
	DeleteErr    error

	// Call recording
	IssuedTokens  []string
	DeletedTokens []string
}

// NewMockProvider creates a mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Token returns the current token, issuing one if needed
func (m *MockProvider) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TokenErr != nil {
		return "", m.TokenErr
	}
	if m.token == "" {
		m.tokenCounter++
		m.token = fmt.Sprintf("mock-token-%d", m.tokenCounter)
		m.IssuedTokens = append(m.IssuedTokens, m.token)
	}
	return m.token, nil
}

// DeleteToken forgets the current token
func (m *MockProvider) DeleteToken(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if m.token != "" {
		m.DeletedTokens = append(m.DeletedTokens, m.token)
		m.token = ""
	}
	return nil
}

// Subscribe records the delivery sink
func (m *MockProvider) Subscribe(_ context.Context, _ string, deliver DeliverFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.deliver = deliver
	return nil
}

// Close is a no-op
func (m *MockProvider) Close() {}

// Rotate forces issuance of a fresh token on the next Token call, simulating
// provider-side token rotation.
func (m *MockProvider) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
}

// Deliver injects a payload as if the provider delivered it
func (m *MockProvider) Deliver(payload *push.Payload) {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()

	if deliver != nil {
		deliver(payload)
	}
}

// Subscribed reports whether a delivery sink is registered
func (m *MockProvider) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliver != nil
}
