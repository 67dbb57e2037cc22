package page

import (
	"context"
	"sync"

	"github.com/expensems/emspush/internal/agent"
	"github.com/expensems/emspush/internal/push"
)

// Router models the platform's delivery split: a payload for a focused page
// goes to that page's foreground listener; everything else goes to the
// background delivery agent. It is the single sink handed to the provider
// subscription.
type Router struct {
	agent *agent.Agent

	mu   sync.RWMutex
	tabs map[string]*Tab
}

// NewRouter creates a router over the agent
func NewRouter(ag *agent.Agent) *Router {
	return &Router{
		agent: ag,
		tabs:  make(map[string]*Tab),
	}
}

// Register adds a tab to the routing table
func (r *Router) Register(tab *Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[tab.ID()] = tab
}

// Unregister removes a tab from the routing table
func (r *Router) Unregister(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabID)
}

// Deliver routes one payload to exactly one delivery path
func (r *Router) Deliver(payload *push.Payload) {
	focused := r.agent.FocusedTab()
	if focused != "" {
		r.mu.RLock()
		tab := r.tabs[focused]
		r.mu.RUnlock()
		if tab != nil {
			tab.Foreground(context.Background(), payload)
			return
		}
	}
	r.agent.Deliver(payload)
}
