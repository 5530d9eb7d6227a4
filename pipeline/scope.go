package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultScope is the scope id used when a dispatch names no scope.
const DefaultScope = "default"

type scopeKey struct{}

// WithScope returns a context whose dispatches join the named abort scope.
func WithScope(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scopeID)
}

// ScopeFromContext returns the scope id carried by ctx, if any.
func ScopeFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(scopeKey{}).(string)
	return id, ok && id != ""
}

// generation is one identity of an abort scope. ResetAbortScope swaps in a
// new generation; contexts that joined the old one stay attached to it.
type generation struct {
	token   string
	aborted bool
	members map[string]*DispatchContext // dispatch id -> context
}

// ScopeManager indexes active dispatch contexts by abort scope. Scopes are
// created lazily on first use.
type ScopeManager struct {
	mu      sync.Mutex
	current map[string]*generation // scope id -> current generation
	byToken map[string]*generation // generation token -> generation
}

// NewScopeManager creates an empty scope manager.
func NewScopeManager() *ScopeManager {
	return &ScopeManager{
		current: make(map[string]*generation),
		byToken: make(map[string]*generation),
	}
}

func (m *ScopeManager) currentLocked(scopeID string) *generation {
	g, ok := m.current[scopeID]
	if !ok {
		g = &generation{token: uuid.NewString(), members: make(map[string]*DispatchContext)}
		m.current[scopeID] = g
		m.byToken[g.token] = g
	}
	return g
}

// join adds dc to the current generation of its scope and reports whether
// that generation was already aborted.
func (m *ScopeManager) join(dc *DispatchContext) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.currentLocked(dc.scopeID)
	g.members[dc.id] = dc
	dc.scopeToken = g.token
	return g.aborted
}

// leave removes dc from the generation it joined. A generation is dropped
// once its last member leaves, unless it is the scope's current generation
// and has been aborted: that one must keep rejecting new dispatches until
// the scope is reset.
func (m *ScopeManager) leave(dc *DispatchContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.byToken[dc.scopeToken]
	if !ok {
		return
	}
	delete(g.members, dc.id)
	if len(g.members) > 0 {
		return
	}
	if m.current[dc.scopeID] == g {
		if g.aborted {
			return
		}
		delete(m.current, dc.scopeID)
	}
	delete(m.byToken, g.token)
}

// size returns the number of tracked generations, current and detached.
func (m *ScopeManager) size() (current, tracked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.current), len(m.byToken)
}

// AbortAll aborts every active dispatch of the scope's current generation
// with AbortReasonAbortAll and marks the generation aborted, so dispatches
// joining it later settle as aborted without running handlers. It returns
// the number of dispatches it aborted.
func (m *ScopeManager) AbortAll(scopeID string) int {
	if scopeID == "" {
		scopeID = DefaultScope
	}

	m.mu.Lock()
	g := m.currentLocked(scopeID)
	g.aborted = true
	active := make([]*DispatchContext, 0, len(g.members))
	for _, dc := range g.members {
		active = append(active, dc)
	}
	m.mu.Unlock()

	n := 0
	for _, dc := range active {
		if dc.abort(AbortReasonAbortAll, nil) {
			n++
		}
	}
	return n
}

// Reset detaches the scope's current generation and starts a fresh one.
// Later AbortAll calls on the scope no longer reach dispatches that joined
// before the reset.
func (m *ScopeManager) Reset(scopeID string) {
	if scopeID == "" {
		scopeID = DefaultScope
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.current[scopeID]; ok && len(old.members) == 0 {
		delete(m.byToken, old.token)
	}
	delete(m.current, scopeID)
	m.currentLocked(scopeID)
}

// Token returns the opaque identity of the scope's current generation.
func (m *ScopeManager) Token(scopeID string) string {
	if scopeID == "" {
		scopeID = DefaultScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(scopeID).token
}

// Active returns the number of running dispatches in the scope's current
// generation.
func (m *ScopeManager) Active(scopeID string) int {
	if scopeID == "" {
		scopeID = DefaultScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.current[scopeID]; ok {
		return len(g.members)
	}
	return 0
}

// Aborted reports whether the scope's current generation has been aborted.
func (m *ScopeManager) Aborted(scopeID string) bool {
	if scopeID == "" {
		scopeID = DefaultScope
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.current[scopeID]; ok {
		return g.aborted
	}
	return false
}
