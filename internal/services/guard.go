package services

import (
	"context"
	"fmt"
	"sync"

	"documerge/internal/models"
)

// RequestGuard keeps at most one live request per wizard session. Starting
// a newer request cancels the older one, and the older result is dropped
// as stale when it arrives.
type RequestGuard struct {
	mu       sync.Mutex
	seq      uint64
	sessions map[string]*Ticket
}

func NewRequestGuard() *RequestGuard {
	return &RequestGuard{sessions: make(map[string]*Ticket)}
}

// Ticket identifies one guarded request.
type Ticket struct {
	guard   *RequestGuard
	session string
	target  string
	seq     uint64
	cancel  context.CancelFunc
}

// Begin registers a request for session targeting target. An empty session
// is not guarded and the returned ticket is always current.
func (g *RequestGuard) Begin(ctx context.Context, session, target string) (context.Context, *Ticket) {
	if session == "" {
		return ctx, &Ticket{target: target}
	}

	ctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.sessions[session]; ok {
		prev.cancel()
	}
	g.seq++
	t := &Ticket{guard: g, session: session, target: target, seq: g.seq, cancel: cancel}
	g.sessions[session] = t
	return ctx, t
}

// Current reports whether no newer request has started on the session.
func (t *Ticket) Current() bool {
	if t.guard == nil {
		return true
	}
	t.guard.mu.Lock()
	defer t.guard.mu.Unlock()
	return t.guard.sessions[t.session] == t
}

// Finish releases the ticket. A superseded request reports ErrStaleRequest
// whatever its own outcome was.
func (t *Ticket) Finish(err error) error {
	if t.guard == nil {
		return err
	}

	t.guard.mu.Lock()
	current := t.guard.sessions[t.session] == t
	if current {
		delete(t.guard.sessions, t.session)
	}
	t.guard.mu.Unlock()
	t.cancel()

	if !current {
		return fmt.Errorf("request for %s superseded: %w", t.target, models.ErrStaleRequest)
	}
	return err
}

// Active returns the number of sessions with a request in flight.
func (g *RequestGuard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
