package calsync

import (
	"context"
	"sync"

	"gametonite/internal/model"
)

// State is the lifecycle of one user-initiated action.
type State int

const (
	Idle State = iota
	Pending
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Kind names the operation an Action performs.
type Kind string

const (
	KindFetch  Kind = "fetch"
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindJoin   Kind = "join"
	KindLeave  Kind = "leave"
)

// Action tracks a single fetch or mutation. It is safe to inspect from any
// goroutine; Done is closed once the outcome has been applied to the store.
type Action struct {
	Kind      Kind
	SessionID int64

	mu      sync.Mutex
	state   State
	err     error
	session *model.Session
	done    chan struct{}
}

func newAction(kind Kind, sessionID int64) *Action {
	return &Action{Kind: kind, SessionID: sessionID, done: make(chan struct{})}
}

func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Action) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Session returns the authoritative session of a committed create.
func (a *Action) Session() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the action settles or ctx ends.
func (a *Action) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Action) setPending() {
	a.mu.Lock()
	a.state = Pending
	a.mu.Unlock()
}

func (a *Action) finish(state State, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Committed || a.state == RolledBack {
		return
	}
	a.state = state
	a.err = err
	close(a.done)
}

func (a *Action) commitSession(s model.Session) {
	a.mu.Lock()
	a.session = &s
	a.mu.Unlock()
	a.finish(Committed, nil)
}
