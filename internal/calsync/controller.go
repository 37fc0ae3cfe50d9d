// Package calsync keeps a client-held snapshot of a group's sessions in step
// with the backing store.
//
// A Controller owns one store.Store. Every mutation of that store, whether
// user-initiated or a gateway completion, runs as a closure on the goroutine
// executing Run, so the store itself needs no locking. Gateway requests run
// on their own goroutines and post their completions back to that loop.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gametonite/internal/gateway"
	appLog "gametonite/internal/log"
	"gametonite/internal/model"
	"gametonite/internal/stacking"
	"gametonite/internal/store"
	"gametonite/internal/timewindow"
)

var (
	// ErrMutationFailed wraps any create/delete/join/leave request error.
	ErrMutationFailed = errors.New("mutation failed")
	// ErrFetchFailed wraps a window fetch error. The store keeps its
	// last-known-good contents.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrStaleFetch marks a fetch whose completion was superseded by a newer
	// request and therefore discarded.
	ErrStaleFetch = errors.New("fetch superseded")
	// ErrNotOwner is returned when a non-owner tries to delete a session.
	ErrNotOwner = errors.New("not the session owner")
	// ErrUnknownSession is returned when an action names a session that is
	// not loaded in the current window.
	ErrUnknownSession = errors.New("session not loaded")
	// ErrInvalidSession is returned when a create request fails validation.
	ErrInvalidSession = errors.New("invalid session")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("controller stopped")
)

const inboxSize = 64

// RollbackPolicy decides what happens to an optimistic change whose request
// failed.
type RollbackPolicy string

const (
	// RollbackKeep leaves the optimistic change in place and only surfaces
	// the error. The next fetch reconciles with the store.
	RollbackKeep RollbackPolicy = "keep"
	// RollbackRevert applies the inverse change locally.
	RollbackRevert RollbackPolicy = "revert"
)

// Options configures a Controller.
type Options struct {
	GroupID     string
	User        model.User
	OffsetHours int

	// Clock defaults to timewindow.LocalNow.
	Clock          timewindow.Clock
	Rollback       RollbackPolicy
	RequestTimeout time.Duration
}

// Controller orchestrates fetches and optimistic mutations for one group.
type Controller struct {
	gw   gateway.Gateway
	opts Options

	inbox   chan func()
	stopped chan struct{}
	running atomic.Bool

	// Loop-owned state. Only touched from closures executed by Run.
	store       *store.Store
	window      timewindow.Window
	now         time.Time
	latestSeq   uint64
	fetchErr    error
	mutationErr error
	assignment  stacking.Assignment
	assignedVer uint64
}

// New constructs a Controller. The initial window is derived from the clock;
// an invalid offset is reported here.
func New(gw gateway.Gateway, opts Options) (*Controller, error) {
	if gw == nil {
		return nil, errors.New("calsync: gateway is nil")
	}
	if opts.GroupID == "" {
		return nil, errors.New("calsync: group id is empty")
	}
	if opts.Clock == nil {
		opts.Clock = timewindow.LocalNow
	}
	if opts.Rollback == "" {
		opts.Rollback = RollbackKeep
	}

	now := opts.Clock()
	w, err := timewindow.NewWindow(now, opts.OffsetHours)
	if err != nil {
		return nil, err
	}

	return &Controller{
		gw:          gw,
		opts:        opts,
		inbox:       make(chan func(), inboxSize),
		stopped:     make(chan struct{}),
		store:       store.New(),
		window:      w,
		now:         now,
		assignment:  stacking.Assignment{},
		assignedVer: 0,
	}, nil
}

// Run executes queued work until ctx ends. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("calsync: Run called twice")
	}
	defer close(c.stopped)

	appLog.Info("sync controller started", "group_id", c.opts.GroupID, "user", c.opts.User.Name, "offset_hours", c.opts.OffsetHours)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-ctx.Done():
			appLog.Info("sync controller stopped", "group_id", c.opts.GroupID)
			return ctx.Err()
		}
	}
}

// post queues fn onto the loop. It reports false once the loop has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// postAction queues fn and settles a as stopped if the loop is gone.
func (c *Controller) postAction(a *Action, fn func()) {
	if !c.post(fn) {
		a.finish(RolledBack, ErrStopped)
	}
}

func (c *Controller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// Refresh reloads the window for the current instant and fetches its
// sessions. Completions of older refreshes are discarded.
func (c *Controller) Refresh(ctx context.Context) *Action {
	a := newAction(KindFetch, 0)
	c.postAction(a, func() {
		now := c.opts.Clock()
		w, err := timewindow.NewWindow(now, c.opts.OffsetHours)
		if err != nil {
			c.fetchErr = err
			appLog.Error("window computation failed", err, "offset_hours", c.opts.OffsetHours)
			a.finish(RolledBack, err)
			return
		}
		c.now = now
		c.latestSeq++
		seq := c.latestSeq
		a.setPending()

		go func() {
			rctx, cancel := c.requestContext(ctx)
			defer cancel()
			sessions, err := c.gw.ListSessionsInRange(rctx, c.opts.GroupID, w.Start, w.End)
			c.postAction(a, func() { c.completeFetch(a, seq, w, sessions, err) })
		}()
	})
	return a
}

func (c *Controller) completeFetch(a *Action, seq uint64, w timewindow.Window, sessions []model.Session, err error) {
	if seq != c.latestSeq {
		appLog.Debug("discarding stale fetch", "seq", seq, "latest", c.latestSeq)
		a.finish(RolledBack, ErrStaleFetch)
		return
	}
	if err != nil {
		c.fetchErr = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		appLog.Error("window fetch failed; keeping last contents", err, "group_id", c.opts.GroupID, "seq", seq)
		a.finish(RolledBack, c.fetchErr)
		return
	}

	c.window = w
	c.fetchErr = nil
	c.store.ReplaceAll(sessions)
	appLog.Debug("window fetched", "group_id", c.opts.GroupID, "seq", seq, "count", len(sessions),
		"start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))
	a.finish(Committed, nil)
}

// Tick advances the "now" marker without touching the window or the store.
func (c *Controller) Tick() {
	c.post(func() { c.now = c.opts.Clock() })
}

// CreateRequest describes a session to create for the controller's group and
// user.
type CreateRequest struct {
	Title string
	Start time.Time
	End   time.Time
	Game  string
}

// Create issues a create request. Nothing is inserted locally until the store
// returns the authoritative session with its assigned id.
func (c *Controller) Create(ctx context.Context, req CreateRequest) *Action {
	a := newAction(KindCreate, 0)
	if err := validateCreate(&req); err != nil {
		a.finish(RolledBack, err)
		return a
	}
	c.postAction(a, func() { c.startCreate(ctx, a, req) })
	return a
}

// CreateClock is Create with "HH:MM" times interpreted inside the current
// window, as entered on the new-session form.
func (c *Controller) CreateClock(ctx context.Context, title, start, end, game string) *Action {
	a := newAction(KindCreate, 0)
	c.postAction(a, func() {
		s, err := timewindow.ParseClock(start, c.window.Baseline, c.opts.OffsetHours)
		if err != nil {
			a.finish(RolledBack, fmt.Errorf("%w: %w", ErrInvalidSession, err))
			return
		}
		e, err := timewindow.ParseClock(end, c.window.Baseline, c.opts.OffsetHours)
		if err != nil {
			a.finish(RolledBack, fmt.Errorf("%w: %w", ErrInvalidSession, err))
			return
		}
		req := CreateRequest{Title: title, Start: s, End: e, Game: game}
		if err := validateCreate(&req); err != nil {
			a.finish(RolledBack, err)
			return
		}
		c.startCreate(ctx, a, req)
	})
	return a
}

func (c *Controller) startCreate(ctx context.Context, a *Action, req CreateRequest) {
	var game *string
	if req.Game != "" {
		game = &req.Game
	}
	wire := model.CreateSessionRequest{
		ServerID: c.opts.GroupID,
		Title:    req.Title,
		Start:    req.Start.UTC(),
		End:      req.End.UTC(),
		OwnerID:  c.opts.User.Name,
		Picture:  c.opts.User.Picture,
		Game:     game,
	}
	a.setPending()

	go func() {
		rctx, cancel := c.requestContext(ctx)
		defer cancel()
		created, err := c.gw.CreateSession(rctx, wire)
		c.postAction(a, func() {
			if err != nil {
				c.failMutation(a, err, nil)
				return
			}
			c.mutationErr = nil
			c.store.Insert(*created)
			appLog.Info("session created", "session_id", created.SessionID, "group_id", created.ServerID, "title", created.Title)
			a.commitSession(created.Clone())
		})
	}()
}

func validateCreate(req *CreateRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Game = strings.TrimSpace(req.Game)
	switch {
	case req.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidSession)
	case len([]rune(req.Title)) > model.MaxTitleLen:
		return fmt.Errorf("%w: title longer than %d characters", ErrInvalidSession, model.MaxTitleLen)
	case len([]rune(req.Game)) > model.MaxGameLen:
		return fmt.Errorf("%w: game longer than %d characters", ErrInvalidSession, model.MaxGameLen)
	case !req.End.After(req.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalidSession)
	}
	return nil
}

// Delete optimistically removes a session owned by the acting user.
func (c *Controller) Delete(ctx context.Context, sessionID int64) *Action {
	a := newAction(KindDelete, sessionID)
	c.postAction(a, func() {
		s, ok := c.store.Get(sessionID)
		if !ok {
			a.finish(RolledBack, fmt.Errorf("%w: %d", ErrUnknownSession, sessionID))
			return
		}
		if !s.IsOwner(c.opts.User.Name) {
			a.finish(RolledBack, fmt.Errorf("%w: session %d", ErrNotOwner, sessionID))
			return
		}

		removed, _ := c.store.Remove(sessionID)
		revert := func() {
			// A fetch may already have reloaded it.
			if _, ok := c.store.Get(sessionID); !ok {
				c.store.Insert(removed)
			}
		}
		c.issue(ctx, a, revert, func(rctx context.Context) error {
			return c.gw.DeleteSession(rctx, sessionID)
		})
	})
	return a
}

// Join optimistically adds the acting user to a session.
func (c *Controller) Join(ctx context.Context, sessionID int64) *Action {
	a := newAction(KindJoin, sessionID)
	user := c.opts.User
	c.postAction(a, func() {
		s, ok := c.store.Get(sessionID)
		if !ok {
			a.finish(RolledBack, fmt.Errorf("%w: %d", ErrUnknownSession, sessionID))
			return
		}

		var revert func()
		if !s.HasParticipant(user.Name) {
			c.store.UpdateParticipants(sessionID, store.AddUser(user))
			revert = func() { c.store.UpdateParticipants(sessionID, store.RemoveUser(user.Name)) }
		}
		c.issue(ctx, a, revert, func(rctx context.Context) error {
			return c.gw.AddParticipant(rctx, sessionID, user.Name, user.Picture)
		})
	})
	return a
}

// Leave optimistically removes the acting user from a session.
func (c *Controller) Leave(ctx context.Context, sessionID int64) *Action {
	a := newAction(KindLeave, sessionID)
	name := c.opts.User.Name
	c.postAction(a, func() {
		s, ok := c.store.Get(sessionID)
		if !ok {
			a.finish(RolledBack, fmt.Errorf("%w: %d", ErrUnknownSession, sessionID))
			return
		}

		var revert func()
		for _, p := range s.Participants {
			if p.Name == name {
				prev := p
				revert = func() { c.store.UpdateParticipants(sessionID, store.AddUser(prev)) }
				break
			}
		}
		c.store.UpdateParticipants(sessionID, store.RemoveUser(name))
		c.issue(ctx, a, revert, func(rctx context.Context) error {
			return c.gw.RemoveParticipant(rctx, sessionID, name)
		})
	})
	return a
}

// issue sends a mutation request whose optimistic change has already been
// applied. Must be called on the loop.
func (c *Controller) issue(ctx context.Context, a *Action, revert func(), call func(context.Context) error) {
	a.setPending()
	go func() {
		rctx, cancel := c.requestContext(ctx)
		defer cancel()
		err := call(rctx)
		c.postAction(a, func() {
			if err != nil {
				c.failMutation(a, err, revert)
				return
			}
			c.mutationErr = nil
			appLog.Debug("mutation committed", "kind", a.Kind, "session_id", a.SessionID)
			a.finish(Committed, nil)
		})
	}()
}

func (c *Controller) failMutation(a *Action, err error, revert func()) {
	wrapped := fmt.Errorf("%w: %s session %d: %w", ErrMutationFailed, a.Kind, a.SessionID, err)
	c.mutationErr = wrapped
	if c.opts.Rollback == RollbackRevert && revert != nil {
		revert()
	}
	appLog.Error("mutation failed", err, "kind", a.Kind, "session_id", a.SessionID, "rollback", c.opts.Rollback)
	a.finish(RolledBack, wrapped)
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns a copy of the current snapshot.
func (c *Controller) Sessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	err := c.call(ctx, func() { out = c.store.Sessions() })
	return out, err
}

// Errors returns the surfaced fetch and mutation error flags.
func (c *Controller) Errors(ctx context.Context) (fetchErr, mutationErr error, err error) {
	err = c.call(ctx, func() {
		fetchErr = c.fetchErr
		mutationErr = c.mutationErr
	})
	return fetchErr, mutationErr, err
}
