package calsync

import (
	"context"
	"time"

	"gametonite/internal/model"
	"gametonite/internal/stacking"
	"gametonite/internal/timewindow"
)

// Item places one session on the calendar. Top and Bottom are fractions of
// the window elapsed at the session's start and end, clipped to [0,1].
type Item struct {
	Session model.Session
	Column  int
	Top     float64
	Bottom  float64
}

// Layout is the render-ready projection of the current snapshot.
type Layout struct {
	Window      timewindow.Window
	Now         time.Time
	Timebar     float64
	Columns     int
	Items       []Item
	Version     uint64
	FetchErr    error
	MutationErr error
}

// Project builds a Layout for sessions in w. It is the pure form of
// Controller.Layout and is also used by the HTTP API.
func Project(w timewindow.Window, now time.Time, sessions []model.Session, assignment stacking.Assignment) Layout {
	if assignment == nil {
		assignment = stacking.Resolve(sessions)
	}
	items := make([]Item, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, Item{
			Session: s,
			Column:  assignment[s.SessionID],
			Top:     w.Fraction(s.StartTime),
			Bottom:  w.Fraction(s.EndTime),
		})
	}
	return Layout{
		Window:  w,
		Now:     now,
		Timebar: timewindow.TimebarPosition(now, w.OffsetHours),
		Columns: assignment.Columns(),
		Items:   items,
	}
}

// Layout returns the current projection. The stacking assignment is only
// recomputed when the store version changed since the last call.
func (c *Controller) Layout(ctx context.Context) (Layout, error) {
	var l Layout
	err := c.call(ctx, func() {
		sessions := c.store.Sessions()
		if c.store.Version() != c.assignedVer {
			c.assignment = stacking.Resolve(sessions)
			c.assignedVer = c.store.Version()
		}
		l = Project(c.window, c.now, sessions, c.assignment)
		l.Version = c.store.Version()
		l.FetchErr = c.fetchErr
		l.MutationErr = c.mutationErr
	})
	return l, err
}
