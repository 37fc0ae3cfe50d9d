// Package stacking assigns overlapping sessions to horizontal display columns.
package stacking

import (
	"slices"
	"time"

	"gametonite/internal/model"
)

// Assignment maps a session id to its column index.
type Assignment map[int64]int

// Columns returns the number of distinct columns in use.
func (a Assignment) Columns() int {
	n := 0
	for _, col := range a {
		if col+1 > n {
			n = col + 1
		}
	}
	return n
}

// Resolve greedily colours the interval graph formed by sessions. Sessions
// are visited by start time (stable for ties) and placed into the lowest
// column whose previous occupant has ended by the session's start. A session
// starting exactly when another ends may share its column.
func Resolve(sessions []model.Session) Assignment {
	out := make(Assignment, len(sessions))
	if len(sessions) == 0 {
		return out
	}

	order := make([]int, len(sessions))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return sessions[a].StartTime.Compare(sessions[b].StartTime)
	})

	// columnEnds[c] is the latest end time occupied in column c.
	columnEnds := make([]time.Time, 0, 4)
	for _, idx := range order {
		s := sessions[idx]
		col := -1
		for c, end := range columnEnds {
			if !end.After(s.StartTime) {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(columnEnds)
			columnEnds = append(columnEnds, time.Time{})
		}
		columnEnds[col] = s.EndTime
		out[s.SessionID] = col
	}
	return out
}
