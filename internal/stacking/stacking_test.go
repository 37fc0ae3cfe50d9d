package stacking

import (
	"math/rand"
	"testing"
	"time"

	"gametonite/internal/model"
)

var day = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func session(id int64, startH, endH int) model.Session {
	return model.Session{
		SessionID: id,
		StartTime: day.Add(time.Duration(startH) * time.Hour),
		EndTime:   day.Add(time.Duration(endH) * time.Hour),
	}
}

func TestResolveEmpty(t *testing.T) {
	got := Resolve(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("Resolve(nil) = %v, want empty map", got)
	}
	if got.Columns() != 0 {
		t.Fatalf("empty assignment has %d columns", got.Columns())
	}
}

func TestResolveFixtures(t *testing.T) {
	tests := []struct {
		name     string
		sessions []model.Session
		want     Assignment
	}{
		{
			name:     "overlap forces separate columns",
			sessions: []model.Session{session(1, 16, 18), session(2, 17, 19)},
			want:     Assignment{1: 0, 2: 1},
		},
		{
			name:     "back to back share a column",
			sessions: []model.Session{session(1, 16, 17), session(2, 17, 18)},
			want:     Assignment{1: 0, 2: 0},
		},
		{
			name:     "reuse first column once free",
			sessions: []model.Session{session(1, 16, 18), session(2, 17, 19), session(3, 18, 19)},
			want:     Assignment{1: 0, 2: 1, 3: 0},
		},
		{
			name:     "identical intervals conflict",
			sessions: []model.Session{session(1, 16, 18), session(2, 18, 19), session(3, 18, 19)},
			want:     Assignment{1: 0, 2: 0, 3: 1},
		},
		{
			name:     "input order does not matter",
			sessions: []model.Session{session(2, 17, 19), session(1, 16, 18)},
			want:     Assignment{1: 0, 2: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.sessions)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for id, col := range tc.want {
				if got[id] != col {
					t.Fatalf("session %d: column %d, want %d (full %v)", id, got[id], col, got)
				}
			}
		})
	}
}

func TestResolveStableTies(t *testing.T) {
	got := Resolve([]model.Session{session(9, 10, 12), session(4, 10, 12), session(7, 10, 11)})
	want := Assignment{9: 0, 4: 1, 7: 2}
	for id, col := range want {
		if got[id] != col {
			t.Fatalf("tie order not preserved: %v", got)
		}
	}
}

func maxConcurrent(sessions []model.Session) int {
	best := 0
	for _, probe := range sessions {
		n := 0
		for _, s := range sessions {
			if !s.StartTime.After(probe.StartTime) && s.EndTime.After(probe.StartTime) {
				n++
			}
		}
		best = max(best, n)
	}
	return best
}

func TestResolveProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		sessions := make([]model.Session, n)
		for i := range sessions {
			start := rng.Intn(20)
			sessions[i] = session(int64(i+1), start, start+1+rng.Intn(5))
		}

		got := Resolve(sessions)
		if len(got) != n {
			t.Fatalf("round %d: %d assignments for %d sessions", round, len(got), n)
		}
		for i := range sessions {
			for j := i + 1; j < len(sessions); j++ {
				a, b := sessions[i], sessions[j]
				if got[a.SessionID] != got[b.SessionID] {
					continue
				}
				if a.StartTime.Before(b.EndTime) && b.StartTime.Before(a.EndTime) {
					t.Fatalf("round %d: sessions %d and %d overlap in column %d", round, a.SessionID, b.SessionID, got[a.SessionID])
				}
			}
		}
		if cols, want := got.Columns(), maxConcurrent(sessions); cols != want {
			t.Fatalf("round %d: %d columns, max concurrency %d", round, cols, want)
		}
	}
}
