package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gametonite/internal/model"
)

var evening = time.Date(2025, 4, 5, 18, 0, 0, 0, time.UTC)

func create(t *testing.T, m *Memory, group, owner string, startH, endH int) *model.Session {
	t.Helper()
	s, err := m.CreateSession(context.Background(), model.CreateSessionRequest{
		ServerID: group,
		Title:    "raid",
		Start:    evening.Add(time.Duration(startH) * time.Hour),
		End:      evening.Add(time.Duration(endH) * time.Hour),
		OwnerID:  owner,
		Picture:  owner + ".png",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestMemoryCreateAssignsIDsAndOwner(t *testing.T) {
	m := NewMemory()
	a := create(t, m, "g", "ann", 0, 2)
	b := create(t, m, "g", "bob", 1, 3)
	if a.SessionID == b.SessionID {
		t.Fatalf("ids not unique")
	}
	if !a.HasParticipant("ann") || !a.IsOwner("ann") {
		t.Fatalf("owner should be participant: %+v", a)
	}
}

func TestMemoryRangeIntersection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	inside := create(t, m, "g", "a", 1, 2)
	straddle := create(t, m, "g", "a", -2, 1)
	create(t, m, "g", "a", -5, -3)   // entirely before
	create(t, m, "g", "a", 6, 8)     // starts at the window end
	create(t, m, "other", "a", 1, 2) // other group

	got, err := m.ListSessionsInRange(ctx, "g", evening, evening.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SessionID != straddle.SessionID || got[1].SessionID != inside.SessionID {
		t.Fatalf("unexpected range result %+v", got)
	}
}

func TestMemoryParticipants(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := create(t, m, "g", "ann", 0, 1)

	if err := m.AddParticipant(ctx, s.SessionID, "bob", "b.png"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddParticipant(ctx, s.SessionID, "bob", "b.png"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveParticipant(ctx, s.SessionID, "ann"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.ListSessionsInRange(ctx, "g", evening, evening.Add(time.Hour))
	if len(got[0].Participants) != 1 || got[0].Participants[0].Name != "bob" {
		t.Fatalf("participants = %+v", got[0].Participants)
	}

	if err := m.AddParticipant(ctx, 999, "bob", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := create(t, m, "g", "ann", 0, 1)
	if err := m.DeleteSession(ctx, s.SessionID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSession(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryConcurrentWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	s := create(t, m, "g", "ann", 0, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := string(rune('a' + i%26))
			_ = m.AddParticipant(ctx, s.SessionID, name, "")
		}()
	}
	wg.Wait()

	got, _ := m.ListSessionsInRange(ctx, "g", evening, evening.Add(time.Hour))
	// 26 distinct letters, "a" coexists with owner "ann".
	if n := len(got[0].Participants); n != 27 {
		t.Fatalf("participants = %d, want 27", n)
	}
}
