package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"gametonite/internal/database"
	"gametonite/internal/gateway"
	"gametonite/internal/model"
)

// openRepo connects to TEST_DATABASE_URL and returns a repository plus a
// group id unique to this test run.
func openRepo(t *testing.T) (*SessionRepository, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPool(ctx, database.Config{URL: url, MaxConns: 4})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}

	group := "test-" + uuid.NewString()
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM sessions WHERE server_id = $1`, group)
	})
	return NewSessionRepository(pool), group
}

func TestSessionLifecycle(t *testing.T) {
	repo, group := openRepo(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 12, 18, 0, 0, 0, time.UTC)
	game := "Factorio"

	s, err := repo.CreateSession(ctx, model.CreateSessionRequest{
		ServerID: group, Title: "build", Start: start, End: start.Add(2 * time.Hour),
		OwnerID: "ann", Picture: "ann.png", Game: &game,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.SessionID == 0 || !s.HasParticipant("ann") {
		t.Fatalf("unexpected created session %+v", s)
	}

	if err := repo.AddParticipant(ctx, s.SessionID, "bob", "bob.png"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := repo.AddParticipant(ctx, s.SessionID, "bob", "other.png"); err != nil {
		t.Fatalf("second join: %v", err)
	}

	got, err := repo.ListSessionsInRange(ctx, group, start.Add(time.Hour), start.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || len(got[0].Participants) != 2 {
		t.Fatalf("unexpected listing %+v", got)
	}
	if got[0].Owner.Picture != "ann.png" || *got[0].Game != "Factorio" {
		t.Fatalf("owner or game lost: %+v", got[0])
	}

	if err := repo.RemoveParticipant(ctx, s.SessionID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := repo.DeleteSession(ctx, s.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteSession(ctx, s.SessionID); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.AddParticipant(ctx, s.SessionID, "bob", ""); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on join, got %v", err)
	}
}

func TestListExcludesNonIntersecting(t *testing.T) {
	repo, group := openRepo(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 12, 6, 0, 0, 0, time.UTC)

	for _, h := range []int{2, 10, 31} {
		_, err := repo.CreateSession(ctx, model.CreateSessionRequest{
			ServerID: group, Title: "s", OwnerID: "ann",
			Start: start.Add(time.Duration(h-6) * time.Hour), End: start.Add(time.Duration(h-4) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.ListSessionsInRange(ctx, group, start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	// 02:00-04:00 ends before 06:00; 31:00 starts after the window ends
	if len(got) != 1 {
		t.Fatalf("got %d sessions, want 1", len(got))
	}
}
