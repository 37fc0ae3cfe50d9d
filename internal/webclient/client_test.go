package webclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gametonite/internal/calsync"
	"gametonite/internal/config"
	"gametonite/internal/gateway"
	"gametonite/internal/model"
	"gametonite/internal/timewindow"
	"gametonite/internal/web"
)

var (
	zone = timewindow.ZoneFromOffsetMinutes(-300)
	now  = time.Date(2025, 9, 12, 21, 0, 0, 0, zone)
)

// recorder counts conditional requests and captures request ids.
type recorder struct {
	mu          sync.Mutex
	conditional int
	notModified int
	requestIDs  []string
}

func newStack(t *testing.T, mutate func(*config.Config)) (*Client, *gateway.Memory, *recorder) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	gw := gateway.NewMemory()
	srv, err := web.NewServer(cfg, gw, timewindow.FixedClock(now))
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	h := srv.Handler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		if r.Header.Get("If-None-Match") != "" {
			rec.conditional++
		}
		rec.requestIDs = append(rec.requestIDs, r.Header.Get("X-Request-Id"))
		rec.mu.Unlock()

		h.ServeHTTP(&statusWriter{ResponseWriter: w, rec: rec}, r)
	}))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	var opts []Option
	if cfg.BasicAuth != nil {
		opts = append(opts, WithBasicAuth(cfg.BasicAuth.Username, cfg.BasicAuth.Password))
	}
	c, err := New(ts.URL+"/", opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c, gw, rec
}

func (r *recorder) counts() (conditional, notModified int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conditional, r.notModified
}

type statusWriter struct {
	http.ResponseWriter
	rec *recorder
}

func (w *statusWriter) WriteHeader(code int) {
	if code == http.StatusNotModified {
		w.rec.mu.Lock()
		w.rec.notModified++
		w.rec.mu.Unlock()
	}
	w.ResponseWriter.WriteHeader(code)
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}

func TestClientRoundTrip(t *testing.T) {
	c, _, rec := newStack(t, nil)
	ctx := context.Background()
	game := "Valheim"

	s, err := c.CreateSession(ctx, model.CreateSessionRequest{
		ServerID: "guild", Title: "boss", OwnerID: "ann", Picture: "ann.png",
		Start: now, End: now.Add(2 * time.Hour), Game: &game,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.SessionID == 0 || *s.Game != "Valheim" {
		t.Fatalf("unexpected session %+v", s)
	}

	if err := c.AddParticipant(ctx, s.SessionID, "bob", "bob.png"); err != nil {
		t.Fatalf("join: %v", err)
	}

	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	first, err := c.ListSessionsInRange(ctx, "guild", start, end)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := c.ListSessionsInRange(ctx, "guild", start, end)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first) != 1 || len(second) != 1 || len(second[0].Participants) != 2 {
		t.Fatalf("listings = %+v / %+v", first, second)
	}
	if cond, nm := rec.counts(); cond != 1 || nm != 1 {
		t.Fatalf("conditional=%d notModified=%d, want 1/1", cond, nm)
	}

	if err := c.RemoveParticipant(ctx, s.SessionID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := c.DeleteSession(ctx, s.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = c.DeleteSession(ctx, s.SessionID)
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Message != "session not found" {
		t.Fatalf("status error = %+v", se)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, id := range rec.requestIDs {
		if id == "" {
			t.Fatal("request without X-Request-Id")
		}
	}
}

func TestClientBasicAuth(t *testing.T) {
	c, _, _ := newStack(t, func(cfg *config.Config) {
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	})
	if _, err := c.ListSessionsInRange(context.Background(), "guild", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("authenticated list: %v", err)
	}

	c.username = ""
	_, err := c.ListSessionsInRange(context.Background(), "other", now, now.Add(time.Hour))
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestControllerOverHTTP(t *testing.T) {
	c, gw, _ := newStack(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := gw.CreateSession(ctx, model.CreateSessionRequest{
		ServerID: "guild", Title: "existing", OwnerID: "ann",
		Start: now.Add(-time.Hour), End: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctl, err := calsync.New(c, calsync.Options{
		GroupID:     "guild",
		User:        model.User{Name: "bob", Picture: "bob.png"},
		OffsetHours: 6,
		Clock:       timewindow.FixedClock(now),
	})
	if err != nil {
		t.Fatal(err)
	}
	go ctl.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()

	if err := ctl.Refresh(ctx).Wait(waitCtx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := ctl.Join(ctx, 1).Wait(waitCtx); err != nil {
		t.Fatalf("join: %v", err)
	}
	create := ctl.CreateClock(ctx, "nightcap", "23:30", "01:00", "")
	if err := create.Wait(waitCtx); err != nil {
		t.Fatalf("create: %v", err)
	}

	l, err := ctl.Layout(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Items) != 2 || l.Columns != 1 {
		t.Fatalf("layout items=%d columns=%d", len(l.Items), l.Columns)
	}

	stored, _ := gw.ListSessionsInRange(ctx, "guild", l.Window.Start, l.Window.End)
	if len(stored) != 2 || !stored[0].HasParticipant("bob") {
		t.Fatalf("server state = %+v", stored)
	}
}
