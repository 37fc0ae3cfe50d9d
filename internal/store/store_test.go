package store

import (
	"testing"

	"gametonite/internal/model"
)

func sess(id int64, users ...string) model.Session {
	s := model.Session{SessionID: id, Title: "s"}
	for _, u := range users {
		s.Participants = append(s.Participants, model.User{Name: u})
	}
	if len(users) > 0 {
		s.Owner = model.User{Name: users[0]}
	}
	return s
}

func TestReplaceAllDiscardsPrevious(t *testing.T) {
	s := New()
	s.Insert(sess(1))
	s.ReplaceAll([]model.Session{sess(2), sess(3)})

	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if _, ok := s.Get(1); ok {
		t.Fatalf("session 1 should be gone")
	}
	if got := s.Sessions(); got[0].SessionID != 2 || got[1].SessionID != 3 {
		t.Fatalf("order not kept: %+v", got)
	}
}

func TestInsertAppendsAndBumpsVersion(t *testing.T) {
	s := New()
	v0 := s.Version()
	s.Insert(sess(5))
	s.Insert(sess(4))
	if s.Version() != v0+2 {
		t.Fatalf("version %d, want %d", s.Version(), v0+2)
	}
	if got := s.Sessions(); got[1].SessionID != 4 {
		t.Fatalf("insert should append: %+v", got)
	}
}

func TestInsertReplacesSameID(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{sess(1, "ann"), sess(2, "bob")})
	v := s.Version()

	updated := sess(1, "ann", "cid")
	updated.Title = "renamed"
	s.Insert(updated)

	got := s.Sessions()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != 1 || got[0].Title != "renamed" || len(got[0].Participants) != 2 {
		t.Fatalf("entry not replaced in place: %+v", got)
	}
	if s.Version() != v+1 {
		t.Fatalf("version %d, want %d", s.Version(), v+1)
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{sess(1), sess(2), sess(3)})
	v := s.Version()

	if _, ok := s.Remove(2); !ok {
		t.Fatalf("remove existing failed")
	}
	if _, ok := s.Remove(2); ok {
		t.Fatalf("second remove should miss")
	}
	if s.Version() != v+1 {
		t.Fatalf("missed remove must not bump version")
	}
	if got := s.Sessions(); len(got) != 2 || got[0].SessionID != 1 || got[1].SessionID != 3 {
		t.Fatalf("unexpected contents %+v", got)
	}
}

func TestUpdateParticipants(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{sess(1, "owner"), sess(2, "other")})

	if !s.UpdateParticipants(1, AddUser(model.User{Name: "guest"})) {
		t.Fatalf("update should hit")
	}
	s.UpdateParticipants(1, AddUser(model.User{Name: "guest"}))
	got, _ := s.Get(1)
	if len(got.Participants) != 2 {
		t.Fatalf("duplicate join should be ignored: %+v", got.Participants)
	}

	s.UpdateParticipants(1, RemoveUser("guest"))
	got, _ = s.Get(1)
	if got.HasParticipant("guest") {
		t.Fatalf("leave did not remove participant")
	}

	untouched, _ := s.Get(2)
	if len(untouched.Participants) != 1 {
		t.Fatalf("other session changed: %+v", untouched)
	}
}

func TestUpdateMissingIsNoop(t *testing.T) {
	s := New()
	s.ReplaceAll([]model.Session{sess(1, "a")})
	v := s.Version()
	if s.UpdateParticipants(99, AddUser(model.User{Name: "b"})) {
		t.Fatalf("update of missing id reported success")
	}
	if s.Version() != v {
		t.Fatalf("version changed on no-op")
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := New()
	in := sess(1, "a")
	s.Insert(in)
	in.Participants[0].Name = "mutated"

	out := s.Sessions()
	out[0].Participants[0].Name = "also mutated"

	got, _ := s.Get(1)
	if got.Participants[0].Name != "a" {
		t.Fatalf("store shares memory with callers: %+v", got)
	}
}
