// Package store holds the client-side snapshot of sessions for one window.
//
// A Store is owned by a single goroutine and does no locking of its own.
package store

import (
	"slices"

	"gametonite/internal/model"
)

// Store is an ordered collection of the sessions loaded for the active window.
type Store struct {
	sessions []model.Session
	version  uint64
}

func New() *Store {
	return &Store{}
}

// Version increases on every mutation that changed the contents.
func (s *Store) Version() uint64 {
	return s.version
}

func (s *Store) Len() int {
	return len(s.sessions)
}

// Sessions returns a deep copy of the current contents in order.
func (s *Store) Sessions() []model.Session {
	out := make([]model.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id int64) (model.Session, bool) {
	i := s.index(id)
	if i < 0 {
		return model.Session{}, false
	}
	return s.sessions[i].Clone(), true
}

// ReplaceAll discards the previous contents.
func (s *Store) ReplaceAll(sessions []model.Session) {
	next := make([]model.Session, len(sessions))
	for i, sess := range sessions {
		next[i] = sess.Clone()
	}
	s.sessions = next
	s.version++
}

// Insert appends a session, or replaces in place an entry with the same id
// already loaded by a fetch.
func (s *Store) Insert(session model.Session) {
	if i := s.index(session.SessionID); i >= 0 {
		s.sessions[i] = session.Clone()
	} else {
		s.sessions = append(s.sessions, session.Clone())
	}
	s.version++
}

// Remove drops the session with the given id and returns it.
func (s *Store) Remove(id int64) (model.Session, bool) {
	i := s.index(id)
	if i < 0 {
		return model.Session{}, false
	}
	removed := s.sessions[i]
	s.sessions = slices.Delete(s.sessions, i, i+1)
	s.version++
	return removed, true
}

// UpdateParticipants applies mutate to the participant list of one session.
// It is a no-op returning false when the id is absent, which happens when the
// session was deleted concurrently.
func (s *Store) UpdateParticipants(id int64, mutate func([]model.User) []model.User) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.sessions[i].Participants = mutate(slices.Clone(s.sessions[i].Participants))
	s.version++
	return true
}

func (s *Store) index(id int64) int {
	return slices.IndexFunc(s.sessions, func(sess model.Session) bool { return sess.SessionID == id })
}

// AddUser returns a mutator that appends u unless a participant with the same
// name is already present.
func AddUser(u model.User) func([]model.User) []model.User {
	return func(users []model.User) []model.User {
		if slices.ContainsFunc(users, func(p model.User) bool { return p.Name == u.Name }) {
			return users
		}
		return append(users, u)
	}
}

// RemoveUser returns a mutator that drops the participant with the given name.
func RemoveUser(name string) func([]model.User) []model.User {
	return func(users []model.User) []model.User {
		return slices.DeleteFunc(users, func(p model.User) bool { return p.Name == name })
	}
}
