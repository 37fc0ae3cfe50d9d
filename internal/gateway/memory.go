package gateway

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gametonite/internal/model"
	"gametonite/internal/store"
)

// Memory is an in-process Gateway. It backs `serve --memory` and tests.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]model.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[int64]model.Session)}
}

func (m *Memory) ListSessionsInRange(_ context.Context, groupID string, start, end time.Time) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Session, 0)
	for _, s := range m.sessions {
		if s.ServerID != groupID {
			continue
		}
		if s.StartTime.Before(end) && s.EndTime.After(start) {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.Session) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out, nil
}

func (m *Memory) CreateSession(_ context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	if req.ServerID == "" || req.OwnerID == "" {
		return nil, fmt.Errorf("create session: server_id and owner_id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	owner := model.User{Name: req.OwnerID, Picture: req.Picture}
	s := model.Session{
		SessionID:    m.nextID,
		ServerID:     req.ServerID,
		Title:        req.Title,
		StartTime:    req.Start.UTC(),
		EndTime:      req.End.UTC(),
		Owner:        owner,
		Participants: []model.User{owner},
		Game:         req.Game,
	}
	m.sessions[s.SessionID] = s.Clone()
	return &s, nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, sessionID int64, userID, picture string) error {
	return m.updateParticipants(sessionID, store.AddUser(model.User{Name: userID, Picture: picture}))
}

func (m *Memory) RemoveParticipant(_ context.Context, sessionID int64, userID string) error {
	return m.updateParticipants(sessionID, store.RemoveUser(userID))
}

func (m *Memory) updateParticipants(sessionID int64, mutate func([]model.User) []model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Participants = mutate(slices.Clone(s.Participants))
	m.sessions[sessionID] = s
	return nil
}
