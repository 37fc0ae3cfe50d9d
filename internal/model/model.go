package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrDecode is returned when a wire payload cannot be turned into a Session.
var ErrDecode = errors.New("decode session")

// Length limits, in runes, for user-entered session fields.
const (
	MaxTitleLen = 30
	MaxGameLen  = 30
)

// User is a participant of a session. Name doubles as the user identity.
type User struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Session is a single scheduled gaming session ("event") on a group calendar.
//
// StartTime / EndTime are absolute instants; callers are expected to keep
// EndTime after StartTime. Participants always include the owner.
type Session struct {
	SessionID    int64
	ServerID     string
	Title        string
	StartTime    time.Time
	EndTime      time.Time
	Owner        User
	Participants []User
	Game         *string
}

// HasParticipant reports whether a user with the given name takes part.
func (s *Session) HasParticipant(name string) bool {
	return slices.ContainsFunc(s.Participants, func(u User) bool { return u.Name == name })
}

// IsOwner compares by display name, matching how ownership is stored.
func (s *Session) IsOwner(name string) bool {
	return s.Owner.Name == name
}

// Clone returns a deep copy so callers never share participant slices.
func (s Session) Clone() Session {
	out := s
	out.Participants = slices.Clone(s.Participants)
	if s.Game != nil {
		g := *s.Game
		out.Game = &g
	}
	return out
}

// CreateSessionRequest is the payload for creating a session. The store
// assigns the id.
type CreateSessionRequest struct {
	ServerID string    `json:"server_id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
	OwnerID  string    `json:"owner_id"`
	Picture  string    `json:"picture"`
	Game     *string   `json:"game"`
}

// ParticipantRequest is the payload for joining a session.
type ParticipantRequest struct {
	UserID  string `json:"user_id"`
	Picture string `json:"picture"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// sessionWire is the JSON shape exchanged with the backing store. Times are
// RFC3339 strings in UTC.
type sessionWire struct {
	SessionID    int64   `json:"session_id"`
	ServerID     string  `json:"server_id"`
	Title        string  `json:"title"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	Owner        User    `json:"owner"`
	Participants []User  `json:"participants"`
	Game         *string `json:"game"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	participants := s.Participants
	if participants == nil {
		participants = []User{}
	}
	return json.Marshal(sessionWire{
		SessionID:    s.SessionID,
		ServerID:     s.ServerID,
		Title:        s.Title,
		StartTime:    s.StartTime.UTC().Format(time.RFC3339),
		EndTime:      s.EndTime.UTC().Format(time.RFC3339),
		Owner:        s.Owner,
		Participants: participants,
		Game:         s.Game,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	start, err := time.Parse(time.RFC3339, w.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start_time: %w", ErrDecode, err)
	}
	end, err := time.Parse(time.RFC3339, w.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end_time: %w", ErrDecode, err)
	}
	*s = Session{
		SessionID:    w.SessionID,
		ServerID:     w.ServerID,
		Title:        w.Title,
		StartTime:    start.UTC(),
		EndTime:      end.UTC(),
		Owner:        w.Owner,
		Participants: w.Participants,
		Game:         w.Game,
	}
	return nil
}
