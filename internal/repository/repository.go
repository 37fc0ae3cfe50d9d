// Package repository implements the session gateway on PostgreSQL.
// It uses pgx directly (no ORM).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gametonite/internal/gateway"
	"gametonite/internal/model"
)

// SessionRepository persists sessions and their participants.
type SessionRepository struct {
	db *pgxpool.Pool
}

var _ gateway.Gateway = (*SessionRepository)(nil)

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// ListSessionsInRange returns every session of groupID intersecting
// [start, end), ordered by start time, with participants attached.
func (r *SessionRepository) ListSessionsInRange(ctx context.Context, groupID string, start, end time.Time) ([]model.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT session_id, server_id, title, start_time, end_time, owner, game
		 FROM sessions
		 WHERE server_id = $1 AND start_time < $3 AND end_time > $2
		 ORDER BY start_time ASC, session_id ASC`,
		groupID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.SessionID, &s.ServerID, &s.Title, &s.StartTime, &s.EndTime, &s.Owner.Name, &s.Game); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartTime = s.StartTime.UTC()
		s.EndTime = s.EndTime.UTC()
		s.Participants = []model.User{}
		sessions = append(sessions, s)
		ids = append(ids, s.SessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return sessions, nil
	}

	users, err := r.participants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		s := &sessions[i]
		s.Participants = append(s.Participants, users[s.SessionID]...)
		for _, u := range s.Participants {
			if u.Name == s.Owner.Name {
				s.Owner.Picture = u.Picture
				break
			}
		}
	}
	return sessions, nil
}

func (r *SessionRepository) participants(ctx context.Context, ids []int64) (map[int64][]model.User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT session_id, user_id, user_photo
		 FROM session_users
		 WHERE session_id = ANY($1)
		 ORDER BY session_id, joined_at, user_id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]model.User, len(ids))
	for rows.Next() {
		var id int64
		var u model.User
		if err := rows.Scan(&id, &u.Name, &u.Picture); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out[id] = append(out[id], u)
	}
	return out, rows.Err()
}

// CreateSession inserts the session and its owner as first participant in
// one transaction.
func (r *SessionRepository) CreateSession(ctx context.Context, req model.CreateSessionRequest) (_ *model.Session, err error) {
	if req.ServerID == "" || req.OwnerID == "" {
		return nil, errors.New("create session: server_id and owner_id are required")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	owner := model.User{Name: req.OwnerID, Picture: req.Picture}
	s := &model.Session{
		ServerID:     req.ServerID,
		Title:        req.Title,
		StartTime:    req.Start.UTC(),
		EndTime:      req.End.UTC(),
		Owner:        owner,
		Participants: []model.User{owner},
		Game:         req.Game,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO sessions (server_id, title, start_time, end_time, owner, game)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING session_id`,
		s.ServerID, s.Title, s.StartTime, s.EndTime, s.Owner.Name, s.Game,
	).Scan(&s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO session_users (session_id, user_id, user_photo) VALUES ($1, $2, $3)`,
		s.SessionID, owner.Name, owner.Picture,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s, nil
}

// DeleteSession removes a session; participants go with it via cascade.
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// AddParticipant is idempotent: joining twice keeps the first record.
func (r *SessionRepository) AddParticipant(ctx context.Context, sessionID int64, userID, picture string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT true FROM sessions WHERE session_id = $1`, sessionID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return gateway.ErrNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO session_users (session_id, user_id, user_photo)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		sessionID, userID, picture,
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// RemoveParticipant is a no-op when the user was not participating.
func (r *SessionRepository) RemoveParticipant(ctx context.Context, sessionID int64, userID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM session_users WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}
