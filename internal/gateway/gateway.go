// Package gateway defines the backing-store contract used by the sync
// controller and the HTTP API, plus an in-memory implementation.
package gateway

import (
	"context"
	"errors"
	"time"

	"gametonite/internal/model"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// Gateway is the query surface of the shared session store. Implementations
// must be safe for concurrent use; writes are last-write-wins.
type Gateway interface {
	// ListSessionsInRange returns the sessions of groupID whose [start, end)
	// interval intersects [start, end).
	ListSessionsInRange(ctx context.Context, groupID string, start, end time.Time) ([]model.Session, error)
	// CreateSession stores a new session owned by req.OwnerID and returns it
	// with its assigned id. The owner is recorded as a participant.
	CreateSession(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error)
	// DeleteSession removes a session. Ownership is checked by the caller.
	DeleteSession(ctx context.Context, sessionID int64) error
	AddParticipant(ctx context.Context, sessionID int64, userID, picture string) error
	RemoveParticipant(ctx context.Context, sessionID int64, userID string) error
}
