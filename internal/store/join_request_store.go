package store

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type JoinRequestStore struct {
	db *sqlx.DB
}

const (
	joinRequestColumns = `id, match_id, requester_id, status, created_at`

	// The partial unique index on active requests turns a racing duplicate into a no-op.
	createJoinRequestQuery = `INSERT INTO join_requests (id, match_id, requester_id, status, created_at)
		VALUES (:id, :match_id, :requester_id, :status, :created_at)
		ON CONFLICT DO NOTHING`
	getJoinRequestQuery       = `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE id = ?`
	getActiveJoinRequestQuery = `SELECT ` + joinRequestColumns + ` FROM join_requests
		WHERE match_id = ? AND requester_id = ? AND status IN ('pending', 'approved')`
	getLatestJoinRequestQuery = `SELECT ` + joinRequestColumns + ` FROM join_requests
		WHERE match_id = ? AND requester_id = ? ORDER BY created_at DESC LIMIT 1`
	getPendingJoinRequestsQuery = `SELECT ` + joinRequestColumns + ` FROM join_requests
		WHERE match_id = ? AND status = 'pending' ORDER BY created_at ASC`
	updateJoinRequestStatusQuery = `UPDATE join_requests SET status = ? WHERE id = ? AND status = ?`
)

func NewJoinRequestStore(db *sqlx.DB) *JoinRequestStore {
	return &JoinRequestStore{db: db}
}

// CreateJoinRequest reports false when an active request for the same requester already exists.
func (s *JoinRequestStore) CreateJoinRequest(ctx context.Context, tx *sqlx.Tx, r *match.JoinRequest) (bool, error) {
	n, err := affected(tx.NamedExecContext(ctx, createJoinRequestQuery, r))
	return n == 1, err
}

func (s *JoinRequestStore) GetJoinRequest(ctx context.Context, id uuid.UUID) (*match.JoinRequest, error) {
	return getJoinRequest(ctx, s.db, id)
}

func (s *JoinRequestStore) GetJoinRequestTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*match.JoinRequest, error) {
	return getJoinRequest(ctx, tx, id)
}

func getJoinRequest(ctx context.Context, q queryer, id uuid.UUID) (*match.JoinRequest, error) {
	var r match.JoinRequest
	if err := get(ctx, q, &r, getJoinRequestQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrJoinRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *JoinRequestStore) GetActiveJoinRequestTx(ctx context.Context, tx *sqlx.Tx, matchID, requesterID uuid.UUID) (*match.JoinRequest, error) {
	return findJoinRequest(ctx, tx, getActiveJoinRequestQuery, matchID, requesterID)
}

// GetLatestJoinRequest returns the most recent request of any status, or nil when there is none.
func (s *JoinRequestStore) GetLatestJoinRequest(ctx context.Context, matchID, requesterID uuid.UUID) (*match.JoinRequest, error) {
	return findJoinRequest(ctx, s.db, getLatestJoinRequestQuery, matchID, requesterID)
}

func (s *JoinRequestStore) GetPendingJoinRequests(ctx context.Context, matchID uuid.UUID) ([]match.JoinRequest, error) {
	requests := []match.JoinRequest{}
	err := selectAll(ctx, s.db, &requests, getPendingJoinRequestsQuery, matchID)
	return requests, err
}

// UpdateStatus moves the request from one status to another and reports false if it was not in from.
func (s *JoinRequestStore) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to match.JoinStatus) (bool, error) {
	n, err := affected(exec(ctx, tx, updateJoinRequestStatusQuery, to, id, from))
	return n == 1, err
}

func findJoinRequest(ctx context.Context, q queryer, query string, args ...interface{}) (*match.JoinRequest, error) {
	var r match.JoinRequest
	if err := get(ctx, q, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
