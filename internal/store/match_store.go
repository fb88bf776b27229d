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

type MatchStore struct {
	db *sqlx.DB
}

const (
	matchColumns = `id, admin_id, capacity, scheduled_at, location, state, confirmed, open_to_community, created_at`

	createMatchQuery = `INSERT INTO matches (id, admin_id, capacity, scheduled_at, location, state, confirmed, open_to_community, created_at)
		VALUES (:id, :admin_id, :capacity, :scheduled_at, :location, :state, :confirmed, :open_to_community, :created_at)`
	getMatchQuery           = `SELECT ` + matchColumns + ` FROM matches WHERE id = ?`
	getMatchesByAdminQuery  = `SELECT ` + matchColumns + ` FROM matches WHERE admin_id = ? ORDER BY scheduled_at DESC`
	updateMatchStateQuery   = `UPDATE matches SET state = ? WHERE id = ?`
	transitionMatchQuery    = `UPDATE matches SET state = ? WHERE id = ? AND state = ?`
	setMatchConfirmedQuery  = `UPDATE matches SET confirmed = ? WHERE id = ?`
	updateMatchAdminQuery   = `UPDATE matches SET admin_id = ? WHERE id = ?`
	setOpenToCommunityQuery = `UPDATE matches SET open_to_community = ? WHERE id = ?`
)

func NewMatchStore(db *sqlx.DB) *MatchStore {
	return &MatchStore{db: db}
}

func (s *MatchStore) CreateMatch(ctx context.Context, tx *sqlx.Tx, m *match.Match) error {
	_, err := tx.NamedExecContext(ctx, createMatchQuery, m)
	return err
}

func (s *MatchStore) GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	return getMatch(ctx, s.db, id)
}

func (s *MatchStore) GetMatchTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*match.Match, error) {
	return getMatch(ctx, tx, id)
}

func getMatch(ctx context.Context, q queryer, id uuid.UUID) (*match.Match, error) {
	var m match.Match
	if err := get(ctx, q, &m, getMatchQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrMatchNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MatchStore) GetMatchesByAdmin(ctx context.Context, adminID uuid.UUID) ([]match.Match, error) {
	var matches []match.Match
	err := selectAll(ctx, s.db, &matches, getMatchesByAdminQuery, adminID)
	return matches, err
}

func (s *MatchStore) UpdateState(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, state match.State) error {
	_, err := exec(ctx, tx, updateMatchStateQuery, state, id)
	return err
}

// TransitionState moves the match from one state to another and reports false if it was not in from.
func (s *MatchStore) TransitionState(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to match.State) (bool, error) {
	n, err := affected(exec(ctx, tx, transitionMatchQuery, to, id, from))
	return n == 1, err
}

func (s *MatchStore) SetConfirmed(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, confirmed bool) error {
	_, err := exec(ctx, tx, setMatchConfirmedQuery, confirmed, id)
	return err
}

func (s *MatchStore) UpdateAdmin(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, adminID uuid.UUID) error {
	_, err := exec(ctx, tx, updateMatchAdminQuery, adminID, id)
	return err
}

func (s *MatchStore) SetOpenToCommunity(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, open bool) error {
	_, err := exec(ctx, tx, setOpenToCommunityQuery, open, id)
	return err
}
