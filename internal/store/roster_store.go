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

type RosterStore struct {
	db *sqlx.DB
}

// ScoreUpdate is the aggregated rating written back to one player when voting closes.
type ScoreUpdate struct {
	PlayerID     uuid.UUID `db:"id"`
	Score        float64   `db:"score"`
	IsGoalkeeper bool      `db:"is_goalkeeper"`
}

const (
	playerColumns = `id, match_id, linked_identity, name, score, is_goalkeeper, is_substitute, created_at`

	// Conflicts on either uniqueness index (identity or case-folded name) insert nothing.
	createPlayerQuery = `INSERT INTO players (id, match_id, linked_identity, name, score, is_goalkeeper, is_substitute, created_at)
		VALUES (:id, :match_id, :linked_identity, :name, :score, :is_goalkeeper, :is_substitute, :created_at)
		ON CONFLICT DO NOTHING`
	getPlayersQuery          = `SELECT ` + playerColumns + ` FROM players WHERE match_id = ? ORDER BY created_at ASC, id ASC`
	getPlayerQuery           = `SELECT ` + playerColumns + ` FROM players WHERE id = ?`
	getPlayerByIdentityQuery = `SELECT ` + playerColumns + ` FROM players WHERE match_id = ? AND linked_identity = ?`
	getPlayerByNameQuery     = `SELECT ` + playerColumns + ` FROM players WHERE match_id = ? AND lower(name) = lower(?)`
	countPlayersQuery        = `SELECT COUNT(*) FROM players WHERE match_id = ?`
	firstSubstituteQuery     = `SELECT ` + playerColumns + ` FROM players WHERE match_id = ? AND is_substitute = ? ORDER BY created_at ASC, id ASC LIMIT 1`
	deletePlayerQuery        = `DELETE FROM players WHERE id = ?`
	setSubstituteQuery       = `UPDATE players SET is_substitute = ? WHERE id = ?`
	updateScoreQuery         = `UPDATE players SET score = ?, is_goalkeeper = ? WHERE id = ? AND match_id = ?`
)

func NewRosterStore(db *sqlx.DB) *RosterStore {
	return &RosterStore{db: db}
}

// CreatePlayer inserts the player and reports false when a uniqueness constraint kept it out.
func (s *RosterStore) CreatePlayer(ctx context.Context, tx *sqlx.Tx, p *match.Player) (bool, error) {
	n, err := affected(tx.NamedExecContext(ctx, createPlayerQuery, p))
	return n == 1, err
}

func (s *RosterStore) GetPlayers(ctx context.Context, matchID uuid.UUID) ([]match.Player, error) {
	return getPlayers(ctx, s.db, matchID)
}

func (s *RosterStore) GetPlayersTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) ([]match.Player, error) {
	return getPlayers(ctx, tx, matchID)
}

func getPlayers(ctx context.Context, q queryer, matchID uuid.UUID) ([]match.Player, error) {
	players := []match.Player{}
	err := selectAll(ctx, q, &players, getPlayersQuery, matchID)
	return players, err
}

func (s *RosterStore) GetPlayer(ctx context.Context, id uuid.UUID) (*match.Player, error) {
	return getOnePlayer(ctx, s.db, getPlayerQuery, id)
}

func (s *RosterStore) GetPlayerTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*match.Player, error) {
	return getOnePlayer(ctx, tx, getPlayerQuery, id)
}

// FindByIdentity returns nil without error when the identity has no player in the match.
func (s *RosterStore) FindByIdentity(ctx context.Context, matchID, identity uuid.UUID) (*match.Player, error) {
	return findPlayer(ctx, s.db, getPlayerByIdentityQuery, matchID, identity)
}

func (s *RosterStore) FindByIdentityTx(ctx context.Context, tx *sqlx.Tx, matchID, identity uuid.UUID) (*match.Player, error) {
	return findPlayer(ctx, tx, getPlayerByIdentityQuery, matchID, identity)
}

func (s *RosterStore) FindByNameTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID, name string) (*match.Player, error) {
	return findPlayer(ctx, tx, getPlayerByNameQuery, matchID, name)
}

func (s *RosterStore) CountPlayersTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (int, error) {
	var n int
	err := get(ctx, tx, &n, countPlayersQuery, matchID)
	return n, err
}

func (s *RosterStore) FirstSubstituteTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (*match.Player, error) {
	return findPlayer(ctx, tx, firstSubstituteQuery, matchID, true)
}

func (s *RosterStore) DeletePlayer(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	_, err := exec(ctx, tx, deletePlayerQuery, id)
	return err
}

func (s *RosterStore) SetSubstitute(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, substitute bool) error {
	_, err := exec(ctx, tx, setSubstituteQuery, substitute, id)
	return err
}

// UpdateScores writes every update and fails if any player row did not accept its write.
func (s *RosterStore) UpdateScores(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID, updates []ScoreUpdate) error {
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(updateScoreQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		n, err := affected(stmt.ExecContext(ctx, u.Score, u.IsGoalkeeper, u.PlayerID, matchID))
		if err != nil {
			return err
		}
		if n != 1 {
			return apperrors.ErrPlayerNotFound
		}
	}
	return nil
}

func getOnePlayer(ctx context.Context, q queryer, query string, args ...interface{}) (*match.Player, error) {
	var p match.Player
	if err := get(ctx, q, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func findPlayer(ctx context.Context, q queryer, query string, args ...interface{}) (*match.Player, error) {
	p, err := getOnePlayer(ctx, q, query, args...)
	if errors.Is(err, apperrors.ErrPlayerNotFound) {
		return nil, nil
	}
	return p, err
}
