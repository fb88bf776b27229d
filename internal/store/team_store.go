package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TeamStore struct {
	db *sqlx.DB
}

type teamPairRow struct {
	MatchID   uuid.UUID    `db:"match_id"`
	TeamA     match.IDList `db:"team_a"`
	TeamB     match.IDList `db:"team_b"`
	NameA     string       `db:"name_a"`
	NameB     string       `db:"name_b"`
	ScoreA    float64      `db:"score_a"`
	ScoreB    float64      `db:"score_b"`
	Locked    match.IDList `db:"locked"`
	Version   int64        `db:"version"`
	UpdatedAt time.Time    `db:"updated_at"`
}

func (r teamPairRow) toPair() *match.TeamPair {
	return &match.TeamPair{
		MatchID:   r.MatchID,
		A:         match.Team{ID: match.TeamA, Name: r.NameA, PlayerIDs: r.TeamA, Score: r.ScoreA},
		B:         match.Team{ID: match.TeamB, Name: r.NameB, PlayerIDs: r.TeamB, Score: r.ScoreB},
		Locked:    r.Locked,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}

func rowFromPair(p *match.TeamPair) teamPairRow {
	return teamPairRow{
		MatchID:   p.MatchID,
		TeamA:     p.A.PlayerIDs,
		TeamB:     p.B.PlayerIDs,
		NameA:     p.A.Name,
		NameB:     p.B.Name,
		ScoreA:    p.A.Score,
		ScoreB:    p.B.Score,
		Locked:    p.Locked,
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,
	}
}

const (
	teamPairColumns = `match_id, team_a, team_b, name_a, name_b, score_a, score_b, locked, version, updated_at`

	// A fresh formation replaces whatever split existed and bumps the version so stale editors notice.
	replaceTeamPairQuery = `INSERT INTO team_pairs (` + teamPairColumns + `)
		VALUES (:match_id, :team_a, :team_b, :name_a, :name_b, :score_a, :score_b, :locked, :version, :updated_at)
		ON CONFLICT (match_id) DO UPDATE SET
			team_a = excluded.team_a, team_b = excluded.team_b,
			name_a = excluded.name_a, name_b = excluded.name_b,
			score_a = excluded.score_a, score_b = excluded.score_b,
			locked = excluded.locked, version = team_pairs.version + 1,
			updated_at = excluded.updated_at`
	getTeamPairQuery  = `SELECT ` + teamPairColumns + ` FROM team_pairs WHERE match_id = ?`
	saveTeamPairQuery = `UPDATE team_pairs SET
			team_a = ?, team_b = ?, name_a = ?, name_b = ?, score_a = ?, score_b = ?,
			locked = ?, version = version + 1, updated_at = ?
		WHERE match_id = ? AND version = ?`
	deleteTeamPairQuery = `DELETE FROM team_pairs WHERE match_id = ?`

	confirmationColumns     = `match_id, team_a, team_b, participants_json, confirmed_at`
	upsertConfirmationQuery = `INSERT INTO team_confirmations (` + confirmationColumns + `)
		VALUES (:match_id, :team_a, :team_b, :participants_json, :confirmed_at)
		ON CONFLICT (match_id) DO UPDATE SET
			team_a = excluded.team_a, team_b = excluded.team_b,
			participants_json = excluded.participants_json, confirmed_at = excluded.confirmed_at`
	getConfirmationQuery    = `SELECT ` + confirmationColumns + ` FROM team_confirmations WHERE match_id = ?`
	deleteConfirmationQuery = `DELETE FROM team_confirmations WHERE match_id = ?`
)

func NewTeamStore(db *sqlx.DB) *TeamStore {
	return &TeamStore{db: db}
}

// ReplaceTeamPair writes a freshly formed pair and returns it with the stored version.
func (s *TeamStore) ReplaceTeamPair(ctx context.Context, tx *sqlx.Tx, p *match.TeamPair) (*match.TeamPair, error) {
	if p.Version == 0 {
		p.Version = 1
	}
	if _, err := tx.NamedExecContext(ctx, replaceTeamPairQuery, rowFromPair(p)); err != nil {
		return nil, err
	}
	return getTeamPair(ctx, tx, p.MatchID)
}

func (s *TeamStore) GetTeamPair(ctx context.Context, matchID uuid.UUID) (*match.TeamPair, error) {
	return getTeamPair(ctx, s.db, matchID)
}

func (s *TeamStore) GetTeamPairTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (*match.TeamPair, error) {
	return getTeamPair(ctx, tx, matchID)
}

func getTeamPair(ctx context.Context, q queryer, matchID uuid.UUID) (*match.TeamPair, error) {
	var row teamPairRow
	if err := get(ctx, q, &row, getTeamPairQuery, matchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrTeamPairNotFound
		}
		return nil, err
	}
	return row.toPair(), nil
}

// SaveTeamPair writes p only if the stored version still equals p.Version and returns the new version.
func (s *TeamStore) SaveTeamPair(ctx context.Context, tx *sqlx.Tx, p *match.TeamPair) (int64, error) {
	row := rowFromPair(p)
	n, err := affected(exec(ctx, tx, saveTeamPairQuery,
		row.TeamA, row.TeamB, row.NameA, row.NameB, row.ScoreA, row.ScoreB,
		row.Locked, row.UpdatedAt, row.MatchID, row.Version))
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, apperrors.ErrStaleTeamPair
	}
	return p.Version + 1, nil
}

func (s *TeamStore) DeleteTeamPair(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) error {
	_, err := exec(ctx, tx, deleteTeamPairQuery, matchID)
	return err
}

func (s *TeamStore) UpsertConfirmation(ctx context.Context, tx *sqlx.Tx, c *match.TeamConfirmation) error {
	_, err := tx.NamedExecContext(ctx, upsertConfirmationQuery, c)
	return err
}

// GetConfirmation returns nil without error when the teams are not confirmed.
func (s *TeamStore) GetConfirmation(ctx context.Context, matchID uuid.UUID) (*match.TeamConfirmation, error) {
	var c match.TeamConfirmation
	if err := get(ctx, s.db, &c, getConfirmationQuery, matchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *TeamStore) DeleteConfirmation(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) error {
	_, err := exec(ctx, tx, deleteConfirmationQuery, matchID)
	return err
}
