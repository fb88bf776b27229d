package store

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	users "github.com/AdamBeresnev/matchday/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type UserStore struct {
	db *sqlx.DB
}

const (
	userColumns            = `id, email, username, provider, provider_id, avatar_url, abandon_count, created_at`
	getUserQuery           = "SELECT " + userColumns + " FROM users WHERE id = ?"
	getUserByProviderQuery = `
        SELECT ` + userColumns + ` FROM users
        WHERE provider = ?
        AND provider_id = ?
    `
	createUserQuery = `
		INSERT INTO users (id, email, username, provider, provider_id, avatar_url) VALUES
		(:id, :email, :username, :provider, :provider_id, :avatar_url)
	`
	updateUserNameAndAvatarQuery = `
		UPDATE users SET
		username = :username,
		avatar_url = :avatar_url
		WHERE id = :id
	`
	incrementAbandonCountQuery = `UPDATE users SET abandon_count = abandon_count + 1 WHERE id = ?`
)

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUserByProvider(ctx context.Context, provider string, providerID string) (*users.User, error) {
	return getUser(ctx, s.db, getUserByProviderQuery, provider, providerID)
}

func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (*users.User, error) {
	return getUser(ctx, s.db, getUserQuery, id)
}

func (s *UserStore) GetUserTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*users.User, error) {
	return getUser(ctx, tx, getUserQuery, id)
}

func getUser(ctx context.Context, q queryer, query string, args ...interface{}) (*users.User, error) {
	var user users.User
	if err := get(ctx, q, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) CreateUser(ctx context.Context, user *users.User) error {
	_, err := s.db.NamedExecContext(ctx, createUserQuery, user)
	return err
}

func (s *UserStore) UpdateUserNameAndAvatar(ctx context.Context, user *users.User) error {
	_, err := s.db.NamedExecContext(ctx, updateUserNameAndAvatarQuery, user)
	return err
}

func (s *UserStore) IncrementAbandonCount(ctx context.Context, id uuid.UUID) error {
	n, err := affected(exec(ctx, s.db, incrementAbandonCountQuery, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}
