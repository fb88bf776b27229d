package service

import (
	"context"
	"fmt"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/store"
	users "github.com/AdamBeresnev/matchday/internal/user"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/markbates/goth"
)

type UserService struct {
	db    *sqlx.DB
	store *store.UserStore
}

func NewUserService(db *sqlx.DB, store *store.UserStore) *UserService {
	return &UserService{db: db, store: store}
}

func (s *UserService) FindOrCreateUserByProvider(ctx context.Context, gothUser goth.User) (*users.User, error) {
	user, err := s.store.GetUserByProvider(ctx, gothUser.Provider, gothUser.UserID)

	if err == nil {
		name := gothUser.NickName
		if name == "" {
			name = gothUser.Name
		}
		if utils.OrZero(user.AvatarURL) != gothUser.AvatarURL || user.Username != name {
			user.AvatarURL = utils.StringOrNil(gothUser.AvatarURL)
			user.Username = name
			if err := s.store.UpdateUserNameAndAvatar(ctx, user); err != nil {
				logger.WithContext(ctx).WithError(err).WithField("user_id", user.ID).Warn("failed to refresh profile")
			}
		}
		return user, nil
	}

	if apperrors.IsNotFound(err) {
		newUser := &users.User{
			ID:         uuid.New(),
			Email:      gothUser.Email,
			Username:   gothUser.Name,
			Provider:   &gothUser.Provider,
			ProviderID: &gothUser.UserID,
			AvatarURL:  utils.StringOrNil(gothUser.AvatarURL),
		}
		err := s.store.CreateUser(ctx, newUser)
		return newUser, err
	}

	return nil, err
}

// CreateGuestUser mints a fresh account for one guest session.
func (s *UserService) CreateGuestUser(ctx context.Context) (*users.User, error) {
	id := uuid.New()
	guest := &users.User{
		ID:       id,
		Email:    fmt.Sprintf("guest+%s@matchday.local", id),
		Username: "Guest " + id.String()[:8],
	}
	if err := s.store.CreateUser(ctx, guest); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).WithField("user_id", id).Info("guest account created")
	return guest, nil
}

// RecordAbandonment counts one late withdrawal against the user.
func (s *UserService) RecordAbandonment(ctx context.Context, identity uuid.UUID) error {
	return s.store.IncrementAbandonCount(ctx, identity)
}
