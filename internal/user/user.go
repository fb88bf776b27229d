package users

import (
	"time"

	"github.com/google/uuid"
)

type ContextKey string

const UserKey ContextKey = "user"

type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Username     string    `db:"username" json:"username"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Provider     *string   `db:"provider" json:"-"`
	ProviderID   *string   `db:"provider_id" json:"-"`
	AvatarURL    *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	AbandonCount int       `db:"abandon_count" json:"abandon_count"`
}

// DisplayName is the roster name used when the user joins a match.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
