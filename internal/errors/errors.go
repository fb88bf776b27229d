package errors

import (
	"errors"
	"fmt"
)

// Code is the stable, machine-readable cause attached to every domain error.
type Code string

const (
	CodeOddRoster               Code = "odd-roster-error"
	CodeUnbalancedTeamCount     Code = "unbalanced-team-count"
	CodeMissingPlayers          Code = "missing-players"
	CodeRosterFull              Code = "roster-full"
	CodeLockedPlayerMoveBlocked Code = "locked-player-move-blocked"
	CodeInvalidSlot             Code = "invalid-slot"
	CodeInvalidScore            Code = "invalid-score"
	CodeSelfVote                Code = "self-vote"
	CodeAlreadyVoted            Code = "already-voted"
	CodeNotVoter                Code = "not-a-voter"
	CodeDuplicatePlayer         Code = "duplicate-player"
	CodeVotesPending            Code = "votes-pending"
	CodeTeamsConfirmed          Code = "teams-confirmed"
	CodeTeamsNotConfirmed       Code = "teams-not-confirmed"
	CodeInvalidState            Code = "invalid-state"
	CodeMatchNotOpen            Code = "match-not-open"
	CodeAdminTransferRequired   Code = "admin-transfer-required"
	CodeTransferTargetUnlinked  Code = "transfer-target-unlinked"
	CodeAlreadyMember           Code = "already-member"
	CodeInvalidInput            Code = "invalid-input"

	CodeNotMatchAdmin  Code = "not-match-admin"
	CodeNotPlayerOwner Code = "not-player-owner"

	CodeDragIntegrity Code = "drag-integrity-check-failed"
	CodeStaleTeamPair Code = "stale-team-pair"

	CodeVotesFetchFailed   Code = "votes-fetch-failed"
	CodePlayersFetchFailed Code = "players-fetch-failed"
	CodeScoreWriteFailed   Code = "score-write-failed"
	CodeVoteClearFailed    Code = "vote-clear-failed"
	CodeStoreFailed        Code = "store-failed"
	CodeFeedFailed         Code = "feed-failed"

	CodeNotFound Code = "not-found"
)

// ValidationError is a user-facing rejection that will not succeed on retry without different input.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches another ValidationError with the same code, or any ValidationError when the target has no code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// AuthorizationError means the actor lacks the capability for the operation.
type AuthorizationError struct {
	Code    Code
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

func (e *AuthorizationError) Is(target error) bool {
	t, ok := target.(*AuthorizationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// IntegrityError aborts a single operation and leaves prior state untouched.
type IntegrityError struct {
	Code    Code
	Message string
}

func (e *IntegrityError) Error() string {
	return e.Message
}

func (e *IntegrityError) Is(target error) bool {
	t, ok := target.(*IntegrityError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// StoreError wraps a transport or driver failure. These are transient and the caller may retry.
type StoreError struct {
	Code Code
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// NotFoundError represents an error when an entity is not found
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Entity == "" || e.Entity == t.Entity
}

var (
	ErrMatchNotFound       = &NotFoundError{Entity: "match"}
	ErrPlayerNotFound      = &NotFoundError{Entity: "player"}
	ErrJoinRequestNotFound = &NotFoundError{Entity: "join request"}
	ErrTeamPairNotFound    = &NotFoundError{Entity: "team pair"}
	ErrUserNotFound        = &NotFoundError{Entity: "user"}
)

// Validation errors
var (
	ErrOddRoster               = &ValidationError{Code: CodeOddRoster, Message: "an even number of players is required to form teams"}
	ErrUnbalancedTeamCount     = &ValidationError{Code: CodeUnbalancedTeamCount, Message: "both teams must have the same number of players"}
	ErrMissingPlayers          = &ValidationError{Code: CodeMissingPlayers, Message: "each team needs at least one player from the roster"}
	ErrRosterFull              = &ValidationError{Code: CodeRosterFull, Message: "the roster is full"}
	ErrLockedPlayerMoveBlocked = &ValidationError{Code: CodeLockedPlayerMoveBlocked, Message: "locked players cannot be moved"}
	ErrInvalidSlot             = &ValidationError{Code: CodeInvalidSlot, Message: "team slot is out of range"}
	ErrInvalidScore            = &ValidationError{Code: CodeInvalidScore, Message: "vote score must be between 1 and 10, -1 or -2"}
	ErrSelfVote                = &ValidationError{Code: CodeSelfVote, Message: "players cannot rate themselves"}
	ErrAlreadyVoted            = &ValidationError{Code: CodeAlreadyVoted, Message: "you have already voted in this match"}
	ErrNotVoter                = &ValidationError{Code: CodeNotVoter, Message: "only players of the match can vote"}
	ErrDuplicatePlayer         = &ValidationError{Code: CodeDuplicatePlayer, Message: "a player with this name or account is already on the roster"}
	ErrVotesPending            = &ValidationError{Code: CodeVotesPending, Message: "players cannot be removed while votes are pending, reset voting first"}
	ErrTeamsConfirmed          = &ValidationError{Code: CodeTeamsConfirmed, Message: "teams are confirmed, unconfirm them to edit"}
	ErrTeamsNotConfirmed       = &ValidationError{Code: CodeTeamsNotConfirmed, Message: "teams are not confirmed"}
	ErrInvalidState            = &ValidationError{Code: CodeInvalidState, Message: "operation is not allowed in the current match state"}
	ErrMatchNotOpen            = &ValidationError{Code: CodeMatchNotOpen, Message: "this match is not open to join requests"}
	ErrAdminTransferRequired   = &ValidationError{Code: CodeAdminTransferRequired, Message: "transfer the admin role to another player before leaving"}
	ErrTransferTargetUnlinked  = &ValidationError{Code: CodeTransferTargetUnlinked, Message: "admin role can only be transferred to a player with an account"}
	ErrAlreadyMember           = &ValidationError{Code: CodeAlreadyMember, Message: "already a member of this match"}
)

// Authorization errors
var (
	ErrNotMatchAdmin  = &AuthorizationError{Code: CodeNotMatchAdmin, Message: "only the match admin can do this"}
	ErrNotPlayerOwner = &AuthorizationError{Code: CodeNotPlayerOwner, Message: "you can only remove yourself"}
)

// Integrity errors
var (
	ErrDragIntegrity = &IntegrityError{Code: CodeDragIntegrity, Message: "move would lose or duplicate a player"}
	ErrStaleTeamPair = &IntegrityError{Code: CodeStaleTeamPair, Message: "teams were changed by someone else"}
)

func NewValidationError(code Code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

func NewStoreError(code Code, err error) error {
	return &StoreError{Code: code, Err: err}
}

func NewNotFoundError(entity string) error {
	return &NotFoundError{Entity: entity}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

func IsIntegrity(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}

// IsTransient reports whether the error came from the store or feed and may succeed on retry.
func IsTransient(err error) bool {
	var e *StoreError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// CodeOf extracts the code of the outermost domain error in the chain, or "" for foreign errors.
func CodeOf(err error) Code {
	var (
		ve *ValidationError
		ae *AuthorizationError
		ie *IntegrityError
		se *StoreError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &ae):
		return ae.Code
	case errors.As(err, &ie):
		return ie.Code
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &ne):
		return CodeNotFound
	}
	return ""
}
