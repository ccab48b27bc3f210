package services

import (
	"errors"
	"fmt"

	"github.com/Gopher0727/TeamLoom/internal/repositories"
)

// Error kinds. Every coded error unwraps to exactly one of them.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("state conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("transient storage error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("rate limited")
)

// Error is a business error with a stable machine-readable code.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrAlreadyMember     = newError(ErrConflict, "already_member", "user is already a member of this group")
	ErrGroupFull         = newError(ErrConflict, "group_full", "group has reached its capacity")
	ErrDuplicatePending  = newError(ErrConflict, "duplicate_pending", "a pending request already exists")
	ErrInvalidState      = newError(ErrConflict, "invalid_state", "request is no longer pending")
	ErrLeaderCannotLeave = newError(ErrConflict, "leader_cannot_leave", "the group leader cannot leave the group")
	ErrMessageDeleted    = newError(ErrConflict, "message_deleted", "message has been deleted")
	ErrEmailTaken        = newError(ErrConflict, "email_taken", "email is already registered")

	ErrNotMember = newError(ErrForbidden, "not_member", "user is not a member of this group")
	ErrNotLeader = newError(ErrForbidden, "not_leader", "only the group leader can do this")
	ErrNotSender = newError(ErrForbidden, "not_sender", "only the sender can modify this message")

	ErrTargetNotMember      = newError(ErrNotFound, "target_not_member", "target user is not a member of this group")
	ErrGroupNotFound        = newError(ErrNotFound, "group_not_found", "group not found")
	ErrRequestNotFound      = newError(ErrNotFound, "request_not_found", "request not found")
	ErrMessageNotFound      = newError(ErrNotFound, "message_not_found", "message not found")
	ErrNotificationNotFound = newError(ErrNotFound, "notification_not_found", "notification not found")
	ErrUserNotFound         = newError(ErrNotFound, "user_not_found", "user not found")

	ErrSelfRemoval        = newError(ErrValidation, "self_removal", "leader cannot remove themselves")
	ErrInvalidDecision    = newError(ErrValidation, "invalid_decision", "unknown review decision")
	ErrEmptyContent       = newError(ErrValidation, "empty_content", "message content is required")
	ErrContentTooLong     = newError(ErrValidation, "content_too_long", "message content is too long")
	ErrReplyOutsideGroup  = newError(ErrValidation, "reply_outside_group", "replied message does not belong to this group")
	ErrInvalidMessageType = newError(ErrValidation, "invalid_message_type", "unsupported message type")
	ErrInvalidCapacity    = newError(ErrValidation, "invalid_capacity", "capacity must be at least 1")
	ErrInvalidGroupType   = newError(ErrValidation, "invalid_group_type", "unsupported group type")
	ErrInvalidCredentials = newError(ErrUnauthenticated, "invalid_credentials", "invalid email or password")
	ErrTooManyRequests    = newError(ErrRateLimited, "rate_limited", "too many requests, slow down")
)

// fromStorage maps repository sentinels onto the taxonomy. notFound is used
// for repositories.ErrNotFound; other errors are wrapped with op.
func fromStorage(op string, err error, notFound *Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, repositories.ErrTransient):
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	default:
		var coded *Error
		if errors.As(err, &coded) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
}

// CodeOf returns the machine-readable code of err, or "" when uncoded.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return ""
}
