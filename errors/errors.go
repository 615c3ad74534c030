package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Validation
	ErrEmptyText            = fmt.Errorf("message text is empty")
	ErrTextTooLong          = fmt.Errorf("message text is too long")
	ErrInvalidUserID        = fmt.Errorf("invalid user id")
	ErrInvalidPayload       = fmt.Errorf("invalid payload")
	ErrUnknownAction        = fmt.Errorf("unknown action")
	ErrNotJoined            = fmt.Errorf("connection has not joined a room")
	ErrAlreadyJoined        = fmt.Errorf("connection already joined another room")
	ErrSenderMismatch       = fmt.Errorf("sender does not match the joined user")
	ErrIdentityMissing      = fmt.Errorf("identity is not established")
	ErrNoActiveConversation = fmt.Errorf("no active conversation")
	ErrUnknownMessage       = fmt.Errorf("unknown local message")

	// Authentication
	ErrUnauthorized = fmt.Errorf("unauthorized")
	ErrForbidden    = fmt.Errorf("forbidden")

	// Connection
	ErrSessionClosed = fmt.Errorf("session is closed")
	ErrNotConnected  = fmt.Errorf("realtime connection is not ready")
	ErrAckTimeout    = fmt.Errorf("no acknowledgement received")

	// Transient
	ErrStoreUnavailable = fmt.Errorf("message store unavailable")
)

// Kind is the failure class surfaced to users and callers.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindConnection Kind = "connection"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

var validationErrors = []error{
	ErrEmptyText, ErrTextTooLong, ErrInvalidUserID, ErrInvalidPayload, ErrUnknownAction,
	ErrNotJoined, ErrAlreadyJoined, ErrSenderMismatch, ErrIdentityMissing,
	ErrNoActiveConversation, ErrUnknownMessage,
}

// KindOf classifies err. Errors not recognised are fatal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case isAny(err, validationErrors...):
		return KindValidation
	case isAny(err, ErrUnauthorized, ErrForbidden):
		return KindAuth
	case isAny(err, ErrSessionClosed, ErrNotConnected, ErrAckTimeout):
		return KindConnection
	case isAny(err, ErrStoreUnavailable):
		return KindTransient
	default:
		return KindFatal
	}
}

// HTTPStatus maps err onto the REST status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		if stderrors.Is(err, ErrForbidden) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindTransient, KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}
