package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrClientNotFound means the referenced client record does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrTemplateNotFound means no template matched the requested title.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMessengerDisabled is returned when outbound Messenger delivery is
	// switched off; attempts are still logged as skipped.
	ErrMessengerDisabled = errors.New("messenger delivery disabled")

	// ErrRateLimitExceeded is returned when a group's send queue rejects a
	// message because the per-group rate cap is exhausted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// DeliveryError wraps an underlying error with message delivery context.
type DeliveryError struct {
	ClientID int64
	Op       string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.ClientID != 0 {
		return fmt.Sprintf("client %d: %s: %v", e.ClientID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
