package shared_models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrSeatConflict      = errors.New("one or more seats are not available")
	ErrHoldExpired       = errors.New("seat hold has expired")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrPaymentTimeout    = errors.New("payment provider timed out")
	ErrLedgerConflict    = errors.New("booking attempt id already used with a different payload")
	ErrInvalidTransition = errors.New("invalid booking state transition")
	ErrNotHeldByHolder   = errors.New("seat is not held by this booking attempt")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyPaid       = errors.New("payment already verified for this booking")
	ErrTicketUsed        = errors.New("ticket already validated")
	ErrInvalidTicket     = errors.New("invalid ticket")
	ErrForbidden         = errors.New("caller is not allowed to perform this operation")
)

// SeatConflictError lists the seats that blocked an all-or-nothing hold.
type SeatConflictError struct {
	TripID  uuid.UUID
	SeatIDs []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats %s on trip %s are not available", strings.Join(e.SeatIDs, ","), e.TripID)
}

func (e *SeatConflictError) Is(target error) bool { return target == ErrSeatConflict }

// InvalidTransitionError reports a rejected state change. Actual is the state
// found in storage when a compare-and-set lost, and empty when the edge itself
// is not allowed.
type InvalidTransitionError struct {
	From   string
	To     string
	Actual string
}

func (e *InvalidTransitionError) Error() string {
	if e.Actual != "" && e.Actual != e.From {
		return fmt.Sprintf("cannot move booking from %s to %s: current state is %s", e.From, e.To, e.Actual)
	}
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError carries the offending field for 400 responses.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
