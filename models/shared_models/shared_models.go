package shared_models

import (
	"time"

	"github.com/google/uuid"
)

// Reason codes recorded on terminal booking attempts and surfaced to clients.
const (
	ReasonSeatsTaken      = "seats_taken"
	ReasonSessionExpired  = "session_expired"
	ReasonPaymentDeclined = "payment_declined"
	ReasonPaymentTimedOut = "payment_timed_out"
	ReasonUserCancelled   = "user_cancelled"
	ReasonHoldFailed      = "hold_failed"
	ReasonAbandoned       = "abandoned"
)

// Roles carried in access tokens. A token without a role is a passenger.
const (
	RolePassenger = "passenger"
	RoleOperator  = "operator"
	RoleAdmin     = "admin"
)

// Caller is the authenticated passenger on whose behalf an operation runs.
// It is passed explicitly into every orchestrator call.
type Caller struct {
	PassengerID uuid.UUID `json:"passenger_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role,omitempty"`
}

// CanValidateTickets reports whether the caller may mark tickets as boarded.
func (c Caller) CanValidateTickets() bool {
	return c.Role == RoleOperator || c.Role == RoleAdmin
}

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// GenerateUUIDv7 returns a time-ordered id for records the service creates itself.
func GenerateUUIDv7() (uuid.UUID, error) {
	return uuid.NewV7()
}
