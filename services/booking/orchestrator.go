// Package booking runs the booking saga: hold seats, take payment, book
// seats, issue the ticket. Every step is written to the ledger before its
// side effect so a crashed attempt can be re-driven or compensated.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/models/trip_models"
	"github.com/joy095/gobus/services/catalog"
	"github.com/joy095/gobus/services/holds"
	"github.com/joy095/gobus/services/inventory"
	"github.com/joy095/gobus/services/ledger"
	"github.com/joy095/gobus/services/payments"
	"github.com/joy095/gobus/services/tickets"
)

// Notifier tells the passenger how their booking ended. Errors are logged,
// never surfaced to the booking flow.
type Notifier interface {
	BookingConfirmed(ctx context.Context, attempt *booking_models.BookingAttempt, trip *trip_models.Trip, ticket *ticket_models.Ticket) error
	BookingClosed(ctx context.Context, attempt *booking_models.BookingAttempt) error
}

type noopNotifier struct{}

func (noopNotifier) BookingConfirmed(context.Context, *booking_models.BookingAttempt, *trip_models.Trip, *ticket_models.Ticket) error {
	return nil
}
func (noopNotifier) BookingClosed(context.Context, *booking_models.BookingAttempt) error { return nil }

type Settings struct {
	MaxSeatsPerBooking int
	// PaymentRetryLimit bounds the number of order creation calls per
	// InitiatePayment when the provider times out.
	PaymentRetryLimit    int
	RetryInitialInterval time.Duration
	HoldTimeout          time.Duration
	LedgerTimeout        time.Duration
	PaymentTimeout       time.Duration
	RecoveryGrace        time.Duration
	TicketLookback       time.Duration
	BatchSize            int
	Currency             string
	MerchantName         string
}

func SettingsFrom(cfg config.Settings) Settings {
	return Settings{
		MaxSeatsPerBooking:   cfg.MaxSeatsPerBooking,
		PaymentRetryLimit:    cfg.PaymentRetryLimit,
		RetryInitialInterval: 500 * time.Millisecond,
		HoldTimeout:          cfg.HoldTimeout,
		LedgerTimeout:        cfg.LedgerTimeout,
		PaymentTimeout:       cfg.PaymentTimeout,
		RecoveryGrace:        cfg.RecoveryGrace,
		TicketLookback:       cfg.TicketLookback,
		BatchSize:            100,
		Currency:             cfg.Currency,
		MerchantName:         "GoBus",
	}
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Catalog   catalog.Catalog
	Inventory inventory.Inventory
	Holds     *holds.Manager
	Ledger    *ledger.Ledger
	Payments  *payments.Coordinator
	Tickets   *tickets.Issuer
	Notifier  Notifier
}

// Orchestrator keeps no per-attempt state; any number of them may run
// against the same stores.
type Orchestrator struct {
	catalog   catalog.Catalog
	inventory inventory.Inventory
	holds     *holds.Manager
	ledger    *ledger.Ledger
	payments  *payments.Coordinator
	tickets   *tickets.Issuer
	notifier  Notifier
	settings  Settings
	now       shared_models.Clock
}

func New(deps Deps, settings Settings, clock shared_models.Clock) *Orchestrator {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	if settings.PaymentRetryLimit < 1 {
		settings.PaymentRetryLimit = 1
	}
	if settings.MaxSeatsPerBooking <= 0 {
		settings.MaxSeatsPerBooking = config.DefaultMaxSeatsPerBooking
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.Currency == "" {
		settings.Currency = config.DefaultCurrency
	}
	return &Orchestrator{
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		holds:     deps.Holds,
		ledger:    deps.Ledger,
		payments:  deps.Payments,
		tickets:   deps.Tickets,
		notifier:  deps.Notifier,
		settings:  settings,
		now:       clock,
	}
}

// Request is a passenger's ask for seats on a trip. AttemptID is chosen by
// the client and makes the request idempotent.
type Request struct {
	AttemptID uuid.UUID              `json:"attempt_id"`
	TripID    uuid.UUID              `json:"trip_id"`
	SeatIDs   []string               `json:"seat_ids"`
	Contact   booking_models.Contact `json:"contact"`
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// compensationContext outlives the caller's cancellation so a step that
// timed out can still be undone.
func (o *Orchestrator) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(context.WithoutCancel(ctx), o.settings.LedgerTimeout+o.settings.HoldTimeout)
}

func (o *Orchestrator) validate(caller shared_models.Caller, req *Request) error {
	if caller.PassengerID == uuid.Nil {
		return shared_models.NewValidationError("caller", "passenger identity is required")
	}
	if req.AttemptID == uuid.Nil {
		return shared_models.NewValidationError("attempt_id", "attempt_id is required")
	}
	if req.TripID == uuid.Nil {
		return shared_models.NewValidationError("trip_id", "trip_id is required")
	}
	for _, id := range req.SeatIDs {
		if strings.TrimSpace(id) == "" {
			return shared_models.NewValidationError("seat_ids", "seat ids must not be blank")
		}
	}
	req.SeatIDs = seat_models.NormalizeSeatIDs(req.SeatIDs)
	if len(req.SeatIDs) == 0 {
		return shared_models.NewValidationError("seat_ids", "at least one seat is required")
	}
	if len(req.SeatIDs) > o.settings.MaxSeatsPerBooking {
		return shared_models.NewValidationError("seat_ids", "at most %d seats per booking", o.settings.MaxSeatsPerBooking)
	}

	if req.Contact.Name == "" {
		req.Contact.Name = caller.Name
	}
	if req.Contact.Email == "" {
		req.Contact.Email = caller.Email
	}
	if req.Contact.Phone == "" {
		req.Contact.Phone = caller.Phone
	}
	if req.Contact.Name == "" {
		return shared_models.NewValidationError("contact.name", "passenger name is required")
	}
	if req.Contact.Email == "" && req.Contact.Phone == "" {
		return shared_models.NewValidationError("contact", "an email or phone number is required")
	}
	return nil
}

// RequestBooking records the attempt and holds its seats. Replaying a request
// returns the stored attempt without reserving again; created is false then.
func (o *Orchestrator) RequestBooking(ctx context.Context, caller shared_models.Caller, req Request) (attempt *booking_models.BookingAttempt, created bool, err error) {
	if err := o.validate(caller, &req); err != nil {
		return nil, false, err
	}

	trip, err := o.catalog.GetTrip(ctx, req.TripID)
	if err != nil {
		return nil, false, err
	}
	amount, err := trip.Fare(req.SeatIDs)
	if err != nil {
		return nil, false, err
	}
	currency := trip.Currency
	if currency == "" {
		currency = o.settings.Currency
	}

	lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
	attempt, created, err = o.ledger.Create(lctx, &booking_models.BookingAttempt{
		ID:          req.AttemptID,
		PassengerID: caller.PassengerID,
		TripID:      req.TripID,
		SeatIDs:     req.SeatIDs,
		Contact:     req.Contact,
		TotalAmount: amount,
		Currency:    currency,
	})
	cancel()
	if err != nil {
		return nil, false, err
	}
	if !created && attempt.Status != booking_models.StatusRequested {
		logger.InfoLogger.Infof("Replayed booking request %s: already %s", attempt.ID, attempt.Status)
		return attempt, false, nil
	}

	attempt, err = o.holdSeats(ctx, attempt)
	return attempt, created, err
}

// holdSeats drives a Requested attempt to Held, or cancels it.
func (o *Orchestrator) holdSeats(ctx context.Context, attempt *booking_models.BookingAttempt) (*booking_models.BookingAttempt, error) {
	hctx, cancel := withTimeout(ctx, o.settings.HoldTimeout)
	hold, err := o.holds.Reserve(hctx, attempt.ID, attempt.TripID, attempt.SeatIDs)
	cancel()
	if err != nil {
		reason := shared_models.ReasonHoldFailed
		if errors.Is(err, shared_models.ErrSeatConflict) {
			reason = shared_models.ReasonSeatsTaken
		}
		logger.WarnLogger.Warnf("Hold for attempt %s failed: %v", attempt.ID, err)
		if _, cerr := o.abort(ctx, attempt, reason); cerr != nil {
			logger.ErrorLogger.Errorf("Failed to cancel attempt %s after hold failure: %v", attempt.ID, cerr)
		}
		return nil, err
	}

	lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
	held, err := o.ledger.Transition(lctx, attempt.ID, booking_models.Transition{
		From:          booking_models.StatusRequested,
		To:            booking_models.StatusHeld,
		HoldExpiresAt: &hold.ExpiresAt,
	})
	cancel()
	if err == nil {
		return held, nil
	}

	current, gerr := o.ledger.Get(ctx, attempt.ID)
	if gerr != nil {
		return nil, err
	}
	switch current.Status {
	case booking_models.StatusHeld, booking_models.StatusPendingPayment, booking_models.StatusConfirmed:
		// A concurrent replay of the same request won the transition.
		return current, nil
	case booking_models.StatusRequested:
		o.releaseHolds(ctx, attempt.ID)
		return nil, err
	default:
		o.releaseHolds(ctx, attempt.ID)
		return current, fmt.Errorf("attempt %s is %s: %w", attempt.ID, current.Status, shared_models.ErrInvalidTransition)
	}
}

// abort moves an open attempt to Cancelled and releases its seats.
func (o *Orchestrator) abort(ctx context.Context, attempt *booking_models.BookingAttempt, reason string) (*booking_models.BookingAttempt, error) {
	return o.close(ctx, attempt, booking_models.StatusCancelled, reason)
}

// close is the shared compensation: ledger first, then seats, then the
// passenger. It runs detached from the caller's cancellation.
func (o *Orchestrator) close(ctx context.Context, attempt *booking_models.BookingAttempt, to booking_models.Status, reason string) (*booking_models.BookingAttempt, error) {
	cctx, cancel := o.compensationContext(ctx)
	defer cancel()

	closed, err := o.ledger.Transition(cctx, attempt.ID, booking_models.Transition{From: attempt.Status, To: to, Reason: reason})
	if err != nil {
		return nil, err
	}
	o.releaseHolds(cctx, attempt.ID)
	if err := o.notifier.BookingClosed(cctx, closed); err != nil {
		logger.WarnLogger.Warnf("Failed to notify passenger about closed booking %s: %v", attempt.ID, err)
	}
	logger.InfoLogger.Infof("Booking attempt %s closed as %s (%s)", attempt.ID, to, reason)
	return closed, nil
}

func (o *Orchestrator) releaseHolds(ctx context.Context, attemptID uuid.UUID) {
	cctx, cancel := o.compensationContext(ctx)
	defer cancel()
	if err := o.holds.Cancel(cctx, attemptID); err != nil {
		// The sweep frees whatever is left once the hold lapses.
		logger.ErrorLogger.Errorf("Failed to release holds for attempt %s: %v", attemptID, err)
	}
}

// owned loads an attempt on behalf of caller. Attempts belonging to someone
// else are reported as not found.
func (o *Orchestrator) owned(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
	defer cancel()
	attempt, err := o.ledger.Get(lctx, id)
	if err != nil {
		return nil, err
	}
	if attempt.PassengerID != caller.PassengerID {
		logger.WarnLogger.Warnf("Passenger %s asked for attempt %s owned by someone else", caller.PassengerID, id)
		return nil, fmt.Errorf("booking attempt %s: %w", id, shared_models.ErrNotFound)
	}
	return attempt, nil
}

func (o *Orchestrator) GetBooking(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	return o.owned(ctx, caller, id)
}

// ListBookings returns the caller's attempts, newest first.
func (o *Orchestrator) ListBookings(ctx context.Context, caller shared_models.Caller, limit int) ([]*booking_models.BookingAttempt, error) {
	if limit <= 0 || limit > o.settings.BatchSize {
		limit = o.settings.BatchSize
	}
	return o.ledger.ListByPassenger(ctx, caller.PassengerID, limit)
}

// ExtendHold pushes an open attempt's hold out by another TTL.
func (o *Orchestrator) ExtendHold(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	attempt, err := o.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if attempt.Status != booking_models.StatusHeld && attempt.Status != booking_models.StatusPendingPayment {
		return nil, o.terminalError(attempt)
	}

	hctx, cancel := withTimeout(ctx, o.settings.HoldTimeout)
	hold, err := o.holds.Extend(hctx, attempt.ID)
	cancel()
	if err != nil {
		if errors.Is(err, shared_models.ErrHoldExpired) {
			o.expire(ctx, attempt)
		}
		return nil, err
	}

	lctx, cancel := withTimeout(ctx, o.settings.LedgerTimeout)
	defer cancel()
	return o.ledger.ExtendHold(lctx, attempt.ID, attempt.Status, hold.ExpiresAt)
}

// Cancel abandons the caller's attempt. A payment that already went through
// cannot be cancelled here; the booking is confirmed instead.
func (o *Orchestrator) Cancel(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*booking_models.BookingAttempt, error) {
	attempt, err := o.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	switch attempt.Status {
	case booking_models.StatusCancelled:
		return attempt, nil
	case booking_models.StatusConfirmed:
		return attempt, fmt.Errorf("attempt %s: %w", id, shared_models.ErrAlreadyPaid)
	case booking_models.StatusExpired:
		return nil, o.terminalError(attempt)
	}

	pctx, cancel := withTimeout(ctx, o.settings.PaymentTimeout)
	record, err := o.payments.Cancel(pctx, attempt.ID, shared_models.ReasonUserCancelled)
	cancel()
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == paymentVerified {
		logger.WarnLogger.Warnf("Cancel for attempt %s refused: payment %s already verified", id, record.ProviderPaymentID)
		confirmed, cerr := o.confirm(ctx, attempt)
		if cerr != nil {
			return confirmed, cerr
		}
		return confirmed, fmt.Errorf("attempt %s: %w", id, shared_models.ErrAlreadyPaid)
	}

	cancelled, err := o.abort(ctx, attempt, shared_models.ReasonUserCancelled)
	if err != nil {
		current, gerr := o.ledger.Get(ctx, id)
		if gerr == nil && current.Status == booking_models.StatusCancelled {
			return current, nil
		}
		return nil, err
	}
	return cancelled, nil
}

// GetTicket returns the ticket of the caller's confirmed booking.
func (o *Orchestrator) GetTicket(ctx context.Context, caller shared_models.Caller, id uuid.UUID) (*ticket_models.Ticket, error) {
	attempt, err := o.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if attempt.Status != booking_models.StatusConfirmed {
		return nil, fmt.Errorf("ticket for attempt %s (%s): %w", id, attempt.Status, shared_models.ErrNotFound)
	}
	ticket, err := o.tickets.Get(ctx, attempt.ID)
	if errors.Is(err, shared_models.ErrNotFound) {
		// Confirmed without a ticket means issuance failed after the
		// ledger write; issue it now.
		return o.issueTicket(ctx, attempt)
	}
	return ticket, err
}

// ValidateTicket checks a ticket at boarding. Only operators and admins may
// validate; the caller is recorded as the validator.
func (o *Orchestrator) ValidateTicket(ctx context.Context, caller shared_models.Caller, token string) (*ticket_models.Ticket, error) {
	if !caller.CanValidateTickets() {
		logger.WarnLogger.Warnf("Passenger %s (role %q) tried to validate a ticket", caller.PassengerID, caller.Role)
		return nil, fmt.Errorf("validate ticket: %w", shared_models.ErrForbidden)
	}
	return o.tickets.Validate(ctx, token, caller.PassengerID.String())
}

// SeatMap is a snapshot of a trip's seats.
func (o *Orchestrator) SeatMap(ctx context.Context, tripID uuid.UUID) (*trip_models.Trip, []seat_models.Seat, error) {
	trip, err := o.catalog.GetTrip(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}
	seats, err := o.inventory.TripSeats(ctx, tripID)
	if err != nil {
		return nil, nil, err
	}
	now := o.now()
	for i := range seats {
		if seats[i].State == seat_models.StateHeld && seats[i].HoldExpired(now) {
			seats[i].State = seat_models.StateAvailable
			seats[i].HolderID = uuid.Nil
			seats[i].HoldExpiresAt = time.Time{}
		}
	}
	return trip, seats, nil
}

// terminalError explains why a closed attempt cannot move.
func (o *Orchestrator) terminalError(attempt *booking_models.BookingAttempt) error {
	if attempt.Status == booking_models.StatusExpired {
		return fmt.Errorf("attempt %s: %w", attempt.ID, shared_models.ErrHoldExpired)
	}
	return &shared_models.InvalidTransitionError{From: string(attempt.Status), To: string(attempt.Status), Actual: string(attempt.Status)}
}
