// Package tickets issues and validates signed tickets for confirmed bookings.
package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/models/trip_models"
)

// TicketClaims is the JWT body of a ticket token.
type TicketClaims struct {
	Ticket ticket_models.Payload `json:"tkt"`
	jwt.RegisteredClaims
}

type Issuer struct {
	store  Store
	secret []byte
	now    shared_models.Clock
}

func NewIssuer(store Store, secret string, clock shared_models.Clock) *Issuer {
	if clock == nil {
		clock = shared_models.SystemClock
	}
	return &Issuer{store: store, secret: []byte(secret), now: clock}
}

// Issue returns the booking's ticket, creating it on first call. created is
// true only for the call that stored it.
func (i *Issuer) Issue(ctx context.Context, attempt *booking_models.BookingAttempt, trip *trip_models.Trip) (ticket *ticket_models.Ticket, created bool, err error) {
	if attempt.Status != booking_models.StatusConfirmed {
		return nil, false, &shared_models.InvalidTransitionError{
			From: string(attempt.Status), To: "ticketed", Actual: string(attempt.Status),
		}
	}

	existing, err := i.store.GetByBooking(ctx, attempt.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared_models.ErrNotFound) {
		return nil, false, err
	}

	ticketID, err := shared_models.GenerateUUIDv7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate ticket id: %w", err)
	}
	now := i.now()
	payload := ticket_models.Payload{
		Type:           ticket_models.TicketType,
		TicketID:       ticketID,
		BookingID:      attempt.ID,
		TripID:         trip.ID,
		BusName:        trip.BusName,
		BusNumber:      trip.BusNumber,
		Origin:         trip.Origin,
		Destination:    trip.Destination,
		DepartureAt:    trip.DepartureAt,
		Seats:          attempt.SeatIDs,
		PassengerName:  attempt.Contact.Name,
		PassengerPhone: attempt.Contact.Phone,
		TotalAmount:    attempt.TotalAmount,
		Currency:       attempt.Currency,
		IssuedAt:       now,
	}

	token, err := i.sign(payload)
	if err != nil {
		return nil, false, err
	}

	ticket = &ticket_models.Ticket{
		ID:        ticketID,
		BookingID: attempt.ID,
		Token:     token,
		Payload:   payload,
		IssuedAt:  now,
	}
	inserted, err := i.store.Insert(ctx, ticket)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		stored, err := i.store.GetByBooking(ctx, attempt.ID)
		return stored, false, err
	}

	logger.InfoLogger.Infof("Issued ticket %s for booking %s", ticketID, attempt.ID)
	return ticket, true, nil
}

func (i *Issuer) sign(payload ticket_models.Payload) (string, error) {
	claims := TicketClaims{
		Ticket: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       payload.TicketID.String(),
			Subject:  payload.BookingID.String(),
			Issuer:   ticket_models.TicketIssuer,
			IssuedAt: jwt.NewNumericDate(payload.IssuedAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to sign ticket %s: %v", payload.TicketID, err)
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return token, nil
}

// Get returns the ticket for a booking.
func (i *Issuer) Get(ctx context.Context, bookingID uuid.UUID) (*ticket_models.Ticket, error) {
	return i.store.GetByBooking(ctx, bookingID)
}

// Parse verifies a token's signature and returns its payload.
func (i *Issuer) Parse(token string) (*ticket_models.Payload, error) {
	claims := &TicketClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(ticket_models.TicketIssuer))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", shared_models.ErrInvalidTicket, err)
	}
	if claims.Ticket.Type != ticket_models.TicketType {
		return nil, fmt.Errorf("%w: unsupported ticket type %q", shared_models.ErrInvalidTicket, claims.Ticket.Type)
	}
	return &claims.Ticket, nil
}

// Validate admits a ticket at boarding. Each ticket validates once.
func (i *Issuer) Validate(ctx context.Context, token, validatedBy string) (*ticket_models.Ticket, error) {
	payload, err := i.Parse(token)
	if err != nil {
		logger.WarnLogger.Warnf("Rejected ticket token: %v", err)
		return nil, err
	}

	ticket, err := i.store.GetByID(ctx, payload.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Token != token {
		return nil, fmt.Errorf("%w: token does not match issued ticket", shared_models.ErrInvalidTicket)
	}

	ok, err := i.store.MarkValidated(ctx, ticket.ID, validatedBy, i.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticket.ID, shared_models.ErrTicketUsed)
	}

	logger.InfoLogger.Infof("Ticket %s validated by %s", ticket.ID, validatedBy)
	return i.store.GetByID(ctx, ticket.ID)
}
