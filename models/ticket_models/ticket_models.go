package ticket_models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/shared_models"
)

// TicketType versions the payload format scanners understand.
const TicketType = "gobus_v1"

// TicketIssuer is the iss claim of ticket tokens. Access tokens never carry it.
const TicketIssuer = "gobus"

// Payload is the immutable content of a ticket, derived from a Confirmed
// booking and its trip.
type Payload struct {
	Type           string    `json:"ticket_type"`
	TicketID       uuid.UUID `json:"ticket_id"`
	BookingID      uuid.UUID `json:"booking_id"`
	TripID         uuid.UUID `json:"trip_id"`
	BusName        string    `json:"bus_name"`
	BusNumber      string    `json:"bus_number"`
	Origin         string    `json:"source"`
	Destination    string    `json:"destination"`
	DepartureAt    time.Time `json:"departure_time"`
	Seats          []string  `json:"seats"`
	PassengerName  string    `json:"passenger_name"`
	PassengerPhone string    `json:"passenger_phone"`
	TotalAmount    int64     `json:"total_amount"`
	Currency       string    `json:"currency"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Ticket is a Payload plus its signed encoding. Token is what the QR code carries.
type Ticket struct {
	ID          uuid.UUID  `json:"id"`
	BookingID   uuid.UUID  `json:"booking_id"`
	Token       string     `json:"token"`
	Payload     Payload    `json:"payload"`
	IssuedAt    time.Time  `json:"issued_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ValidatedBy string     `json:"validated_by,omitempty"`
}

const ticketColumns = `id, booking_id, token, payload, issued_at, validated_at, validated_by`

func scanTicket(row pgx.Row) (*Ticket, error) {
	t := &Ticket{}
	if err := row.Scan(&t.ID, &t.BookingID, &t.Token, &t.Payload, &t.IssuedAt, &t.ValidatedAt, &t.ValidatedBy); err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTicket stores t unless the booking already has a ticket.
func InsertTicket(ctx context.Context, q db.Querier, t *Ticket) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO tickets (id, booking_id, token, payload, issued_at, validated_by)
		VALUES ($1, $2, $3, $4, $5, '')
		ON CONFLICT (booking_id) DO NOTHING`,
		t.ID, t.BookingID, t.Token, t.Payload, t.IssuedAt)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to insert ticket for booking %s: %v", t.BookingID, err)
		return false, fmt.Errorf("failed to insert ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func getTicket(ctx context.Context, q db.Querier, column string, id uuid.UUID) (*Ticket, error) {
	t, err := scanTicket(q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ticket for %s: %w", id, shared_models.ErrNotFound)
		}
		logger.ErrorLogger.Errorf("Failed to fetch ticket by %s %s: %v", column, id, err)
		return nil, fmt.Errorf("database error fetching ticket: %w", err)
	}
	return t, nil
}

func GetTicketByBookingID(ctx context.Context, q db.Querier, bookingID uuid.UUID) (*Ticket, error) {
	return getTicket(ctx, q, "booking_id", bookingID)
}

func GetTicketByID(ctx context.Context, q db.Querier, ticketID uuid.UUID) (*Ticket, error) {
	return getTicket(ctx, q, "id", ticketID)
}

// MarkTicketValidated records the first validation only. It reports false
// when the ticket had already been validated.
func MarkTicketValidated(ctx context.Context, q db.Querier, ticketID uuid.UUID, by string, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE tickets
		SET validated_at = $2, validated_by = $3
		WHERE id = $1 AND validated_at IS NULL`,
		ticketID, now, by)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to mark ticket %s validated: %v", ticketID, err)
		return false, fmt.Errorf("failed to validate ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
