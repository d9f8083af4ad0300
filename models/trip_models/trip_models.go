package trip_models

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

// Trip is one scheduled departure. Published trips are immutable apart from
// the state of their seats, which the inventory owns.
type Trip struct {
	ID          uuid.UUID    `json:"id"`
	BusName     string       `json:"bus_name"`
	BusNumber   string       `json:"bus_number"`
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	DepartureAt time.Time    `json:"departure_at"`
	ArrivalAt   time.Time    `json:"arrival_at"`
	Currency    string       `json:"currency"`
	Seats       []SeatLayout `json:"seats"`
}

// SeatLayout is the static part of a seat: where it is and what it costs.
type SeatLayout struct {
	SeatID string `json:"seat_id"`
	Row    int    `json:"row"`
	Column string `json:"column"`
	Fare   int64  `json:"fare"` // minor units
}

// Seat looks up a seat by id.
func (t *Trip) Seat(seatID string) (SeatLayout, bool) {
	for _, s := range t.Seats {
		if s.SeatID == seatID {
			return s, true
		}
	}
	return SeatLayout{}, false
}

// Fare sums the fares of seatIDs, failing on the first seat the trip does not have.
func (t *Trip) Fare(seatIDs []string) (int64, error) {
	var total int64
	for _, id := range seatIDs {
		s, ok := t.Seat(id)
		if !ok {
			return 0, shared_models.NewValidationError("seat_ids", "seat %s does not exist on trip %s", id, t.ID)
		}
		total += s.Fare
	}
	return total, nil
}

var seatColumns = []string{"A", "B", "C", "D", "E"}

// StandardLayout builds rows x perRow seats named "1A", "1B", ... at one fare.
func StandardLayout(rows, perRow int, fare int64) []SeatLayout {
	if perRow > len(seatColumns) {
		perRow = len(seatColumns)
	}
	seats := make([]SeatLayout, 0, rows*perRow)
	for r := 1; r <= rows; r++ {
		for c := 0; c < perRow; c++ {
			seats = append(seats, SeatLayout{
				SeatID: fmt.Sprintf("%d%s", r, seatColumns[c]),
				Row:    r,
				Column: seatColumns[c],
				Fare:   fare,
			})
		}
	}
	return seats
}

// GetTripByID loads a trip and its seat layout.
func GetTripByID(ctx context.Context, pool db.Querier, tripID uuid.UUID) (*Trip, error) {
	trip := &Trip{}
	query := `
		SELECT id, bus_name, bus_number, origin, destination, departure_at, arrival_at, currency
		FROM trips
		WHERE id = $1`

	err := pool.QueryRow(ctx, query, tripID).Scan(
		&trip.ID, &trip.BusName, &trip.BusNumber, &trip.Origin, &trip.Destination,
		&trip.DepartureAt, &trip.ArrivalAt, &trip.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trip %s: %w", tripID, shared_models.ErrNotFound)
		}
		logger.ErrorLogger.Errorf("Failed to fetch trip %s: %v", tripID, err)
		return nil, fmt.Errorf("database error fetching trip: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT seat_id, seat_row, seat_column, fare
		FROM trip_seats
		WHERE trip_id = $1
		ORDER BY seat_row, seat_column`, tripID)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to fetch seat layout for trip %s: %v", tripID, err)
		return nil, fmt.Errorf("database error fetching seat layout: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s SeatLayout
		if err := rows.Scan(&s.SeatID, &s.Row, &s.Column, &s.Fare); err != nil {
			return nil, fmt.Errorf("failed to scan seat layout: %w", err)
		}
		trip.Seats = append(trip.Seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seat layout: %w", err)
	}
	return trip, nil
}

// InsertTrip publishes a trip together with its seats, all available.
func InsertTrip(ctx context.Context, pool db.Pool, trip *Trip) error {
	logger.InfoLogger.Infof("Attempting to publish trip %s with %d seats", trip.ID, len(trip.Seats))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trips (id, bus_name, bus_number, origin, destination, departure_at, arrival_at, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		trip.ID, trip.BusName, trip.BusNumber, trip.Origin, trip.Destination,
		trip.DepartureAt, trip.ArrivalAt, trip.Currency,
	)
	if err != nil {
		logger.ErrorLogger.Errorf("Failed to insert trip %s: %v", trip.ID, err)
		return fmt.Errorf("failed to insert trip: %w", err)
	}

	batch := &pgx.Batch{}
	for _, s := range trip.Seats {
		batch.Queue(`
			INSERT INTO trip_seats (trip_id, seat_id, seat_row, seat_column, fare)
			VALUES ($1, $2, $3, $4, $5)`,
			trip.ID, s.SeatID, s.Row, s.Column, s.Fare)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		logger.ErrorLogger.Errorf("Failed to insert seats for trip %s: %v", trip.ID, err)
		return fmt.Errorf("failed to insert seats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trip: %w", err)
	}
	logger.InfoLogger.Infof("Trip %s published", trip.ID)
	return nil
}
