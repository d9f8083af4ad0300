package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attemptRowColumns = []string{
	"id", "passenger_id", "trip_id", "seat_ids", "contact_name", "contact_email", "contact_phone",
	"total_amount", "currency", "status", "reason", "hold_expires_at", "created_at", "updated_at",
}

func attemptRow(a *booking_models.BookingAttempt, status booking_models.Status) []any {
	return []any{
		a.ID, a.PassengerID, a.TripID, a.SeatIDs, a.Contact.Name, a.Contact.Email, a.Contact.Phone,
		a.TotalAmount, a.Currency, string(status), "", (*time.Time)(nil), fixedNow, fixedNow,
	}
}

func TestPostgresCreateReplayReadsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := New(NewPostgresStore(mock), func() time.Time { return fixedNow })
	a := newAttempt()

	mock.ExpectExec("INSERT INTO booking_attempts").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM booking_attempts WHERE id").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(attemptRowColumns).AddRow(attemptRow(a, booking_models.StatusHeld)...))

	got, created, err := l.Create(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, booking_models.StatusHeld, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionLostCompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := New(NewPostgresStore(mock), func() time.Time { return fixedNow })
	a := newAttempt()

	mock.ExpectQuery("UPDATE booking_attempts").
		WithArgs(a.ID, "pending_payment", "confirmed", "", pgxmock.AnyArg(), fixedNow).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM booking_attempts WHERE id").
		WithArgs(a.ID).
		WillReturnRows(pgxmock.NewRows(attemptRowColumns).AddRow(attemptRow(a, booking_models.StatusExpired)...))

	_, err = l.Transition(context.Background(), a.ID, booking_models.Transition{
		From: booking_models.StatusPendingPayment,
		To:   booking_models.StatusConfirmed,
	})
	var invalid *shared_models.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "expired", invalid.Actual)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissingAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM booking_attempts WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, shared_models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListExpiringSelectsLapsedOpenAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := New(NewPostgresStore(mock), func() time.Time { return fixedNow })
	held, pending := newAttempt(), newAttempt()

	mock.ExpectQuery(`status IN \('held', 'pending_payment'\) AND hold_expires_at <= \$1\s+ORDER BY hold_expires_at\s+LIMIT \$2`).
		WithArgs(fixedNow, 50).
		WillReturnRows(pgxmock.NewRows(attemptRowColumns).
			AddRow(attemptRow(held, booking_models.StatusHeld)...).
			AddRow(attemptRow(pending, booking_models.StatusPendingPayment)...))

	got, err := l.ListExpiring(context.Background(), fixedNow, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, held.ID, got[0].ID)
	assert.Equal(t, booking_models.StatusPendingPayment, got[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
