package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seatRowColumns = []string{"trip_id", "seat_id", "state", "holder_id", "hold_expires_at"}

func TestPostgresTryHoldLocksThenUpdates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	inv := NewPostgresInventory(mock, clock.Now)
	tripID, holder := uuid.New(), uuid.New()
	epoch := time.Unix(0, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(tripID, []string{"1A", "1B"}).
		WillReturnRows(pgxmock.NewRows(seatRowColumns).
			AddRow(tripID, "1A", "available", uuid.Nil, epoch).
			AddRow(tripID, "1B", "available", uuid.Nil, epoch))
	mock.ExpectExec("UPDATE trip_seats").
		WithArgs(tripID, []string{"1A", "1B"}, holder, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	expiresAt, err := inv.TryHold(context.Background(), tripID, []string{"1B", "1A", "1A"}, holder, ttl)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(ttl), expiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTryHoldConflictRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	inv := NewPostgresInventory(mock, clock.Now)
	tripID := uuid.New()
	epoch := time.Unix(0, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(tripID, []string{"12A", "12B"}).
		WillReturnRows(pgxmock.NewRows(seatRowColumns).
			AddRow(tripID, "12A", "held", uuid.New(), clock.Now().Add(time.Minute)).
			AddRow(tripID, "12B", "available", uuid.Nil, epoch))
	mock.ExpectRollback()

	_, err = inv.TryHold(context.Background(), tripID, []string{"12A", "12B"}, uuid.New(), ttl)
	var conflict *shared_models.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"12A"}, conflict.SeatIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitRejectsExpiredHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	inv := NewPostgresInventory(mock, clock.Now)
	tripID, holder := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(tripID, []string{"3C"}).
		WillReturnRows(pgxmock.NewRows(seatRowColumns).
			AddRow(tripID, "3C", "held", holder, clock.Now().Add(-time.Second)))
	mock.ExpectRollback()

	err = inv.Commit(context.Background(), tripID, []string{"3C"}, holder)
	assert.ErrorIs(t, err, shared_models.ErrHoldExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReleaseIsSingleStatement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inv := NewPostgresInventory(mock, newTestClock().Now)
	tripID, holder := uuid.New(), uuid.New()

	mock.ExpectExec("SET state = 'available'").
		WithArgs(tripID, []string{"2A"}, holder, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, inv.Release(context.Background(), tripID, []string{"2A"}, holder))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSweepExpiredSkipsLockedRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	inv := NewPostgresInventory(mock, clock.Now)
	tripID, holder := uuid.New(), uuid.New()
	now := clock.Now()
	lapsed := now.Add(-time.Second)

	mock.ExpectQuery(`state = 'held' AND hold_expires_at <= \$1\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(seatRowColumns).
			AddRow(tripID, "6A", "held", holder, lapsed).
			AddRow(tripID, "6B", "held", holder, lapsed))

	swept, err := inv.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, swept, 2)
	assert.Equal(t, holder, swept[0].HolderID)
	assert.Equal(t, lapsed, swept[1].HoldExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
