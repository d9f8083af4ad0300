// Package catalog looks up published trips.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/joy095/gobus/config/db"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/models/trip_models"
)

type Catalog interface {
	GetTrip(ctx context.Context, tripID uuid.UUID) (*trip_models.Trip, error)
}

type MemoryCatalog struct {
	mu    sync.RWMutex
	trips map[uuid.UUID]*trip_models.Trip
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{trips: make(map[uuid.UUID]*trip_models.Trip)}
}

func (c *MemoryCatalog) AddTrip(trip *trip_models.Trip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trips[trip.ID] = trip
}

func (c *MemoryCatalog) GetTrip(ctx context.Context, tripID uuid.UUID) (*trip_models.Trip, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trip, ok := c.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, shared_models.ErrNotFound)
	}
	return trip, nil
}

// PostgresCatalog reads trips and their seat layout from the trips tables.
type PostgresCatalog struct {
	DB db.Querier
}

func NewPostgresCatalog(q db.Querier) *PostgresCatalog {
	return &PostgresCatalog{DB: q}
}

func (c *PostgresCatalog) GetTrip(ctx context.Context, tripID uuid.UUID) (*trip_models.Trip, error) {
	return trip_models.GetTripByID(ctx, c.DB, tripID)
}
