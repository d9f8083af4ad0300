package workers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/services/booking"
	"github.com/redis/go-redis/v9"
)

const sweepLeaseKey = "gobus:hold_sweeper:lease"

// Saga is the part of the orchestrator the sweeper drives.
type Saga interface {
	SweepExpired(ctx context.Context) (*booking.SweepReport, error)
	Recover(ctx context.Context) (*booking.RecoveryReport, error)
}

// Lease elects one sweeper per interval across instances.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// RedisLease is a SET NX lease. It is never released early; it lapses with
// the interval so a crashed holder cannot block the next pass.
type RedisLease struct {
	Client *redis.Client
	Key    string
	Owner  string
}

func NewRedisLease(client *redis.Client) *RedisLease {
	host, _ := os.Hostname()
	return &RedisLease{
		Client: client,
		Key:    sweepLeaseKey,
		Owner:  fmt.Sprintf("%s:%s", host, uuid.NewString()),
	}
}

func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.Client.SetNX(ctx, l.Key, l.Owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweeper lease: %w", err)
	}
	return ok, nil
}

// localLease always grants; used when there is a single instance.
type localLease struct{}

func (localLease) Acquire(context.Context, time.Duration) (bool, error) { return true, nil }

// HoldSweeper periodically expires lapsed holds and re-drives attempts left
// behind by a crash.
type HoldSweeper struct {
	saga     Saga
	lease    Lease
	interval time.Duration
}

// NewHoldSweeper builds a sweeper. A nil lease means this instance always runs.
func NewHoldSweeper(saga Saga, lease Lease, interval time.Duration) *HoldSweeper {
	if lease == nil {
		lease = localLease{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HoldSweeper{saga: saga, lease: lease, interval: interval}
}

// Start runs a recovery pass immediately, then sweeps every interval until
// ctx is cancelled.
func (s *HoldSweeper) Start(ctx context.Context) {
	logger.InfoLogger.Infof("Hold sweeper started, interval %s", s.interval)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoLogger.Info("Hold sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and one recovery pass unless another instance
// holds the lease. When the lease store itself fails the pass runs anyway;
// every step is a compare-and-set, so concurrent passes only repeat work.
// It reports whether the pass ran.
func (s *HoldSweeper) RunOnce(ctx context.Context) bool {
	// Slightly shorter than the interval so the next tick can take it.
	ok, err := s.lease.Acquire(ctx, s.interval*9/10)
	if err != nil {
		logger.WarnLogger.Warnf("Sweeper lease unavailable, sweeping without it: %v", err)
	} else if !ok {
		return false
	}

	sweep, err := s.saga.SweepExpired(ctx)
	if err != nil {
		logger.ErrorLogger.Errorf("Sweep failed: %v", err)
	} else if sweep.Expired+sweep.Confirmed+sweep.ReleasedSeats > 0 {
		logger.InfoLogger.Infof("Sweep: %d expired, %d confirmed, %d orphaned seats released",
			sweep.Expired, sweep.Confirmed, sweep.ReleasedSeats)
	}

	rec, err := s.saga.Recover(ctx)
	if err != nil {
		logger.ErrorLogger.Errorf("Recovery failed: %v", err)
	} else if rec.Held+rec.Abandoned+rec.Confirmed+rec.Declined+rec.Ticketed > 0 {
		logger.InfoLogger.Infof("Recovery: %d held, %d abandoned, %d confirmed, %d declined, %d ticketed",
			rec.Held, rec.Abandoned, rec.Confirmed, rec.Declined, rec.Ticketed)
	}
	return true
}
