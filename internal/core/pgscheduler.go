package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	db "github.com/JonMunkholm/csvimport/internal/database"
)

// PgScheduler keeps pending ticks in the import_schedule table so any
// worker process can pick them up.
//
// Claiming does not delete a row; it stamps it with a claim token and a
// visibility deadline. The row is removed once the tick returns. If the
// worker dies mid-tick the claim expires and another worker re-runs it.
type PgScheduler struct {
	pool       *pgxpool.Pool
	delay      time.Duration
	interval   time.Duration
	workers    int
	claimLimit int
	visibility time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

// NewPgScheduler returns a scheduler backed by pool.
func NewPgScheduler(pool *pgxpool.Pool, opts SchedulerOptions) *PgScheduler {
	opts = opts.withDefaults()
	return &PgScheduler{
		pool:       pool,
		delay:      opts.Delay,
		interval:   opts.PollInterval,
		workers:    opts.Workers,
		claimLimit: opts.ClaimLimit,
		visibility: opts.Visibility,
		logger:     opts.Logger.With("component", "scheduler"),
		metrics:    opts.Metrics,
	}
}

func (s *PgScheduler) Schedule(ctx context.Context, id uuid.UUID, initiator string) error {
	n, err := db.New(s.pool).InsertSchedule(ctx, db.InsertScheduleParams{
		RecordID:  toPgUUID(id),
		Initiator: initiator,
		RunAt:     pgtype.Timestamptz{Time: time.Now().Add(s.delay), Valid: true},
	})
	if err != nil {
		return storageError(err, "schedule tick for record %s", id)
	}
	if n == 0 {
		s.metrics.schedule("dedup")
	} else {
		s.metrics.schedule("schedule")
	}
	return nil
}

func (s *PgScheduler) Unschedule(ctx context.Context, id uuid.UUID, initiator string) error {
	n, err := db.New(s.pool).DeleteSchedule(ctx, db.DeleteScheduleParams{
		RecordID:  toPgUUID(id),
		Initiator: initiator,
	})
	if err != nil {
		return storageError(err, "unschedule tick for record %s", id)
	}
	if n > 0 {
		s.metrics.schedule("unschedule")
	}
	return nil
}

// Claim stamps up to the claim limit of due ticks with a fresh token.
func (s *PgScheduler) Claim(ctx context.Context) ([]DueTick, error) {
	return s.claimUpTo(ctx, s.claimLimit)
}

// claimUpTo claims at most limit ticks, never more than the claim limit.
// Rows left unclaimed stay visible to other workers.
func (s *PgScheduler) claimUpTo(ctx context.Context, limit int) ([]DueTick, error) {
	if limit > s.claimLimit {
		limit = s.claimLimit
	}
	token := uuid.New()
	rows, err := db.New(s.pool).ClaimDueSchedules(ctx, db.ClaimDueSchedulesParams{
		Limit:             int32(limit),
		VisibilitySeconds: s.visibility.Seconds(),
		ClaimToken:        toPgUUID(token),
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim due ticks")
	}

	due := make([]DueTick, 0, len(rows))
	for _, r := range rows {
		due = append(due, DueTick{
			RecordID:   uuid.UUID(r.RecordID.Bytes),
			Initiator:  r.Initiator,
			claimToken: token,
		})
	}
	return due, nil
}

// complete removes a claimed row. A successor scheduled during the tick
// has already replaced the claim, so this deletes nothing in that case.
func (s *PgScheduler) complete(ctx context.Context, t DueTick) {
	// The poll context may be cancelled by shutdown; finish the delete anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := db.New(s.pool).CompleteSchedule(ctx, db.CompleteScheduleParams{
		RecordID:   toPgUUID(t.RecordID),
		Initiator:  t.Initiator,
		ClaimToken: toPgUUID(t.claimToken),
	}); err != nil {
		s.logger.Error("complete claimed tick failed",
			"record_id", t.RecordID,
			"initiator", t.Initiator,
			"error", err,
		)
	}
}

// PendingCount returns the number of unclaimed ticks.
func (s *PgScheduler) PendingCount(ctx context.Context) (int64, error) {
	return db.New(s.pool).CountPendingSchedules(ctx)
}

// Run dispatches due ticks to tick until ctx is cancelled.
func (s *PgScheduler) Run(ctx context.Context, tick TickFunc) {
	poll(ctx, pollConfig{
		interval: s.interval,
		workers:  s.workers,
		logger:   s.logger,
		claim:    s.claimUpTo,
		tick:     tick,
		done:     s.complete,
	})
}
