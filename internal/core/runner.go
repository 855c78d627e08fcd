package core

// runner.go is the batch import state machine.
//
//	IDLE --Start--> RUNNING --tick...--> COMPLETE (record deleted)
//	                   |
//	                   +--Cancel--> CANCELLED (record deleted)
//
// Each tick reloads the record, hands one batch to the importer, persists
// the new pointer and then either schedules the next tick or completes.
// The pointer only moves after the import behavior returns without error,
// so a failed batch is handed over again on the next tick: delivery is
// at-least-once.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// DefaultBatchSize is the rows per tick when nothing overrides it.
const DefaultBatchSize = 100

// DefaultLeaseTTL bounds how long one tick may hold a record.
const DefaultLeaseTTL = 15 * time.Minute

// SizeFunc picks the batch size for an importer slug.
type SizeFunc func(slug string) int

// BatchSizer resolves batch sizes once per slug and caches them for the
// life of the process.
type BatchSizer struct {
	fn SizeFunc

	mu    sync.Mutex
	cache map[string]int
}

// NewBatchSizer wraps fn. A nil fn always yields DefaultBatchSize.
func NewBatchSizer(fn SizeFunc) *BatchSizer {
	return &BatchSizer{fn: fn, cache: make(map[string]int)}
}

// Size returns the cached batch size for slug.
func (b *BatchSizer) Size(slug string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.cache[slug]; ok {
		return n
	}
	n := DefaultBatchSize
	if b.fn != nil {
		if v := b.fn(slug); v > 0 {
			n = v
		}
	}
	b.cache[slug] = n
	return n
}

// RegistrySizeFunc uses each importer's BatchSize, falling back to
// fallback for importers that set none.
func RegistrySizeFunc(reg *Registry, fallback int) SizeFunc {
	return func(slug string) int {
		if imp, ok := reg.Get(slug); ok && imp.BatchSize > 0 {
			return imp.BatchSize
		}
		return fallback
	}
}

// RunnerOptions wires a Runner. Store, Registry, Scheduler and Access are
// required.
type RunnerOptions struct {
	Store     Store
	Registry  *Registry
	Scheduler Scheduler
	Access    AccessChecker
	Lease     Lease
	LeaseTTL  time.Duration
	Sizer     *BatchSizer
	Events    *EventBus
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Runner drives records through their batches.
type Runner struct {
	store     Store
	registry  *Registry
	scheduler Scheduler
	access    AccessChecker
	lease     Lease
	leaseTTL  time.Duration
	sizer     *BatchSizer
	events    *EventBus
	metrics   *Metrics
	logger    *slog.Logger
}

// NewRunner validates opts and fills defaults.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Store == nil || opts.Registry == nil || opts.Scheduler == nil || opts.Access == nil {
		return nil, errors.New("runner needs a store, registry, scheduler and access checker")
	}
	if opts.Lease == nil {
		opts.Lease = NewLocalLease()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Sizer == nil {
		opts.Sizer = NewBatchSizer(RegistrySizeFunc(opts.Registry, DefaultBatchSize))
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		store:     opts.Store,
		registry:  opts.Registry,
		scheduler: opts.Scheduler,
		access:    opts.Access,
		lease:     opts.Lease,
		leaseTTL:  opts.LeaseTTL,
		sizer:     opts.Sizer,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "runner"),
	}, nil
}

// Start moves an uploaded record to RUNNING and schedules its first tick.
func (r *Runner) Start(ctx context.Context, id uuid.UUID, initiator string) error {
	rec, imp, err := r.loadAuthorized(ctx, id, initiator)
	if err != nil {
		return err
	}

	if err := rec.Start(ctx); err != nil {
		return err
	}
	if err := r.scheduler.Schedule(ctx, rec.ID, initiator); err != nil {
		return err
	}

	if imp.Inert() {
		r.logger.WarnContext(ctx, "started record for importer without import behavior",
			"record_id", rec.ID,
			"importer", imp.Slug,
		)
	}
	r.events.Emit(ctx, r.event(EventStarted, rec, initiator))
	return nil
}

// Tick runs one step of the state machine for a record.
//
// Missing records and importers, denied access and storage failures abort
// the step without rescheduling. Import behavior failures are returned as
// *ImportBehaviorError and leave the pointer where it was.
func (r *Runner) Tick(ctx context.Context, id uuid.UUID, initiator string) error {
	logger := r.logger.With("record_id", id, "initiator", initiator)

	release, ok, err := r.lease.Acquire(ctx, id, r.leaseTTL)
	if err != nil {
		logger.ErrorContext(ctx, "tick aborted: lease unavailable", "error", err)
		r.metrics.tick("", OutcomeStoreError)
		return err
	}
	if !ok {
		logger.InfoContext(ctx, "tick skipped: another tick holds the record")
		r.metrics.tick("", OutcomeBusy)
		return errors.Wrapf(ErrTickInProgress, "record %s", id)
	}
	defer release()

	rec, err := LoadRecord(ctx, r.store, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			logger.InfoContext(ctx, "tick aborted: record not found")
			r.metrics.tick("", OutcomeNotFound)
		} else {
			logger.ErrorContext(ctx, "tick aborted: load failed", "error", err)
			r.metrics.tick("", OutcomeStoreError)
		}
		return err
	}
	logger = logger.With("importer", rec.ImporterSlug)

	imp, err := r.registry.resolve(rec.ImporterSlug)
	if err != nil {
		logger.ErrorContext(ctx, "tick aborted: importer not registered")
		r.metrics.tick(rec.ImporterSlug, OutcomeNoImporter)
		return err
	}
	if err := r.access.CheckAccess(ctx, initiator, imp); err != nil {
		logger.WarnContext(ctx, "tick aborted: initiator not authorized", "error", err)
		r.metrics.tick(imp.Slug, OutcomeDenied)
		return err
	}

	if !rec.HasMoreRows() {
		return r.complete(ctx, rec, initiator, logger)
	}

	if imp.Inert() {
		logger.WarnContext(ctx, "tick skipped: importer has no import behavior")
		r.metrics.tick(imp.Slug, OutcomeInert)
		return errors.Wrapf(ErrNoImportBehavior, "importer %q", imp.Slug)
	}

	size := r.sizer.Size(imp.Slug)
	offset := rec.Progress.CurrentRow
	batch := rec.NextBatch(size)

	began := time.Now()
	if err := imp.Import.ImportBatch(ctx, batch, rec.Header, rec); err != nil {
		logger.ErrorContext(ctx, "import behavior failed", "offset", offset, "rows", len(batch), "error", err)
		r.metrics.tick(imp.Slug, OutcomeImportError)
		return &ImportBehaviorError{Importer: imp.Slug, RecordID: rec.ID, Offset: offset, Err: err}
	}
	r.metrics.batch(imp.Slug, len(batch), time.Since(began))

	if err := rec.Advance(ctx, size); err != nil {
		logger.ErrorContext(ctx, "tick aborted: pointer not saved", "offset", offset, "error", err)
		r.metrics.tick(imp.Slug, OutcomeStoreError)
		return err
	}

	ev := r.event(EventBatch, rec, initiator)
	ev.Offset, ev.Rows = offset, len(batch)
	r.events.Emit(ctx, ev)

	if !rec.HasMoreRows() {
		return r.complete(ctx, rec, initiator, logger)
	}

	if err := r.scheduler.Schedule(ctx, rec.ID, initiator); err != nil {
		logger.ErrorContext(ctx, "next tick not scheduled", "current_row", rec.Progress.CurrentRow, "error", err)
		r.metrics.tick(imp.Slug, OutcomeStoreError)
		return err
	}

	logger.DebugContext(ctx, "batch imported",
		"offset", offset,
		"rows", len(batch),
		"current_row", rec.Progress.CurrentRow,
		"total", len(rec.Rows),
	)
	r.metrics.tick(imp.Slug, OutcomeAdvanced)
	return nil
}

// complete ends the run, notifies observers and deletes the record.
func (r *Runner) complete(ctx context.Context, rec *Record, initiator string, logger *slog.Logger) error {
	if err := rec.End(ctx); err != nil {
		logger.ErrorContext(ctx, "completion not saved", "error", err)
		r.metrics.tick(rec.ImporterSlug, OutcomeStoreError)
		return err
	}

	r.events.Emit(ctx, r.event(EventComplete, rec, initiator))

	if _, err := rec.Delete(ctx); err != nil {
		logger.ErrorContext(ctx, "completed record not deleted", "error", err)
		r.metrics.tick(rec.ImporterSlug, OutcomeStoreError)
		return err
	}

	logger.InfoContext(ctx, "import complete", "rows", len(rec.Rows))
	r.metrics.tick(rec.ImporterSlug, OutcomeCompleted)
	return nil
}

// Cancel runs the importer's cancel behavior and deletes the record
// whatever state it is in. A tick already past its load finishes its
// batch; the next one finds nothing.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID, initiator, page string) error {
	rec, imp, err := r.loadAuthorized(ctx, id, initiator)
	if err != nil {
		return err
	}
	logger := r.logger.With(append([]any{"record_id", rec.ID, "importer", imp.Slug, "initiator", initiator}, clientAttrs(ctx)...)...)

	if imp.Cancel != nil {
		if err := imp.Cancel.CancelImport(ctx, rec, page); err != nil {
			logger.WarnContext(ctx, "cancel behavior failed", "error", err)
		}
	}

	if err := r.scheduler.Unschedule(ctx, rec.ID, initiator); err != nil {
		logger.WarnContext(ctx, "pending tick not unscheduled", "error", err)
	}

	if _, err := rec.Delete(ctx); err != nil {
		return err
	}

	ev := r.event(EventCancel, rec, initiator)
	ev.Page = page
	r.events.Emit(ctx, ev)

	logger.InfoContext(ctx, "import cancelled", "current_row", rec.Progress.CurrentRow)
	return nil
}

// loadAuthorized loads a record, resolves its importer and checks the
// initiator may use it.
func (r *Runner) loadAuthorized(ctx context.Context, id uuid.UUID, initiator string) (*Record, *Importer, error) {
	rec, err := LoadRecord(ctx, r.store, id)
	if err != nil {
		return nil, nil, err
	}
	imp, err := r.registry.resolve(rec.ImporterSlug)
	if err != nil {
		return nil, nil, err
	}
	if err := r.access.CheckAccess(ctx, initiator, imp); err != nil {
		return nil, nil, err
	}
	return rec, imp, nil
}

func (r *Runner) event(t EventType, rec *Record, initiator string) Event {
	return Event{
		Type:      t,
		RecordID:  rec.ID,
		Importer:  rec.ImporterSlug,
		Initiator: initiator,
		Title:     rec.Title,
		Total:     len(rec.Rows),
	}
}
