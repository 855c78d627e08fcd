package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// allowAll grants every subject every importer.
type allowAll struct{}

func (allowAll) CheckAccess(context.Context, string, *Importer) error { return nil }

// eventRecorder collects delivered events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// batchLog records the batches an importer received.
type batchLog struct {
	mu      sync.Mutex
	batches [][][]string
	fail    error
}

func (b *batchLog) ImportBatch(_ context.Context, rows [][]string, _ []string, _ *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	cp := make([][]string, len(rows))
	copy(cp, rows)
	b.batches = append(b.batches, cp)
	return nil
}

func (b *batchLog) received() [][][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store   *MemoryStore
	sched   *MemoryScheduler
	lease   *LocalLease
	events  *eventRecorder
	runner  *Runner
	service *Service
	reg     *Registry
}

type harnessOption func(*RunnerOptions)

func withAccess(a AccessChecker) harnessOption {
	return func(o *RunnerOptions) { o.Access = a }
}

func newHarness(t *testing.T, imps []Importer, opts ...harnessOption) *harness {
	t.Helper()

	reg, err := RegisterAll(ImporterSourceFunc(func() []Importer { return imps }))
	require.NoError(t, err)

	h := &harness{
		store:  NewMemoryStore(),
		sched:  NewMemoryScheduler(SchedulerOptions{Logger: discardLogger()}),
		lease:  NewLocalLease(),
		events: &eventRecorder{},
		reg:    reg,
	}
	logger := discardLogger()
	bus := NewEventBus(logger, h.events)

	ro := RunnerOptions{
		Store:     h.store,
		Registry:  reg,
		Scheduler: h.sched,
		Access:    allowAll{},
		Lease:     h.lease,
		Events:    bus,
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(&ro)
	}
	h.runner, err = NewRunner(ro)
	require.NoError(t, err)

	h.service, err = NewService(ServiceOptions{
		Store:    h.store,
		Registry: reg,
		Runner:   h.runner,
		Access:   ro.Access,
		Events:   bus,
		Logger:   logger,
	})
	require.NoError(t, err)
	return h
}

// seed stores an idle record for slug.
func (h *harness) seed(t *testing.T, slug string, header []string, rows ...[]string) uuid.UUID {
	t.Helper()
	id, err := CreateRecord(context.Background(), h.store, NewRecord{
		Title:        "seed.csv - 1",
		ImporterSlug: slug,
		Author:       "alice",
		Header:       header,
		Rows:         rows,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) load(t *testing.T, id uuid.UUID) *Record {
	t.Helper()
	rec, err := LoadRecord(context.Background(), h.store, id)
	require.NoError(t, err)
	return rec
}
