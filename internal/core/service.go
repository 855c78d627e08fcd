package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// UploadTimeout is the default bound on parsing and storing one upload.
var UploadTimeout = 5 * time.Minute

// ServiceOptions wires a Service. Store, Registry, Runner and Access are
// required.
type ServiceOptions struct {
	Store       Store
	Registry    *Registry
	Runner      *Runner
	Access      AccessChecker
	Limiter     *UploadLimiter
	Events      *EventBus
	Metrics     *Metrics
	Logger      *slog.Logger
	MaxFileSize int64
	PreviewRows int
	Timeout     time.Duration
}

// Service is the entry point the upload controller and CLI use.
type Service struct {
	store       Store
	registry    *Registry
	runner      *Runner
	access      AccessChecker
	limiter     *UploadLimiter
	events      *EventBus
	metrics     *Metrics
	logger      *slog.Logger
	maxFileSize int64
	previewRows int
	timeout     time.Duration
	now         func() time.Time
}

// NewService validates opts and fills defaults.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil || opts.Registry == nil || opts.Runner == nil || opts.Access == nil {
		return nil, errors.New("service needs a store, registry, runner and access checker")
	}
	if opts.Limiter == nil {
		opts.Limiter = NewUploadLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = DefaultPreviewRows
	}
	if opts.Timeout <= 0 {
		opts.Timeout = UploadTimeout
	}

	return &Service{
		store:       opts.Store,
		registry:    opts.Registry,
		runner:      opts.Runner,
		access:      opts.Access,
		limiter:     opts.Limiter,
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "service"),
		maxFileSize: opts.MaxFileSize,
		previewRows: opts.PreviewRows,
		timeout:     opts.Timeout,
		now:         time.Now,
	}, nil
}

// UploadRequest is one file posted to an importer.
type UploadRequest struct {
	Slug      string
	Initiator string
	Filename  string
	Body      io.Reader
}

// Upload validates a CSV and stores it as a new, idle record. Nothing is
// stored when validation fails.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (uuid.UUID, error) {
	imp, err := s.registry.resolve(req.Slug)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.access.CheckAccess(ctx, req.Initiator, imp); err != nil {
		s.metrics.upload(imp.Slug, "denied")
		return uuid.Nil, err
	}
	if req.Body == nil {
		return uuid.Nil, &ValidationError{Message: "no file provided"}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		s.metrics.upload(imp.Slug, "busy")
		return uuid.Nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	header, rows, err := ParseCSV(ctx, req.Body, s.maxFileSize)
	if err != nil {
		s.metrics.upload(imp.Slug, "rejected")
		s.logger.InfoContext(ctx, "upload rejected", append([]any{
			"importer", imp.Slug,
			"initiator", req.Initiator,
			"file", req.Filename,
			"error", err,
		}, clientAttrs(ctx)...)...)
		return uuid.Nil, err
	}

	if imp.BeforeSave != nil {
		header, rows, err = imp.BeforeSave.BeforeSave(ctx, header, rows)
		if err != nil {
			s.metrics.upload(imp.Slug, "rejected")
			s.logger.InfoContext(ctx, "upload rejected before save", append([]any{
				"importer", imp.Slug,
				"initiator", req.Initiator,
				"file", req.Filename,
				"error", err,
			}, clientAttrs(ctx)...)...)
			return uuid.Nil, err
		}
	}

	title := s.title(req.Filename)
	id, err := CreateRecord(ctx, s.store, NewRecord{
		Title:        title,
		ImporterSlug: imp.Slug,
		Author:       req.Initiator,
		Header:       header,
		Rows:         rows,
	})
	if err != nil {
		s.metrics.upload(imp.Slug, "failed")
		return uuid.Nil, err
	}
	s.metrics.upload(imp.Slug, "accepted")
	s.logger.InfoContext(ctx, "upload stored", append([]any{
		"record_id", id,
		"importer", imp.Slug,
		"initiator", req.Initiator,
		"rows", len(rows),
	}, clientAttrs(ctx)...)...)

	s.events.Emit(ctx, Event{
		Type:      EventUploaded,
		RecordID:  id,
		Importer:  imp.Slug,
		Initiator: req.Initiator,
		Title:     title,
		Total:     len(rows),
	})
	return id, nil
}

// title names a record after its file and upload time.
func (s *Service) title(filename string) string {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "upload.csv"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return fmt.Sprintf("%s - %d", name, s.now().Unix())
}

// Preview runs the importer's preview behavior for a stored record.
func (s *Service) Preview(ctx context.Context, id uuid.UUID, initiator string) (*Preview, error) {
	rec, imp, err := s.runner.loadAuthorized(ctx, id, initiator)
	if err != nil {
		return nil, err
	}
	p, err := imp.Preview.Preview(ctx, rec, imp, s.previewRows)
	if err != nil {
		return nil, errors.Wrapf(err, "preview record %s", id)
	}
	return p, nil
}

// Start begins importing a previewed record.
func (s *Service) Start(ctx context.Context, id uuid.UUID, initiator string) error {
	return s.runner.Start(ctx, id, initiator)
}

// Cancel discards a record and everything its importer cleans up.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, initiator, page string) error {
	return s.runner.Cancel(ctx, id, initiator, page)
}

// Tick runs one tick immediately, outside the scheduler.
func (s *Service) Tick(ctx context.Context, id uuid.UUID, initiator string) error {
	return s.runner.Tick(ctx, id, initiator)
}

// Status reports a record's progress.
func (s *Service) Status(ctx context.Context, id uuid.UUID, initiator string) (RecordSummary, error) {
	rec, _, err := s.runner.loadAuthorized(ctx, id, initiator)
	if err != nil {
		return RecordSummary{}, err
	}
	return RecordSummary{
		ID:           rec.ID,
		Title:        rec.Title,
		ImporterSlug: rec.ImporterSlug,
		Author:       rec.Author,
		RowCount:     len(rec.Rows),
		CurrentRow:   rec.Progress.CurrentRow,
		Running:      rec.Progress.Running,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
	}, nil
}

// Importer returns a registered importer the initiator may use.
func (s *Service) Importer(ctx context.Context, slug, initiator string) (*Importer, error) {
	imp, err := s.registry.resolve(slug)
	if err != nil {
		return nil, err
	}
	if err := s.access.CheckAccess(ctx, initiator, imp); err != nil {
		return nil, err
	}
	return imp, nil
}

// Importers lists the importers the initiator may use, in registration order.
func (s *Service) Importers(ctx context.Context, initiator string) []*Importer {
	var out []*Importer
	for _, imp := range s.registry.All() {
		if s.access.CheckAccess(ctx, initiator, imp) == nil {
			out = append(out, imp)
		}
	}
	return out
}

// Records lists stored records for importers the initiator may use.
func (s *Service) Records(ctx context.Context, initiator string, f ListFilter) ([]RecordSummary, error) {
	all, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return nil, storageError(err, "list records")
	}

	allowed := make(map[string]bool)
	for _, imp := range s.Importers(ctx, initiator) {
		allowed[imp.Slug] = true
	}

	out := make([]RecordSummary, 0, len(all))
	for _, r := range all {
		if allowed[r.ImporterSlug] {
			out = append(out, r)
		}
	}
	return out, nil
}

// UploadLimiterStatus returns the upload limiter state for monitoring.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight uploads finish or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
