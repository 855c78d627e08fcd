package core

// record.go implements the durable import record: the uploaded rows plus
// the progress pointer the batch runner moves forward.
//
// Every mutation is written through to the Store before it returns. A tick
// may be re-run by another process after a crash, so the pointer is never
// held only in memory.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// RecordKind tags rows in the record store that belong to this service.
const RecordKind = "csv-import"

// Progress is persisted separately from the bulk rows.
type Progress struct {
	CurrentRow int  `json:"current_row"`
	Running    bool `json:"running"`
}

// NewRecord is the input to CreateRecord.
type NewRecord struct {
	Title        string     `validate:"required,max=255"`
	ImporterSlug string     `validate:"required,slug"`
	Author       string     `validate:"max=255"`
	Header       []string   `validate:"required,min=1"`
	Rows         [][]string `validate:"-"`
}

// Record is one uploaded CSV job.
type Record struct {
	ID           uuid.UUID
	Title        string
	ImporterSlug string
	Author       string
	Header       []string
	Rows         [][]string
	Progress     Progress
	CreatedAt    time.Time
	StartedAt    *time.Time

	store Store
}

// CreateRecord validates and persists a new record with a reset pointer.
func CreateRecord(ctx context.Context, store Store, nr NewRecord) (uuid.UUID, error) {
	if err := validateStruct("record", nr); err != nil {
		return uuid.Nil, err
	}

	content, err := EncodeContent(nr.Header, nr.Rows)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "encode record content")
	}

	id := uuid.New()
	data := RecordData{
		ID:           id,
		Kind:         RecordKind,
		Title:        nr.Title,
		ImporterSlug: nr.ImporterSlug,
		Author:       nr.Author,
		Content:      content,
		RowCount:     len(nr.Rows),
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.InsertRecord(ctx, data); err != nil {
		return uuid.Nil, storageError(err, "create record %s", id)
	}
	return id, nil
}

// LoadRecord reads a record back from the store. It returns
// ErrRecordNotFound when nothing of the import kind exists at id.
func LoadRecord(ctx context.Context, store Store, id uuid.UUID) (*Record, error) {
	data, err := store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrRecordNotFound, "record %s", id)
		}
		return nil, storageError(err, "load record %s", id)
	}
	if data.Kind != RecordKind {
		return nil, errors.Wrapf(ErrRecordNotFound, "record %s has kind %q", id, data.Kind)
	}

	header, rows, err := DecodeContent(data.Content)
	if err != nil {
		return nil, storageError(err, "decode record %s", id)
	}

	return &Record{
		ID:           data.ID,
		Title:        data.Title,
		ImporterSlug: data.ImporterSlug,
		Author:       data.Author,
		Header:       header,
		Rows:         rows,
		Progress:     data.Progress,
		CreatedAt:    data.CreatedAt,
		StartedAt:    data.StartedAt,
		store:        store,
	}, nil
}

// NextBatch returns up to size rows starting at the pointer. It does not
// move the pointer.
func (r *Record) NextBatch(size int) [][]string {
	start := r.Progress.CurrentRow
	if size <= 0 || start >= len(r.Rows) {
		return nil
	}
	end := start + size
	if end > len(r.Rows) {
		end = len(r.Rows)
	}
	return r.Rows[start:end]
}

// HasMoreRows is true only while running with rows left to hand out.
func (r *Record) HasMoreRows() bool {
	return r.Progress.Running && r.Progress.CurrentRow < len(r.Rows)
}

// Remaining is the number of rows past the pointer.
func (r *Record) Remaining() int {
	return len(r.Rows) - r.Progress.CurrentRow
}

// Advance moves the pointer forward by n rows, clamped to the row count,
// and persists it.
func (r *Record) Advance(ctx context.Context, n int) error {
	if n < 0 {
		return errors.Newf("advance by negative count %d", n)
	}
	next := r.Progress.CurrentRow + n
	if next > len(r.Rows) {
		next = len(r.Rows)
	}
	return r.save(ctx, Progress{CurrentRow: next, Running: r.Progress.Running})
}

// Start resets the pointer and marks the record running.
func (r *Record) Start(ctx context.Context) error {
	return r.save(ctx, Progress{CurrentRow: 0, Running: true})
}

// End resets the pointer and clears the running flag.
func (r *Record) End(ctx context.Context) error {
	return r.save(ctx, Progress{CurrentRow: 0, Running: false})
}

// Delete removes the record and its rows. A second call returns false.
func (r *Record) Delete(ctx context.Context) (bool, error) {
	deleted, err := r.store.DeleteRecord(ctx, r.ID)
	if err != nil {
		return false, storageError(err, "delete record %s", r.ID)
	}
	return deleted, nil
}

// save persists p and only then applies it to the in-memory copy.
func (r *Record) save(ctx context.Context, p Progress) error {
	if err := r.store.UpdateProgress(ctx, r.ID, p); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return errors.Wrapf(ErrRecordNotFound, "record %s", r.ID)
		}
		return storageError(err, "save progress for record %s", r.ID)
	}
	if p.Running && r.StartedAt == nil {
		now := time.Now().UTC()
		r.StartedAt = &now
	}
	r.Progress = p
	return nil
}

// EncodeContent stores header and rows as one JSON array of arrays with
// the header at index 0.
func EncodeContent(header []string, rows [][]string) ([]byte, error) {
	all := make([][]string, 0, len(rows)+1)
	all = append(all, header)
	all = append(all, rows...)
	return json.Marshal(all)
}

// DecodeContent is the inverse of EncodeContent.
func DecodeContent(content []byte) ([]string, [][]string, error) {
	var all [][]string
	if err := json.Unmarshal(content, &all); err != nil {
		return nil, nil, errors.Wrap(err, "decode content")
	}
	if len(all) == 0 {
		return nil, nil, errors.New("content has no header row")
	}
	return all[0], all[1:], nil
}
