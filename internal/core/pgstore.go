package core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	db "github.com/JonMunkholm/csvimport/internal/database"
)

// DefaultListLimit caps ListRecords when the filter sets no limit.
const DefaultListLimit = 200

// PgStore keeps records in Postgres. Rows live in import_records.content
// as JSONB; progress lives in import_progress so pointer updates never
// rewrite the bulk data.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InsertRecord(ctx context.Context, data RecordData) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := db.New(tx)
		if err := q.InsertImportRecord(ctx, db.InsertImportRecordParams{
			ID:           toPgUUID(data.ID),
			Kind:         data.Kind,
			Title:        data.Title,
			ImporterSlug: data.ImporterSlug,
			Author:       data.Author,
			Content:      data.Content,
			RowCount:     int32(data.RowCount),
		}); err != nil {
			return errors.Wrap(err, "insert import record")
		}
		if err := q.InsertImportProgress(ctx, toPgUUID(data.ID)); err != nil {
			return errors.Wrap(err, "insert import progress")
		}
		return nil
	})
}

func (s *PgStore) GetRecord(ctx context.Context, id uuid.UUID) (RecordData, error) {
	row, err := db.New(s.pool).GetImportRecord(ctx, db.GetImportRecordParams{
		ID:   toPgUUID(id),
		Kind: RecordKind,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecordData{}, ErrRecordNotFound
		}
		return RecordData{}, err
	}

	return RecordData{
		ID:           uuid.UUID(row.ID.Bytes),
		Kind:         row.Kind,
		Title:        row.Title,
		ImporterSlug: row.ImporterSlug,
		Author:       row.Author,
		Content:      row.Content,
		RowCount:     int(row.RowCount),
		Progress:     Progress{CurrentRow: int(row.CurrentRow), Running: row.Running},
		CreatedAt:    row.CreatedAt.Time,
		StartedAt:    fromPgTime(row.StartedAt),
	}, nil
}

func (s *PgStore) UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error {
	n, err := db.New(s.pool).UpdateImportProgress(ctx, db.UpdateImportProgressParams{
		RecordID:   toPgUUID(id),
		CurrentRow: int32(p.CurrentRow),
		Running:    p.Running,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PgStore) DeleteRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := db.New(s.pool).DeleteImportRecord(ctx, db.DeleteImportRecordParams{
		ID:   toPgUUID(id),
		Kind: RecordKind,
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PgStore) ListRecords(ctx context.Context, f ListFilter) ([]RecordSummary, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := db.New(s.pool).ListImportRecords(ctx, db.ListImportRecordsParams{
		Kind:         RecordKind,
		ImporterSlug: f.ImporterSlug,
		Limit:        int32(limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]RecordSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, RecordSummary{
			ID:           uuid.UUID(r.ID.Bytes),
			Title:        r.Title,
			ImporterSlug: r.ImporterSlug,
			Author:       r.Author,
			RowCount:     int(r.RowCount),
			CurrentRow:   int(r.CurrentRow),
			Running:      r.Running,
			CreatedAt:    r.CreatedAt.Time,
			StartedAt:    fromPgTime(r.StartedAt),
		})
	}
	return out, nil
}

func (s *PgStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return db.New(s.pool).PurgeStaleImportRecords(ctx, db.PurgeStaleImportRecordsParams{
		Kind:   RecordKind,
		Before: pgtype.Timestamptz{Time: cutoff, Valid: true},
	})
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
