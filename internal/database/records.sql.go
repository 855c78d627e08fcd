package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertImportRecord = `
INSERT INTO import_records (id, kind, title, importer_slug, author, content, row_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

type InsertImportRecordParams struct {
	ID           pgtype.UUID
	Kind         string
	Title        string
	ImporterSlug string
	Author       string
	Content      []byte
	RowCount     int32
}

func (q *Queries) InsertImportRecord(ctx context.Context, arg InsertImportRecordParams) error {
	_, err := q.db.Exec(ctx, insertImportRecord,
		arg.ID,
		arg.Kind,
		arg.Title,
		arg.ImporterSlug,
		arg.Author,
		arg.Content,
		arg.RowCount,
	)
	return err
}

const insertImportProgress = `
INSERT INTO import_progress (record_id, current_row, running)
VALUES ($1, 0, false)
`

func (q *Queries) InsertImportProgress(ctx context.Context, recordID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, insertImportProgress, recordID)
	return err
}

const getImportRecord = `
SELECT r.id, r.kind, r.title, r.importer_slug, r.author, r.content, r.row_count, r.created_at,
       COALESCE(p.current_row, 0), COALESCE(p.running, false), p.started_at, COALESCE(p.updated_at, r.created_at)
FROM import_records r
LEFT JOIN import_progress p ON p.record_id = r.id
WHERE r.id = $1 AND r.kind = $2
`

type GetImportRecordParams struct {
	ID   pgtype.UUID
	Kind string
}

func (q *Queries) GetImportRecord(ctx context.Context, arg GetImportRecordParams) (ImportRecord, error) {
	row := q.db.QueryRow(ctx, getImportRecord, arg.ID, arg.Kind)
	var i ImportRecord
	err := row.Scan(
		&i.ID,
		&i.Kind,
		&i.Title,
		&i.ImporterSlug,
		&i.Author,
		&i.Content,
		&i.RowCount,
		&i.CreatedAt,
		&i.CurrentRow,
		&i.Running,
		&i.StartedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateImportProgress = `
UPDATE import_progress
SET current_row = $2,
    running = $3,
    started_at = CASE WHEN $3 THEN COALESCE(started_at, now()) ELSE started_at END,
    updated_at = now()
WHERE record_id = $1
`

type UpdateImportProgressParams struct {
	RecordID   pgtype.UUID
	CurrentRow int32
	Running    bool
}

func (q *Queries) UpdateImportProgress(ctx context.Context, arg UpdateImportProgressParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateImportProgress, arg.RecordID, arg.CurrentRow, arg.Running)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteImportRecord = `
DELETE FROM import_records WHERE id = $1 AND kind = $2
`

type DeleteImportRecordParams struct {
	ID   pgtype.UUID
	Kind string
}

// DeleteImportRecord removes a record; progress rows cascade.
func (q *Queries) DeleteImportRecord(ctx context.Context, arg DeleteImportRecordParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteImportRecord, arg.ID, arg.Kind)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listImportRecords = `
SELECT r.id, r.title, r.importer_slug, r.author, r.row_count, r.created_at,
       COALESCE(p.current_row, 0), COALESCE(p.running, false), p.started_at
FROM import_records r
LEFT JOIN import_progress p ON p.record_id = r.id
WHERE r.kind = $1 AND ($2::text = '' OR r.importer_slug = $2::text)
ORDER BY r.created_at DESC
LIMIT $3
`

type ListImportRecordsParams struct {
	Kind         string
	ImporterSlug string
	Limit        int32
}

func (q *Queries) ListImportRecords(ctx context.Context, arg ListImportRecordsParams) ([]ImportRecordSummary, error) {
	rows, err := q.db.Query(ctx, listImportRecords, arg.Kind, arg.ImporterSlug, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ImportRecordSummary
	for rows.Next() {
		var i ImportRecordSummary
		if err := rows.Scan(
			&i.ID,
			&i.Title,
			&i.ImporterSlug,
			&i.Author,
			&i.RowCount,
			&i.CreatedAt,
			&i.CurrentRow,
			&i.Running,
			&i.StartedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const purgeStaleImportRecords = `
DELETE FROM import_records r
USING import_progress p
WHERE p.record_id = r.id
  AND r.kind = $1
  AND r.created_at < $2
  AND p.running = false
  AND p.started_at IS NULL
`

type PurgeStaleImportRecordsParams struct {
	Kind   string
	Before pgtype.Timestamptz
}

// PurgeStaleImportRecords deletes uploads that were never started.
func (q *Queries) PurgeStaleImportRecords(ctx context.Context, arg PurgeStaleImportRecordsParams) (int64, error) {
	result, err := q.db.Exec(ctx, purgeStaleImportRecords, arg.Kind, arg.Before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
