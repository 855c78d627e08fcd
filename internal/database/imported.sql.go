package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const upsertContact = `
INSERT INTO imported_contacts (email, first_name, last_name, company, record_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE
SET first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    company = EXCLUDED.company,
    record_id = EXCLUDED.record_id,
    updated_at = now()
`

type UpsertContactParams struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	RecordID  pgtype.UUID
}

// UpsertContacts writes all contacts in one round trip. Re-running the same
// batch leaves the table unchanged.
func (q *Queries) UpsertContacts(ctx context.Context, arg []UpsertContactParams) (int64, error) {
	if len(arg) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, a := range arg {
		batch.Queue(upsertContact, a.Email, a.FirstName, a.LastName, a.Company, a.RecordID)
	}
	return execBatch(q.db.SendBatch(ctx, batch), len(arg))
}

const insertImportedRow = `
INSERT INTO imported_rows (record_id, row_number, data)
VALUES ($1, $2, $3)
ON CONFLICT (record_id, row_number) DO NOTHING
`

type InsertImportedRowParams struct {
	RecordID  pgtype.UUID
	RowNumber int32
	Data      []byte
}

// InsertImportedRows archives raw rows, skipping any already archived.
func (q *Queries) InsertImportedRows(ctx context.Context, arg []InsertImportedRowParams) (int64, error) {
	if len(arg) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, a := range arg {
		batch.Queue(insertImportedRow, a.RecordID, a.RowNumber, a.Data)
	}
	return execBatch(q.db.SendBatch(ctx, batch), len(arg))
}

const deleteImportedRows = `
DELETE FROM imported_rows WHERE record_id = $1
`

func (q *Queries) DeleteImportedRows(ctx context.Context, recordID pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteImportedRows, recordID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countImportedRows = `
SELECT count(*) FROM imported_rows WHERE record_id = $1
`

func (q *Queries) CountImportedRows(ctx context.Context, recordID pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countImportedRows, recordID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

// execBatch drains n queued statements and sums their affected rows.
func execBatch(br pgx.BatchResults, n int) (int64, error) {
	defer br.Close()
	var affected int64
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			return affected, err
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}
