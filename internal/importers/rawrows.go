package importers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/csvimport/internal/core"
	db "github.com/JonMunkholm/csvimport/internal/database"
)

// RawRowsCapability guards the raw archive; it is granted to administrators.
const RawRowsCapability = "import_raw_rows"

// rawRows archives every row as a JSON object keyed by header label.
// Rows are numbered from 1 in upload order, and an archived number is
// never overwritten, so retried batches insert nothing new.
type rawRows struct {
	sink   Sink
	logger *slog.Logger
}

func newRawRows(sink Sink, logger *slog.Logger) *rawRows {
	return &rawRows{sink: sink, logger: logger.With("importer", "raw-rows")}
}

func (r *rawRows) importer() core.Importer {
	return core.Importer{
		Name:        "Raw rows",
		Slug:        "raw-rows",
		Description: "Archive any CSV as-is, one JSON document per row.",
		Capability:  RawRowsCapability,
		BatchSize:   500,
		Cancel:      core.CancelFunc(r.cancel),
		Import:      core.ImportFunc(r.importBatch),
	}
}

func (r *rawRows) importBatch(ctx context.Context, rows [][]string, header []string, rec *core.Record) error {
	offset := rec.Progress.CurrentRow
	recordID := pgtype.UUID{Bytes: rec.ID, Valid: true}

	params := make([]db.InsertImportedRowParams, 0, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(rowObject(header, row))
		if err != nil {
			return errors.Wrapf(err, "raw-rows: encode row %d", offset+i+1)
		}
		params = append(params, db.InsertImportedRowParams{
			RecordID:  recordID,
			RowNumber: int32(offset + i + 1),
			Data:      data,
		})
	}

	n, err := r.sink.InsertImportedRows(ctx, params)
	if err != nil {
		return errors.Wrapf(err, "raw-rows: archive rows %d-%d", offset+1, offset+len(rows))
	}
	if n < int64(len(params)) {
		r.logger.InfoContext(ctx, "rows already archived",
			"record_id", rec.ID,
			"offset", offset,
			"duplicates", int64(len(params))-n,
		)
	}
	return nil
}

// cancel removes what was archived before the operator gave up.
func (r *rawRows) cancel(ctx context.Context, rec *core.Record, page string) error {
	n, err := r.sink.DeleteImportedRows(ctx, pgtype.UUID{Bytes: rec.ID, Valid: true})
	if err != nil {
		return errors.Wrapf(err, "raw-rows: delete archived rows for record %s", rec.ID)
	}
	r.logger.InfoContext(ctx, "archived rows removed on cancel",
		"record_id", rec.ID,
		"page", page,
		"rows", n,
	)
	return nil
}
