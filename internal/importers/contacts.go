package importers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/csvimport/internal/core"
	db "github.com/JonMunkholm/csvimport/internal/database"
)

// ContactHeaders is the column layout the contacts importer expects.
var ContactHeaders = []string{"email", "first_name", "last_name", "company"}

type contactRow struct {
	Email     string `validate:"required,email,max=254"`
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
	Company   string `validate:"max=200"`
}

// contacts upserts one contact per row keyed by email. Rows without a
// valid email are skipped and logged. Re-running a batch rewrites the
// same contacts, so a retried tick is harmless.
type contacts struct {
	sink     Sink
	validate *validator.Validate
	logger   *slog.Logger
}

func newContacts(sink Sink, logger *slog.Logger) *contacts {
	return &contacts{
		sink:     sink,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("importer", "contacts"),
	}
}

func (c *contacts) importer() core.Importer {
	return core.Importer{
		Name:        "Contacts",
		Slug:        "contacts",
		Description: "Create or update contacts by email address.",
		Headers:     ContactHeaders,
		BatchSize:   200,
		Preview:     core.PreviewFunc(c.preview),
		Import:      core.ImportFunc(c.importBatch),
		BeforeSave:  core.BeforeSaveFunc(c.beforeSave),
	}
}

// beforeSave rewrites labels such as "First Name" to the expected
// "first_name" so spreadsheet exports line up with ContactHeaders.
func (c *contacts) beforeSave(_ context.Context, header []string, rows [][]string) ([]string, [][]string, error) {
	known := make(map[string]bool, len(ContactHeaders))
	for _, h := range ContactHeaders {
		known[h] = true
	}
	underscore := strings.NewReplacer(" ", "_", "-", "_")
	out := make([]string, len(header))
	for i, h := range header {
		label := underscore.Replace(strings.ToLower(CleanCell(h)))
		if known[label] {
			out[i] = label
			continue
		}
		out[i] = h
	}
	return out, rows, nil
}

// parse maps a row to a contact and validates it.
func (c *contacts) parse(idx HeaderIndex, row []string) (contactRow, error) {
	cr := contactRow{
		Email:     strings.ToLower(idx.Get(row, "email")),
		FirstName: idx.Get(row, "first_name"),
		LastName:  idx.Get(row, "last_name"),
		Company:   idx.Get(row, "company"),
	}
	return cr, c.validate.Struct(cr)
}

func (c *contacts) importBatch(ctx context.Context, rows [][]string, header []string, rec *core.Record) error {
	idx := MakeHeaderIndex(header)
	if _, ok := idx["email"]; !ok {
		return errors.New("contacts: upload has no email column")
	}

	params := make([]db.UpsertContactParams, 0, len(rows))
	seen := make(map[string]int, len(rows))
	skipped := 0
	for _, row := range rows {
		cr, err := c.parse(idx, row)
		if err != nil {
			skipped++
			continue
		}
		p := db.UpsertContactParams{
			Email:     cr.Email,
			FirstName: cr.FirstName,
			LastName:  cr.LastName,
			Company:   cr.Company,
			RecordID:  pgtype.UUID{Bytes: rec.ID, Valid: true},
		}
		// Later rows for the same email win, as they would row by row.
		if i, dup := seen[cr.Email]; dup {
			params[i] = p
			continue
		}
		seen[cr.Email] = len(params)
		params = append(params, p)
	}

	if _, err := c.sink.UpsertContacts(ctx, params); err != nil {
		return errors.Wrapf(err, "contacts: upsert %d contacts", len(params))
	}

	if skipped > 0 {
		c.logger.WarnContext(ctx, "skipped rows without a valid email",
			"record_id", rec.ID,
			"offset", rec.Progress.CurrentRow,
			"skipped", skipped,
		)
	}
	return nil
}

// preview adds a note about rows that will be skipped.
func (c *contacts) preview(ctx context.Context, rec *core.Record, imp *core.Importer, limit int) (*core.Preview, error) {
	p, err := core.DefaultPreview(ctx, rec, imp, limit)
	if err != nil {
		return nil, err
	}

	idx := MakeHeaderIndex(rec.Header)
	if _, ok := idx["email"]; !ok {
		p.Notes = append(p.Notes, "The file has no email column, so no contacts will be imported.")
		return p, nil
	}

	invalid := 0
	for _, row := range rec.Rows {
		if _, err := c.parse(idx, row); err != nil {
			invalid++
		}
	}
	if invalid > 0 {
		p.Notes = append(p.Notes, fmt.Sprintf("%d of %d rows have no valid email and will be skipped.", invalid, len(rec.Rows)))
	}
	return p, nil
}
