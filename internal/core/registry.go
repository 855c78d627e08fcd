package core

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultCapability is required when an importer declares none. It stands
// for upload rights plus edit rights.
const DefaultCapability = "manage_csv_imports"

// BatchImporter applies one batch of rows. It must either apply the whole
// batch or return an error; on error the same rows are handed over again
// on a later tick, so implementations should be idempotent.
type BatchImporter interface {
	ImportBatch(ctx context.Context, rows [][]string, header []string, rec *Record) error
}

// ImportFunc adapts a function to BatchImporter.
type ImportFunc func(ctx context.Context, rows [][]string, header []string, rec *Record) error

func (f ImportFunc) ImportBatch(ctx context.Context, rows [][]string, header []string, rec *Record) error {
	return f(ctx, rows, header, rec)
}

// Canceler reacts to an operator cancelling a record, before the record
// is deleted. page identifies the admin page the request came from.
type Canceler interface {
	CancelImport(ctx context.Context, rec *Record, page string) error
}

// CancelFunc adapts a function to Canceler.
type CancelFunc func(ctx context.Context, rec *Record, page string) error

func (f CancelFunc) CancelImport(ctx context.Context, rec *Record, page string) error {
	return f(ctx, rec, page)
}

// Previewer builds what the operator sees before deciding to import.
type Previewer interface {
	Preview(ctx context.Context, rec *Record, imp *Importer, limit int) (*Preview, error)
}

// PreviewFunc adapts a function to Previewer.
type PreviewFunc func(ctx context.Context, rec *Record, imp *Importer, limit int) (*Preview, error)

func (f PreviewFunc) Preview(ctx context.Context, rec *Record, imp *Importer, limit int) (*Preview, error) {
	return f(ctx, rec, imp, limit)
}

// SaveFilter rewrites parsed uploads before they are stored. Returning an
// error rejects the upload and nothing is stored.
type SaveFilter interface {
	BeforeSave(ctx context.Context, header []string, rows [][]string) ([]string, [][]string, error)
}

// BeforeSaveFunc adapts a function to SaveFilter.
type BeforeSaveFunc func(ctx context.Context, header []string, rows [][]string) ([]string, [][]string, error)

func (f BeforeSaveFunc) BeforeSave(ctx context.Context, header []string, rows [][]string) ([]string, [][]string, error) {
	return f(ctx, header, rows)
}

// Importer is a registered import configuration. Only Name and Slug are
// required; RegisterAll fills in the rest.
type Importer struct {
	Name        string   `validate:"required,max=100"`
	Slug        string   `validate:"required,max=64,slug"`
	Description string   `validate:"max=500"`
	Capability  string   `validate:"omitempty,max=64"`
	Headers     []string `validate:"omitempty,dive,required"`

	// BatchSize overrides the default rows per tick when positive.
	BatchSize int `validate:"gte=0"`

	Preview    Previewer     `validate:"-"`
	Cancel     Canceler      `validate:"-"`
	Import     BatchImporter `validate:"-"`
	BeforeSave SaveFilter    `validate:"-"`
}

// Inert reports whether the importer accepts uploads but never imports.
func (i *Importer) Inert() bool {
	return i.Import == nil
}

// ImporterSource contributes importer definitions at startup.
type ImporterSource interface {
	Importers() []Importer
}

// ImporterSourceFunc adapts a function to ImporterSource.
type ImporterSourceFunc func() []Importer

func (f ImporterSourceFunc) Importers() []Importer {
	return f()
}

// Registry is the immutable set of importers known to the process. Build
// it once with RegisterAll and pass it to whatever needs it.
type Registry struct {
	importers []*Importer
}

// RegisterAll collects definitions from every source, fills defaults and
// rejects invalid or duplicate definitions.
func RegisterAll(sources ...ImporterSource) (*Registry, error) {
	reg := &Registry{}
	seen := make(map[string]bool)

	for _, src := range sources {
		if src == nil {
			continue
		}
		for _, def := range src.Importers() {
			imp := def
			if err := validateStruct("importer "+imp.Slug, imp); err != nil {
				return nil, err
			}
			if seen[imp.Slug] {
				return nil, errors.Newf("importer already registered: %s", imp.Slug)
			}
			seen[imp.Slug] = true

			if imp.Capability == "" {
				imp.Capability = DefaultCapability
			}
			if imp.Preview == nil {
				imp.Preview = PreviewFunc(DefaultPreview)
			}
			reg.importers = append(reg.importers, &imp)
		}
	}

	return reg, nil
}

// Get finds an importer by slug.
func (r *Registry) Get(slug string) (*Importer, bool) {
	for _, imp := range r.importers {
		if imp.Slug == slug {
			return imp, true
		}
	}
	return nil, false
}

// All returns importers in registration order.
func (r *Registry) All() []*Importer {
	out := make([]*Importer, len(r.importers))
	copy(out, r.importers)
	return out
}

// Len returns the number of registered importers.
func (r *Registry) Len() int {
	return len(r.importers)
}

// resolve is Get with a wrapped ErrImporterNotFound.
func (r *Registry) resolve(slug string) (*Importer, error) {
	imp, ok := r.Get(slug)
	if !ok {
		return nil, errors.Wrapf(ErrImporterNotFound, "importer %q", slug)
	}
	return imp, nil
}

// Admin page identifiers carry one of these prefixes before the slug.
var pagePrefixes = []string{"import-content_page_", "csv-importer-"}

// ParseImporterSlug extracts the importer slug from an admin page id.
func ParseImporterSlug(page string) string {
	for _, prefix := range pagePrefixes {
		page = strings.Replace(page, prefix, "", 1)
	}
	return page
}
