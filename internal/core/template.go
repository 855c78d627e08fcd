package core

import (
	"bytes"
	"encoding/csv"

	"github.com/cockroachdb/errors"
)

// HeaderTemplate returns a one-line CSV of the importer's expected
// headers for operators to fill in. Importers without headers have no
// template.
func HeaderTemplate(imp *Importer) ([]byte, error) {
	if len(imp.Headers) == 0 {
		return nil, errors.Newf("importer %q has no header template", imp.Slug)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(imp.Headers); err != nil {
		return nil, errors.Wrap(err, "write header template")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "write header template")
	}
	return buf.Bytes(), nil
}
