// Package importers holds the importers this service ships with.
//
// Register them with core.RegisterAll(importers.Source(sink, logger)).
package importers

import (
	"log/slog"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// Source contributes the built-in importers, all writing to sink.
func Source(sink Sink, logger *slog.Logger) core.ImporterSource {
	if logger == nil {
		logger = slog.Default()
	}
	return core.ImporterSourceFunc(func() []core.Importer {
		return []core.Importer{
			newContacts(sink, logger).importer(),
			newRawRows(sink, logger).importer(),
		}
	})
}
