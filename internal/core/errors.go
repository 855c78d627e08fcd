package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Sentinel errors. Match them with errors.Is from github.com/cockroachdb/errors,
// which also sees marks applied with errors.Mark.
var (
	ErrValidation       = errors.New("validation failed")
	ErrRecordNotFound   = errors.New("import record not found")
	ErrImporterNotFound = errors.New("importer not found")
	ErrUnauthorized     = errors.New("not authorized")
	ErrStorage          = errors.New("storage failure")
	ErrTickInProgress   = errors.New("tick already in progress")
	ErrNoImportBehavior = errors.New("importer has no import behavior")
)

// ImportBehaviorError carries a failure raised by an importer's import
// behavior. The record keeps its pointer, so the same batch is handed
// over again on the next tick.
type ImportBehaviorError struct {
	Importer string
	RecordID uuid.UUID
	Offset   int
	Err      error
}

func (e *ImportBehaviorError) Error() string {
	return fmt.Sprintf("importer %q failed on record %s at row offset %d: %v", e.Importer, e.RecordID, e.Offset, e.Err)
}

func (e *ImportBehaviorError) Unwrap() error {
	return e.Err
}

// storageError wraps a store failure and marks it as ErrStorage.
func storageError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStorage)
}

// IsNotFound reports whether err means a record or importer is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrImporterNotFound)
}
