package core

// validation.go holds the two validation layers of the import flow:
//  1. Upload validation: every data row must fit within the header width.
//  2. Definition validation: importer definitions and new records are
//     checked with struct tags before they are accepted.

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports an upload rejected by the row width rule, an
// upload that could not be read as CSV, or a malformed definition.
type ValidationError struct {
	Row      int // 1-indexed record number, the header is row 1
	Columns  int
	Expected int
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("Row %d has %d columns, expecting %d or fewer columns", e.Row, e.Columns, e.Expected)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// checkRowWidth enforces the single upload rule.
func checkRowWidth(rowNum int, row, header []string) error {
	if len(row) > len(header) {
		return &ValidationError{Row: rowNum, Columns: len(row), Expected: len(header)}
	}
	return nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator with the slug rule registered.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validateStruct runs tag validation and flattens failures into one
// ValidationError listing every offending field.
func validateStruct(kind string, v interface{}) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return &ValidationError{Message: fmt.Sprintf("invalid %s: %v", kind, err)}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return &ValidationError{Message: fmt.Sprintf("invalid %s: %s", kind, strings.Join(msgs, ", "))}
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}
