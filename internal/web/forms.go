package web

import (
	"net/url"
	"sync"

	"github.com/go-playground/form"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// importPageQuery is the query string of GET /import/{slug}.
type importPageQuery struct {
	CSVID string `form:"csv_id" validate:"omitempty,uuid"`
	Msg   string `form:"msg" validate:"omitempty,oneof=cancel success"`
}

// processForm is the decision posted from the preview.
type processForm struct {
	CSVID  string `form:"csv_id" validate:"required,uuid"`
	Import string `form:"import"`
	Cancel string `form:"cancel"`
	Page   string `form:"page" validate:"max=200"`
}

// recordsQuery filters GET /api/records.
type recordsQuery struct {
	Importer string `form:"importer" validate:"max=64"`
	Limit    int    `form:"limit" validate:"gte=0,lte=1000"`
}

var (
	formOnce    sync.Once
	formDecoder *form.Decoder
	formCheck   *validator.Validate
)

func decoders() (*form.Decoder, *validator.Validate) {
	formOnce.Do(func() {
		formDecoder = form.NewDecoder()
		formCheck = validator.New(validator.WithRequiredStructEnabled())
	})
	return formDecoder, formCheck
}

// decodeForm fills dst from values and validates it. Failures come back
// as *core.ValidationError.
func decodeForm(dst interface{}, values url.Values) error {
	dec, check := decoders()
	if err := dec.Decode(dst, values); err != nil {
		return &core.ValidationError{Message: "malformed request: " + err.Error()}
	}
	if err := check.Struct(dst); err != nil {
		return &core.ValidationError{Message: "invalid request: " + err.Error()}
	}
	return nil
}

// recordID parses a form id that decodeForm already checked.
func recordID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &core.ValidationError{Message: "invalid record id"}
	}
	return id, nil
}
