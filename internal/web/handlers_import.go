package web

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/a-h/templ"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/web/templates"
)

// uploadField is the multipart field carrying the CSV.
const uploadField = "csv_upload"

// multipartMemory is how much of a multipart body is held in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, title string, body templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.Layout(title, body).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render page", "title", title, "error", err)
	}
}

func importURL(slug string, query url.Values) string {
	u := "/import/" + url.PathEscape(slug)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// handleDashboard lists importers and uploads for the operator.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator := core.OperatorFromContext(ctx)

	importers := s.service.Importers(ctx, operator)
	records, err := s.service.Records(ctx, operator, core.ListFilter{Limit: 50})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.render(w, r, http.StatusOK, "Importers", templates.Dashboard(importers, records))
}

// handleImportPage shows the upload form, or the preview when csv_id is set.
func (s *Server) handleImportPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator := core.OperatorFromContext(ctx)
	slug := chi.URLParam(r, "slug")

	imp, err := s.service.Importer(ctx, slug, operator)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var q importPageQuery
	if err := decodeForm(&q, r.URL.Query()); err != nil {
		s.respondError(w, r, err)
		return
	}

	data := templates.ImportPageData{Importer: imp}
	switch q.Msg {
	case "cancel":
		data.Message = templates.MsgCancelled
	case "success":
		data.Message = templates.MsgProcessing
	}

	if q.CSVID != "" {
		id, err := recordID(q.CSVID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		preview, err := s.service.Preview(ctx, id, operator)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if preview.Importer != imp.Slug {
			s.respondError(w, r, errors.Wrapf(core.ErrRecordNotFound, "record %s belongs to %q", id, preview.Importer))
			return
		}
		data.Preview = preview
	}

	s.render(w, r, http.StatusOK, imp.Name, templates.ImportPage(data))
}

// handleUpload stores a posted CSV and redirects to its preview.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator := core.OperatorFromContext(ctx)
	slug := chi.URLParam(r, "slug")

	imp, err := s.service.Importer(ctx, slug, operator)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.uploadFailed(w, r, imp, uploadFormError(err, s.cfg.Upload.MaxFileSize))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		s.uploadFailed(w, r, imp, uploadFormError(err, s.cfg.Upload.MaxFileSize))
		return
	}
	defer file.Close()

	id, err := s.service.Upload(ctx, core.UploadRequest{
		Slug:      imp.Slug,
		Initiator: operator,
		Filename:  header.Filename,
		Body:      file,
	})
	if err != nil {
		s.uploadFailed(w, r, imp, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
		return
	}
	http.Redirect(w, r, importURL(imp.Slug, url.Values{"csv_id": {id.String()}}), http.StatusSeeOther)
}

// uploadFailed shows rejected uploads on the upload form itself.
func (s *Server) uploadFailed(w http.ResponseWriter, r *http.Request, imp *core.Importer, err error) {
	if wantsJSON(r) || !errors.Is(err, core.ErrValidation) {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("upload rejected", "importer", imp.Slug, "error", err)
	msg := core.MapError(err)
	s.render(w, r, http.StatusBadRequest, imp.Name, templates.ImportPage(templates.ImportPageData{
		Importer: imp,
		Error:    &msg,
	}))
}

func uploadFormError(err error, maxSize int64) error {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return &core.ValidationError{Message: fmt.Sprintf("file exceeds %dMB limit", maxSize/(1024*1024))}
	case errors.Is(err, http.ErrMissingFile):
		return &core.ValidationError{Message: "no file provided"}
	default:
		return &core.ValidationError{Message: "could not read upload: " + err.Error()}
	}
}

// handleProcess starts or cancels a previewed record.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator := core.OperatorFromContext(ctx)
	slug := chi.URLParam(r, "slug")

	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, &core.ValidationError{Message: "malformed form"})
		return
	}
	var f processForm
	if err := decodeForm(&f, r.PostForm); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := recordID(f.CSVID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status, err := s.service.Status(ctx, id, operator)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if status.ImporterSlug != slug {
		s.respondError(w, r, errors.Wrapf(core.ErrRecordNotFound, "record %s belongs to %q", id, status.ImporterSlug))
		return
	}

	page := f.Page
	if page == "" {
		page = "csv-importer-" + slug
	}

	var msg string
	switch {
	case f.Cancel != "":
		err = s.service.Cancel(ctx, id, operator, page)
		msg = "cancel"
	case f.Import != "":
		err = s.service.Start(ctx, id, operator)
		msg = "success"
	default:
		err = &core.ValidationError{Message: "choose import or cancel"}
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "result": msg})
		return
	}
	http.Redirect(w, r, importURL(slug, url.Values{"msg": {msg}}), http.StatusSeeOther)
}

// handleTemplate downloads the importer's expected header row.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	imp, err := s.service.Importer(ctx, chi.URLParam(r, "slug"), core.OperatorFromContext(ctx))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(imp.Headers) == 0 {
		http.NotFound(w, r)
		return
	}

	body, err := core.HeaderTemplate(imp)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", imp.Slug+"-template.csv"))
	_, _ = w.Write(body)
}
