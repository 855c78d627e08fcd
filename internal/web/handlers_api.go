package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/core"
)

type importerResponse struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Headers     []string `json:"headers,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	Inert       bool     `json:"inert"`
}

type recordResponse struct {
	core.RecordSummary
	Percent int `json:"percent"`
}

func (s *Server) handleListImporters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	importers := s.service.Importers(ctx, core.OperatorFromContext(ctx))

	out := make([]importerResponse, 0, len(importers))
	for _, imp := range importers {
		out = append(out, importerResponse{
			Slug:        imp.Slug,
			Name:        imp.Name,
			Description: imp.Description,
			Headers:     imp.Headers,
			BatchSize:   imp.BatchSize,
			Inert:       imp.Inert(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var q recordsQuery
	if err := decodeForm(&q, r.URL.Query()); err != nil {
		s.respondError(w, r, err)
		return
	}

	records, err := s.service.Records(ctx, core.OperatorFromContext(ctx), core.ListFilter{
		ImporterSlug: q.Importer,
		Limit:        q.Limit,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{RecordSummary: rec, Percent: rec.Percent()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRecordStatus reports progress. Completed and cancelled records
// are gone, so they answer 404.
func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := recordID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status, err := s.service.Status(ctx, id, core.OperatorFromContext(ctx))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{RecordSummary: status, Percent: status.Percent()})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.UploadLimiterStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
