package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldserve/importer/internal/importer"
)

// handleUpload accepts a multipart upload and creates the import job.
//
//	POST /api/import/{entityType}
//	multipart field "file": the CSV or XLSX document
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	entity := importer.EntityType(chi.URLParam(r, "entityType"))

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "no file provided: attach the spreadsheet as the \"file\" form field", "bad_request")
		return
	}
	defer file.Close()

	result, err := s.service.CreateJob(r.Context(), companyID(r), entity, header.Filename, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job":              result.Job,
		"header":           result.Header,
		"suggestedMapping": result.SuggestedMapping,
	})
}

// handleSubmitMapping stores the mapping and returns the job with a fresh
// dry-run summary.
//
//	POST /api/import/{importJobID}/mapping
//	body: {"mapping": [{"source": "...", "target": "..."}]}
func (s *Server) handleSubmitMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mapping importer.Mapping `json:"mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body", "bad_request")
		return
	}

	job, summary, err := s.service.SubmitMapping(r.Context(), companyID(r), chi.URLParam(r, "importJobID"), body.Mapping)
	if err != nil {
		var mappingErrs importer.MappingErrors
		if errors.As(err, &mappingErrs) {
			// Structural mapping problems are itemized so the wizard can
			// annotate each offending column.
			writeMappingErrors(w, mappingErrs)
			return
		}
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job":     job,
		"summary": summary,
	})
}

func writeMappingErrors(w http.ResponseWriter, errs importer.MappingErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(struct {
		Success bool                   `json:"success"`
		Error   importer.UserMessage   `json:"error"`
		Details importer.MappingErrors `json:"details"`
	}{
		Error:   importer.MapError(errs),
		Details: errs,
	})
}

// handleDryRun re-simulates the import without side effects.
//
//	POST /api/import/{importJobID}/dry-run
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.DryRun(r.Context(), companyID(r), chi.URLParam(r, "importJobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleConfirm starts the background commit and returns immediately.
//
//	POST /api/import/{importJobID}/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Confirm(r.Context(), companyID(r), chi.URLParam(r, "importJobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleCancel requests cancellation. A committing job stops at its next
// batch boundary; anything earlier is cancelled immediately.
//
//	POST /api/import/{importJobID}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Cancel(r.Context(), companyID(r), chi.URLParam(r, "importJobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleProgress returns the durable job projection for polling.
//
//	GET /import/progress/{importJobID}
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetProgress(r.Context(), companyID(r), chi.URLParam(r, "importJobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs returns the company's recent jobs, newest first.
//
//	GET /api/import/jobs?limit=N
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a non-negative integer", "bad_request")
			return
		}
		limit = n
	}

	jobs, err := s.service.ListJobs(r.Context(), companyID(r), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*importer.ImportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// entityInfo describes one importable entity type for the wizard's picker.
type entityInfo struct {
	EntityType     importer.EntityType `json:"entityType"`
	Label          string              `json:"label"`
	RequiredFields []string            `json:"requiredFields"`
	OptionalFields []string            `json:"optionalFields"`
	NaturalKey     []string            `json:"naturalKey"`
}

// handleListEntities lists the registered entity types.
//
//	GET /api/import/entities
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	contracts := importer.Contracts()
	infos := make([]entityInfo, 0, len(contracts))
	for _, c := range contracts {
		infos = append(infos, entityInfo{
			EntityType:     c.Entity,
			Label:          c.Label,
			RequiredFields: c.RequiredFields(),
			OptionalFields: c.OptionalFields(),
			NaturalKey:     c.NaturalKey,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeCommits": s.service.ActiveCommits(),
	})
}
