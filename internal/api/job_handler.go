package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/catalog-enricher/internal/fieldmap"
	"github.com/ignite/catalog-enricher/internal/jobs"
	"github.com/ignite/catalog-enricher/internal/pkg/httputil"
	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// Error codes returned by the upload endpoints.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidFile    = "invalid_file"
	CodeInvalidMapping = "invalid_mapping"
	CodeUnknownModel   = "unknown_model"
	CodeNoModels       = "no_models"
	CodeInvalidEmail   = "invalid_email"
	CodeFileTooLarge   = "file_too_large"
	CodeShuttingDown   = "shutting_down"
)

// InspectResponse is the advisory mapping for an upload.
type InspectResponse struct {
	Headers    []string            `json:"headers"`
	Mapping    map[string]any      `json:"mapping"`
	Missing    []string            `json:"missing"`
	Candidates map[string][]string `json:"candidates"`
}

// JobResponse acknowledges an accepted job.
type JobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// Inspect handles POST /api/inspect
func (h *Handlers) Inspect(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		writeJobError(w, err)
		return
	}
	up, err := h.readUpload(r)
	if err != nil {
		writeJobError(w, err)
		return
	}

	insp, err := h.jobs.Inspect(up.data, up.filename)
	if err != nil {
		writeJobError(w, err)
		return
	}

	resp := InspectResponse{
		Headers:    insp.Headers,
		Mapping:    h.jobs.Catalog().Render(insp.Mapping),
		Missing:    insp.Missing,
		Candidates: insp.Candidates,
	}
	if resp.Missing == nil {
		resp.Missing = []string{}
	}
	if resp.Candidates == nil {
		resp.Candidates = map[string][]string{}
	}
	httputil.OK(w, resp)
}

// CreateJob handles POST /api/jobs. It answers 202 as soon as the
// submission is validated; the prediction runs in the background.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		writeJobError(w, err)
		return
	}
	up, err := h.readUpload(r)
	if err != nil {
		writeJobError(w, err)
		return
	}

	var mapping map[string]fieldmap.Selection
	if raw := strings.TrimSpace(r.FormValue("mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidRequest, "mapping must be a JSON object", nil)
			return
		}
	}
	models, err := parseModels(r)
	if err != nil {
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidRequest, "models must be a JSON array of ids", nil)
		return
	}

	job, err := h.jobs.Submit(r.Context(), jobs.Submission{
		Email:    r.FormValue("email"),
		Filename: up.filename,
		MIMEType: up.mimeType,
		Data:     up.data,
		Mapping:  mapping,
		ModelIDs: models,
	})
	if err != nil {
		writeJobError(w, err)
		return
	}

	httputil.Accepted(w, JobResponse{JobID: job.ID, Status: "queued"})
}

// parseModels accepts a JSON array in a single "models" value, or the ids as
// repeated "models" / "models[]" values.
func parseModels(r *http.Request) ([]string, error) {
	var values []string
	if r.MultipartForm != nil {
		values = append(values, r.MultipartForm.Value["models"]...)
		values = append(values, r.MultipartForm.Value["models[]"]...)
	}
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var ids []string
		if err := json.Unmarshal([]byte(values[0]), &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}
	return values, nil
}

// writeJobError maps pipeline errors to their HTTP status and code.
func writeJobError(w http.ResponseWriter, err error) {
	var (
		verr    *fieldmap.ValidationError
		unknown *jobs.UnknownModelError
	)
	switch {
	case errors.Is(err, jobs.ErrFileTooLarge):
		httputil.ErrorWithCode(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, err.Error(), nil)
	case errors.Is(err, errMissingFile):
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidFile, "a file is required", nil)
	case errors.Is(err, jobs.ErrInvalidFile):
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidFile, err.Error(), nil)
	case errors.As(err, &verr):
		httputil.ErrorWithCode(w, http.StatusUnprocessableEntity, CodeInvalidMapping, "mapping is invalid", verr.Errors)
	case errors.As(err, &unknown):
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeUnknownModel, err.Error(), unknown.IDs)
	case errors.Is(err, jobs.ErrNoModels):
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeNoModels, err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidEmail):
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidEmail, "a valid email address is required", nil)
	case errors.Is(err, jobs.ErrShuttingDown):
		httputil.ErrorWithCode(w, http.StatusServiceUnavailable, CodeShuttingDown, err.Error(), nil)
	default:
		logger.Error("api: request failed", "error", err)
		httputil.ErrorWithCode(w, http.StatusBadRequest, CodeInvalidRequest, "request could not be processed", nil)
	}
}
