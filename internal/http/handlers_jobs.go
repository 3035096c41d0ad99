// Package httpx provides HTTP handlers and utilities for the leadforge job API.
package httpx

import (
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/leadforge/leadforge/internal/errors"

	"github.com/leadforge/leadforge/internal/data"
	"github.com/leadforge/leadforge/internal/service"
)

const (
	// maxUploadBytes caps multipart parsing memory for workbook uploads.
	maxUploadBytes = 32 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	invalidFileFormatMsg = "Invalid file format"
	downloadNotReadyMsg  = "File not found or still processing"
)

// JobHandlers provides HTTP handlers for the upload/process/progress/download
// lifecycle.
type JobHandlers struct {
	Svc *service.JobService
}

// Upload accepts a multipart workbook under the "file" field, stores it and
// registers a job. Anything that is not an .xlsx upload is rejected with the
// same body a malformed request gets, so clients have a single failure shape.
func (h *JobHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErrorBody(w, http.StatusBadRequest, invalidFileFormatMsg)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, invalidFileFormatMsg)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "upload_failed", Err: err})
		return
	}

	job, err := h.Svc.Upload(r.Context(), header.Filename, content)
	if err != nil {
		if apperrors.IsValidation(err) {
			writeErrorBody(w, http.StatusBadRequest, invalidFileFormatMsg)
			return
		}
		if apperrors.IsConflict(err) {
			WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "upload_conflict", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "upload_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// Process marks an uploaded job eligible for the pipeline worker. Repeated
// requests for the same job are harmless.
func (h *JobHandlers) Process(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"job_id"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: errors.New("job_id is required")},
		)
		return
	}

	if err := h.Svc.RequestProcessing(r.Context(), req.JobID); err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(
				w,
				ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")},
			)
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "process_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "processing started"})
}

// Progress returns the full log history for a job. Unknown jobs report an
// empty history rather than an error so pollers never have to special-case
// a race with upload.
func (h *JobHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")

	progress, err := h.Svc.Progress(r.Context(), jobID)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "progress_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, progress)
}

// Download streams the processed workbook for a completed job. Unknown jobs,
// jobs still in flight and failed jobs all get the same 404 body.
func (h *JobHandlers) Download(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")

	rc, job, err := h.Svc.Download(r.Context(), jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			writeErrorBody(w, http.StatusNotFound, downloadNotReadyMsg)
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "download_failed", Err: err})
		return
	}
	defer rc.Close()

	var modTime time.Time
	if job.CompletedAt != nil {
		modTime = *job.CompletedAt
	}

	name := job.ID + "_processed.xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, modTime, rc)
}

// Stats reports per-status job counters.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
