package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/softonit/textract/extractor"
	"github.com/softonit/textract/ingest"
)

// extractResponse is the success body shared by all extraction
// endpoints.
type extractResponse struct {
	Status   string              `json:"status"`
	Filename string              `json:"filename"`
	Count    int                 `json:"count"`
	Files    []ingest.UnitResult `json:"files"`
}

// errorResponse is the failure body shared by all endpoints.
type errorResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type base64Request struct {
	EncodedBase64File string `json:"encoded_base64_file"`
	Filename          string `json:"filename"`
}

type urlRequest struct {
	URL       string              `json:"url"`
	UserAgent string              `json:"user_agent,omitempty"`
	Options   ingest.FetchOptions `json:"options"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSupportedFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":     s.cfg.Formats.Groups,
		"mime_types": s.registry.SupportedTypes(),
	})
}

// handleExtractFile accepts a multipart upload. Content-Length is
// required so oversized uploads can be rejected before the body is
// read.
func (s *Server) handleExtractFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.ContentLength < 0 {
		writeError(w, http.StatusBadRequest, "missing_content_length",
			"Content-Length header is required")
		return
	}
	if r.ContentLength > s.cfg.Limits.MaxInputBytes {
		s.finish(w, "file", start, ingest.Errorf(ingest.ReasonInputTooLarge,
			"declared size %d exceeds the %d byte limit", r.ContentLength, s.cfg.Limits.MaxInputBytes))
		return
	}

	if err := r.ParseMultipartForm(s.cfg.Limits.MaxInputBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request is not valid multipart form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", `multipart field "file" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.Limits.MaxInputBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "upload could not be read")
		return
	}
	if int64(len(data)) > s.cfg.Limits.MaxInputBytes {
		s.finish(w, "file", start, ingest.Errorf(ingest.ReasonInputTooLarge,
			"upload exceeds the %d byte limit", s.cfg.Limits.MaxInputBytes))
		return
	}

	s.extract(w, r, "file", start, header.Filename, ingest.FileSource(header.Filename, data))
}

func (s *Server) handleExtractBase64(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req base64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "filename is required")
		return
	}

	s.extract(w, r, "base64", start, req.Filename,
		ingest.Base64Source(req.Filename, req.EncodedBase64File))
}

func (s *Server) handleExtractURL(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}

	opts := req.Options
	if req.UserAgent != "" {
		opts.UserAgent = req.UserAgent
	}
	if opts.UserAgent == "" {
		opts.UserAgent = s.cfg.Fetch.UserAgent
	}
	// Rendering stays off unless the deployment enables it.
	if !s.cfg.Render.Enabled {
		opts.Render = false
		opts.Scroll = false
	}

	s.extract(w, r, "url", start, req.URL, ingest.URLSource(req.URL, opts))
}

// extract runs the pipeline plus format extraction and writes the
// response for one request.
func (s *Server) extract(w http.ResponseWriter, r *http.Request, source string,
	start time.Time, filename string, src ingest.Source) {

	budget := s.cfg.Budget()

	// One watchdog covers the whole request: ingestion and extraction
	// share the same deadline rather than each starting a fresh one.
	ctx, cancel := context.WithTimeout(r.Context(), budget.ProcessingTimeout)
	defer cancel()

	units, err := s.pipeline.Ingest(ctx, src, budget)
	if err != nil {
		s.finish(w, source, start, err)
		return
	}

	results, err := extractor.ExtractAll(ctx, s.registry, units,
		s.cfg.Limits.ExtractConcurrency, s.logger)
	if err != nil {
		s.finish(w, source, start, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveRequest(source, start, nil)
		var expanded int64
		for _, u := range units {
			expanded += u.SizeBytes
		}
		s.metrics.ObserveUnits(len(units), expanded)
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Status:   "success",
		Filename: filename,
		Count:    len(results),
		Files:    results,
	})
}

// finish records and writes a failed request.
func (s *Server) finish(w http.ResponseWriter, source string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(source, start, err)
	}
	reason := ingest.ReasonOf(err)
	writeError(w, statusForReason(reason), string(reason), ingest.MessageOf(err))
}

// statusForReason maps the error taxonomy to stable HTTP statuses.
func statusForReason(reason ingest.Reason) int {
	switch reason {
	case ingest.ReasonInputTooLarge, ingest.ReasonResourceExceeded:
		return http.StatusRequestEntityTooLarge
	case ingest.ReasonTypeMismatch, ingest.ReasonUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case ingest.ReasonEmptyInput, ingest.ReasonMalformedArchive,
		ingest.ReasonNestingTooDeep, ingest.ReasonPathTraversal,
		ingest.ReasonExtractionFailed:
		return http.StatusUnprocessableEntity
	case ingest.ReasonInvalidEncoding:
		return http.StatusBadRequest
	case ingest.ReasonSSRFBlocked:
		return http.StatusForbidden
	case ingest.ReasonTimeout:
		return http.StatusGatewayTimeout
	case ingest.ReasonUpstreamFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, errorResponse{
		Status:  "error",
		Reason:  reason,
		Message: message,
	})
}
