package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softonit/textract/config"
	"github.com/softonit/textract/extractor"
	"github.com/softonit/textract/ingest"
	"github.com/softonit/textract/ingest/archive"
	"github.com/softonit/textract/pipeline"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	p := pipeline.New(archive.New(nil), nil, nil)
	return NewServer(cfg, p, extractor.NewDefaultRegistry(), nil, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestSupportedFormats(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodGet, "/v1/supported-formats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	groups, ok := body["groups"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, groups, "documents")
	assert.Contains(t, groups, "archives")

	types, ok := body["mime_types"].([]any)
	require.True(t, ok)
	assert.Contains(t, types, "application/pdf")
}

func multipartUpload(t *testing.T, fieldName, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestExtractFile(t *testing.T) {
	s := newTestServer(t)

	buf, contentType := multipartUpload(t, "file", "notes.txt", []byte("uploaded text"))
	req := httptest.NewRequest(http.MethodPost, "/v1/extract/file", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[extractResponse](t, rec)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "notes.txt", body.Filename)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "uploaded text", body.Files[0].Text)
	assert.Equal(t, "text/plain", body.Files[0].SniffedType)
}

func TestExtractFileMissingContentLength(t *testing.T) {
	s := newTestServer(t)

	buf, contentType := multipartUpload(t, "file", "notes.txt", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/v1/extract/file", buf)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = -1 // simulates a chunked upload
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "error", body.Status)
	assert.Contains(t, body.Message, "Content-Length")
}

func TestExtractFileTooLarge(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Limits.MaxInputBytes = 64

	buf, contentType := multipartUpload(t, "file", "big.bin", bytes.Repeat([]byte("x"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/v1/extract/file", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(ingest.ReasonInputTooLarge), body.Reason)
}

func TestExtractFileWrongField(t *testing.T) {
	s := newTestServer(t)

	buf, contentType := multipartUpload(t, "upload", "notes.txt", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/v1/extract/file", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractBase64(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/base64", base64Request{
		EncodedBase64File: base64.StdEncoding.EncodeToString([]byte("decoded payload")),
		Filename:          "payload.txt",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[extractResponse](t, rec)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "decoded payload", body.Files[0].Text)
}

func TestExtractBase64Invalid(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/base64", base64Request{
		EncodedBase64File: "*** definitely not base64 ***",
		Filename:          "payload.txt",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(ingest.ReasonInvalidEncoding), body.Reason)
}

func TestExtractBase64TypeForgery(t *testing.T) {
	s := newTestServer(t)

	var zipBuf bytes.Buffer
	zipBuf.WriteString("PK\x03\x04")
	zipBuf.Write(bytes.Repeat([]byte{0x00}, 64))

	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/base64", base64Request{
		EncodedBase64File: base64.StdEncoding.EncodeToString(zipBuf.Bytes()),
		Filename:          "innocent.txt",
	})

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(ingest.ReasonTypeMismatch), body.Reason)
}

func TestExtractBase64Empty(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/base64", base64Request{
		EncodedBase64File: "",
		Filename:          "empty.txt",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(ingest.ReasonEmptyInput), body.Reason)
}

func TestExtractURLValidation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/url", urlRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.routes(), http.MethodPost, "/v1/extract/url", urlRequest{URL: "https://example.com"})
	// The test server has no web client wired, so URL ingestion is
	// reported as unavailable rather than crashing.
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStatusForReason(t *testing.T) {
	tests := []struct {
		reason ingest.Reason
		want   int
	}{
		{reason: ingest.ReasonInputTooLarge, want: http.StatusRequestEntityTooLarge},
		{reason: ingest.ReasonResourceExceeded, want: http.StatusRequestEntityTooLarge},
		{reason: ingest.ReasonTypeMismatch, want: http.StatusUnsupportedMediaType},
		{reason: ingest.ReasonUnsupportedFormat, want: http.StatusUnsupportedMediaType},
		{reason: ingest.ReasonEmptyInput, want: http.StatusUnprocessableEntity},
		{reason: ingest.ReasonMalformedArchive, want: http.StatusUnprocessableEntity},
		{reason: ingest.ReasonPathTraversal, want: http.StatusUnprocessableEntity},
		{reason: ingest.ReasonInvalidEncoding, want: http.StatusBadRequest},
		{reason: ingest.ReasonSSRFBlocked, want: http.StatusForbidden},
		{reason: ingest.ReasonTimeout, want: http.StatusGatewayTimeout},
		{reason: ingest.ReasonUpstreamFetchFailed, want: http.StatusBadGateway},
		{reason: ingest.ReasonInternal, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForReason(tt.reason))
		})
	}
}

type deadlineCaptureExtractor struct {
	deadline time.Time
	set      bool
}

func (e *deadlineCaptureExtractor) Extract(ctx context.Context, _ ingest.ContentUnit) (string, error) {
	e.deadline, e.set = ctx.Deadline()
	return "captured text", nil
}

func TestExtractionRunsUnderProcessingWatchdog(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.ProcessingTimeout = 5 * time.Second

	capture := &deadlineCaptureExtractor{}
	registry := extractor.NewRegistry()
	registry.Register(capture, "text/plain")

	p := pipeline.New(archive.New(nil), nil, nil)
	s := NewServer(cfg, p, registry, nil, nil)

	before := time.Now()
	rec := doJSON(t, s.routes(), http.MethodPost, "/v1/extract/base64", base64Request{
		EncodedBase64File: base64.StdEncoding.EncodeToString([]byte("plain text body")),
		Filename:          "note.txt",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.True(t, capture.set, "extraction context carries no deadline")
	assert.WithinDuration(t, before.Add(cfg.Limits.ProcessingTimeout), capture.deadline, time.Second,
		"extraction deadline is not the request watchdog")
}

func TestInternalErrorsNeverLeakDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newTestServer(t)
	s.finish(rec, "file", time.Now(), assertUnwrappedError{})

	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(ingest.ReasonInternal), body.Reason)
	assert.False(t, strings.Contains(body.Message, "secret"),
		"internal detail leaked to the caller: %q", body.Message)
}

type assertUnwrappedError struct{}

func (assertUnwrappedError) Error() string { return "secret database dsn postgres://user:pass@db" }
