// Package httpapi serves the JSON HTTP API for study evaluation and
// reference document uploads.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bull/irb-compliance/internal/evaluator"
	"github.com/bull/irb-compliance/internal/ingest"
	"github.com/bull/irb-compliance/internal/storage"
)

const maxBodyBytes = 10 << 20

// Evaluator evaluates one study description.
type Evaluator interface {
	Query(ctx context.Context, study string) (*evaluator.Result, error)
}

// Ingester adds a reference document to the index.
type Ingester interface {
	AddDocument(ctx context.Context, doc storage.Document) (string, int, error)
}

// Backend is the pipeline the API serves once it is ready.
type Backend struct {
	Evaluator Evaluator
	Ingest    Ingester
}

// Handler serves the /api routes. Until SetBackend is called every request
// gets 503.
type Handler struct {
	backend atomic.Pointer[Backend]
	timeout time.Duration
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a Handler. timeout bounds a whole evaluation; zero disables it.
func New(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{timeout: timeout, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/evaluate-study", h.evaluateStudy)
	h.mux.HandleFunc("POST /api/add-document", h.addDocument)
	return h
}

// SetBackend marks the API ready.
func (h *Handler) SetBackend(b *Backend) {
	h.backend.Store(b)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// EvaluateRequest is the body of POST /api/evaluate-study.
type EvaluateRequest struct {
	Description string `json:"description"`
}

// Failure is a skipped chunk.
type Failure struct {
	Section string `json:"section"`
	Chunk   int    `json:"chunk"`
	Error   string `json:"error"`
}

// EvaluateResponse is the result of POST /api/evaluate-study.
type EvaluateResponse struct {
	Summary        string    `json:"summary"`
	FullEvaluation string    `json:"fullEvaluation"`
	Failures       []Failure `json:"failures"`
	Warnings       []string  `json:"warnings"`
}

// AddDocumentRequest is the body of POST /api/add-document.
type AddDocumentRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AddDocumentResponse is the result of POST /api/add-document.
type AddDocumentResponse struct {
	ID     string `json:"id"`
	Chunks int    `json:"chunks"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) evaluateStudy(w http.ResponseWriter, r *http.Request) {
	b := h.backend.Load()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "System is still initializing", "")
		return
	}

	var req EvaluateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "Study description is required", "")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := b.Evaluator.Query(ctx, req.Description)
	if err != nil {
		h.logger.Error("Study evaluation failed", "error", err)
		switch {
		case errors.Is(err, evaluator.ErrEmptyStudy):
			writeError(w, http.StatusBadRequest, "Study description is required", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "Study evaluation timed out", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to evaluate study", err.Error())
		}
		return
	}

	resp := EvaluateResponse{
		Summary:        res.Summary,
		FullEvaluation: res.FullEvaluation,
		Failures:       make([]Failure, 0, len(res.Failures)),
		Warnings:       res.Warnings,
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, Failure{Section: f.Section, Chunk: f.Chunk, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addDocument(w http.ResponseWriter, r *http.Request) {
	b := h.backend.Load()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "System is still initializing", "")
		return
	}

	var req AddDocumentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Document content is required", "")
		return
	}

	doc := storage.Document{
		ID:      req.ID,
		Content: req.Content,
		Metadata: storage.DocumentMetadata{
			Title:      req.Title,
			Attributes: map[string]string{"source": "upload"},
		},
	}
	id, chunks, err := b.Ingest.AddDocument(r.Context(), doc)
	if err != nil {
		h.logger.Error("Add document failed", "id", id, "error", err)
		if errors.Is(err, ingest.ErrEmptyDocument) {
			writeError(w, http.StatusBadRequest, "Document content is required", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to add document", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AddDocumentResponse{ID: id, Chunks: chunks})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
