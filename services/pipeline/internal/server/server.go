package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"loanflow/internal/ratelimit"
	"loanflow/internal/servicetoken"
	"loanflow/internal/util"
	"loanflow/pkg/catalog"
	"loanflow/pkg/domain"
	"loanflow/pkg/review"
	"loanflow/pkg/store"
	"loanflow/services/pipeline/internal/app"
)

const actorHeader = "X-Actor-Id"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	UploadLimiter  *ratelimit.FixedWindowLimiter
	InternalVerify *servicetoken.Verifier
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the pipeline service.
type Server struct {
	app            *app.App
	uploadLimiter  *ratelimit.FixedWindowLimiter
	internalVerify *servicetoken.Verifier
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		uploadLimiter:  cfg.UploadLimiter,
		internalVerify: cfg.InternalVerify,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("pipeline", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/loans/", s.handleLoans)
	s.mux.HandleFunc("/documents/", s.handleDocuments)
	s.mux.Handle("/internal/loans/", s.withInternal(s.handleInternalLoan))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalVerify == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalVerify.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

// /loans/{loan}/progress
// /loans/{loan}/stages/{stage}/documents
// /loans/{loan}/stages/{stage}/progress
func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/loans/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "progress":
		s.handleLoanProgress(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "stages":
		s.handleStage(w, r, parts[0], parts[2], parts[3])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleLoanProgress(w http.ResponseWriter, r *http.Request, loanID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	progress, err := s.app.LoanProgress(r.Context(), loanID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loanId":  progress.LoanID,
		"stages":  progress.Stages,
		"overall": progress.Overall(nil),
	})
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request, loanID, rawStage, action string) {
	stage, ok := domain.ParseStage(rawStage)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stage")
		return
	}
	ctrl, err := s.app.Stage(stage, loanID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch action {
	case "documents":
		switch r.Method {
		case http.MethodPost:
			s.handleUpload(w, r, ctrl)
		case http.MethodGet:
			docs, err := ctrl.Documents()
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"items": docs,
				"count": len(docs),
			})
		default:
			methodNotAllowed(w)
		}
	case "progress":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		progress, err := ctrl.Progress()
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ctrl *app.StageController) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(actorID+":"+util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many uploads")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := ctrl.UploadDocument(r.Context(), app.UploadInput{
		DocumentID: r.FormValue("documentId"),
		Category:   r.FormValue("category"),
		Name:       r.FormValue("name"),
		FileName:   header.Filename,
		SizeBytes:  header.Size,
		UploadedBy: actorID,
		Body:       file,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /documents/{id}
// /documents/{id}/status
// /documents/{id}/comments
// /documents/{id}/download
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/documents/"), "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			doc, ok, err := s.app.GetDocument(id)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			if !ok {
				notFound(w, "document not found")
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			methodNotAllowed(w)
		}
		return
	}
	switch parts[1] {
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		s.handleSetStatus(w, r, id)
	case "comments":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAddComment(w, r, id)
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDownload(w, r, id)
	default:
		notFound(w, "not found")
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, id string) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, ok := domain.ParseDocumentStatus(req.Status)
	if !ok || status == domain.StatusPending {
		writeError(w, http.StatusBadRequest, "status must be approved or rejected")
		return
	}
	ctrl, _, err := s.app.Controller(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	doc, err := ctrl.SetStatus(r.Context(), id, status, actorID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, id string) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "comment body is required")
		return
	}
	ctrl, _, err := s.app.Controller(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	doc, err := ctrl.AddComment(r.Context(), id, actorID, req.Body)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	ctrl, _, err := s.app.Controller(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := ctrl.DeleteDocument(r.Context(), id, actorID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	url, filename, err := s.app.DownloadURL(r.Context(), id, r.URL.Query().Get("version"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

// /internal/loans/{id}/progress
func (s *Server) handleInternalLoan(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/internal/loans/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.handleLoanProgress(w, r, parts[0])
}

func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := strings.TrimSpace(r.Header.Get(actorHeader))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-Id header is required")
		return "", false
	}
	return actorID, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(w, "document not found")
	case errors.Is(err, catalog.ErrUnknownCategory), errors.Is(err, catalog.ErrUnknownStage),
		errors.Is(err, app.ErrCategoryMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
