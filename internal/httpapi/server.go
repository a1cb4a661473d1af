// Package httpapi exposes the clinical pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joelkehle/clinical-agents/internal/archive"
	"github.com/joelkehle/clinical-agents/internal/clinical"
	"github.com/joelkehle/clinical-agents/internal/render"
)

const maxBodyBytes = 1 << 20

type Analyzer interface {
	Run(ctx context.Context, in clinical.PatientInput) (clinical.State, error)
}

// Archive stores completed runs. It is optional; without one the /v1/analyses
// routes answer 404.
type Archive interface {
	Save(ctx context.Context, st clinical.State) error
	Get(ctx context.Context, id string) (clinical.State, error)
	List(ctx context.Context, limit int) ([]archive.Entry, error)
}

type Server struct {
	analyzer Analyzer
	renderer render.Renderer
	archive  Archive
	logger   *zap.Logger
}

type Option func(*Server)

func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(analyzer Analyzer, renderer render.Renderer, opts ...Option) http.Handler {
	s := &Server{analyzer: analyzer, renderer: renderer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/symptom-analyzer", s.handleStage(func(st clinical.State) any { return st.SymptomAnalysis }))
	r.Post("/literature", s.handleStage(func(st clinical.State) any { return st.Literature }))
	r.Post("/case-matcher", s.handleStage(func(st clinical.State) any { return st.CaseMatcher }))
	r.Post("/treatment", s.handleStage(func(st clinical.State) any { return st.Treatment }))
	r.Post("/summary", s.handleStage(func(st clinical.State) any { return st.Summary }))
	r.Post("/generate-pdf", s.handleGeneratePDF)

	r.Route("/v1/analyses", func(r chi.Router) {
		r.Get("/", s.handleListAnalyses)
		r.Get("/{id}", s.handleGetAnalysis)
		r.Get("/{id}/pdf", s.handleAnalysisPDF)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// writeJSON encodes before writing the status so an encoding failure still
// reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writePDF(w http.ResponseWriter, pdf []byte, filename string) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Clinical agents API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "archive": s.archive != nil})
}

// decodePatient requires a symptoms key; an empty value is allowed and runs
// the pipeline's no-query path.
func decodePatient(r *http.Request) (clinical.PatientInput, error) {
	var in clinical.PatientInput
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return in, err
	}
	var probe struct {
		Symptoms *string `json:"symptoms"`
	}
	if err := json.Unmarshal(blob, &probe); err != nil {
		return in, errors.New("invalid JSON body")
	}
	if probe.Symptoms == nil {
		return in, errors.New("symptoms is required")
	}
	if err := json.Unmarshal(blob, &in); err != nil {
		return in, errors.New("invalid JSON body")
	}
	return in, nil
}

// run executes the pipeline and archives the result. It writes the error
// response itself and reports whether the caller should continue.
func (s *Server) run(w http.ResponseWriter, r *http.Request) (clinical.State, bool) {
	in, err := decodePatient(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return clinical.State{}, false
	}
	st, err := s.analyzer.Run(r.Context(), in)
	if err != nil {
		s.logger.Error("analyze_failed", zap.Error(err), zap.String("stage", clinical.StageNameFromError(err)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
			"stage": clinical.StageNameFromError(err),
		})
		return clinical.State{}, false
	}
	if s.archive != nil {
		if err := s.archive.Save(r.Context(), st); err != nil {
			s.logger.Warn("archive_save_failed", zap.Error(err), zap.String("run_id", st.Metadata.RunID))
		}
	}
	return st, true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	st, ok := s.run(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Analysis-ID", st.Metadata.RunID)
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStage(pick func(clinical.State) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := s.run(w, r)
		if !ok {
			return
		}
		out := pick(st)
		if out == nil {
			out = map[string]any{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleGeneratePDF(w http.ResponseWriter, r *http.Request) {
	var in clinical.ReportInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.Empty() {
		writeError(w, http.StatusBadRequest, "No analysis sections provided for PDF.")
		return
	}
	s.renderPDF(w, r, in)
}

func (s *Server) renderPDF(w http.ResponseWriter, r *http.Request, in clinical.ReportInput) {
	pdf, err := s.renderer.Render(r.Context(), in)
	if err != nil {
		s.logger.Error("pdf_render_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writePDF(w, pdf, "analysis_report.pdf")
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.archive.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": entries})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return archive.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) loadAnalysis(w http.ResponseWriter, r *http.Request) (clinical.State, bool) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return clinical.State{}, false
	}
	st, err := s.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return clinical.State{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return clinical.State{}, false
	}
	return st, true
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.loadAnalysis(w, r); ok {
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleAnalysisPDF(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.loadAnalysis(w, r); ok {
		s.renderPDF(w, r, clinical.ReportInputFromState(st))
	}
}
