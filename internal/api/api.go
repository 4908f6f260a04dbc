package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contentguard/internal/analyzer"
	"contentguard/internal/domain"
	"contentguard/internal/moderation"
	"contentguard/internal/ratelimit"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	defaultStatsHours   = 24
	maxStatsHours       = 24 * 365
	maxBodyBytes        = 1 << 20
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) (domain.Analysis, error)
	AnalyzeLegacy(ctx context.Context, text string) (domain.LegacyResult, error)
}

type Moderator interface {
	Moderate(ctx context.Context, text string) moderation.Report
}

type History interface {
	Recent(ctx context.Context, limit int) ([]domain.Analysis, error)
	Stats(ctx context.Context, since time.Time) (domain.AnalysisStats, error)
}

// Handler serves the HTTP API. moderator and history may be nil; their
// routes then answer 503.
type Handler struct {
	analyzer  Analyzer
	moderator Moderator
	history   History
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(an Analyzer, moderator Moderator, history History, limiter *ratelimit.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	return &Handler{
		analyzer:  an,
		moderator: moderator,
		history:   history,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// Router builds the chi router with every route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(h.limiter.Middleware("analyze")).Post("/analyze", h.Analyze)
		v1.With(h.limiter.Middleware("analyze")).Post("/analyze/legacy", h.AnalyzeLegacy)
		v1.With(h.limiter.Middleware("moderate")).Post("/moderate", h.Moderate)
		v1.With(h.limiter.Middleware("api")).Get("/history", h.History)
		v1.With(h.limiter.Middleware("api")).Get("/stats", h.Stats)
	})
	return r
}

type textRequest struct {
	Text string `json:"text"`
}

func decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return "", false
	}
	return req.Text, true
}

// Analyze handles POST /v1/analyze.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	analysis, err := h.analyzer.Analyze(r.Context(), text)
	if err != nil {
		h.analysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// AnalyzeLegacy handles POST /v1/analyze/legacy.
func (h *Handler) AnalyzeLegacy(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	legacy, err := h.analyzer.AnalyzeLegacy(r.Context(), text)
	if err != nil {
		h.analysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, legacy)
}

func (h *Handler) analysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, analyzer.ErrEmptyInput) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error("analysis failed", "error", err)
	jsonError(w, "analysis failed", http.StatusInternalServerError)
}

// Moderate handles POST /v1/moderate. Report errors are part of the body;
// an empty input is still a 400.
func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	if h.moderator == nil {
		jsonError(w, "moderation is not configured", http.StatusServiceUnavailable)
		return
	}
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	report := h.moderator.Moderate(r.Context(), text)
	status := http.StatusOK
	if !report.OK() && report.Error == moderation.ErrMsgEmptyInput {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, report)
}

// History handles GET /v1/history?limit=N.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	analyses, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing history failed", "error", err)
		jsonError(w, "failed to fetch history", http.StatusInternalServerError)
		return
	}
	if analyses == nil {
		analyses = []domain.Analysis{}
	}
	writeJSON(w, http.StatusOK, analyses)
}

// Stats handles GET /v1/stats?hours=N.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}
	hours, err := queryInt(r, "hours", defaultStatsHours, 1, maxStatsHours)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	since := h.now().Add(-time.Duration(hours) * time.Hour)
	stats, err := h.history.Stats(r.Context(), since)
	if err != nil {
		h.logger.Error("loading stats failed", "error", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_hours": hours,
		"since":        since.UTC(),
		"stats":        stats,
	})
}

func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, errors.New(name + " must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
