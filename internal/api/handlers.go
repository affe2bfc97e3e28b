package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storygate/internal/gateway"
	"storygate/internal/middleware"
	"storygate/internal/models"
	"storygate/internal/normalize"
	"storygate/internal/store"
	"storygate/internal/upstream"
)

var validate = validator.New()

type Server struct {
	Gateway *gateway.Gateway
	Store   *store.Store
	Logger  *zap.Logger
}

type textRequest struct {
	System      string           `json:"system"`
	Prompt      string           `json:"prompt" validate:"required_without=Messages"`
	Messages    []models.Message `json:"messages"`
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int              `json:"max_tokens" validate:"gte=0"`
}

func (r textRequest) params() gateway.TextParams {
	return gateway.TextParams{
		System:      r.System,
		Prompt:      r.Prompt,
		Messages:    r.Messages,
		Model:       r.Model,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

type structuredRequest struct {
	textRequest
	Fallback string `json:"fallback" validate:"omitempty,oneof=bare character storyboard"`
	Name     string `json:"name"`
}

type imageRequest struct {
	Prompt string `json:"prompt" validate:"required"`
	Size   string `json:"size"`
	Model  string `json:"model"`
}

type videoRequest struct {
	ImageURLs []string `json:"image_urls" validate:"max=2,dive,required"`
	Prompt    string   `json:"prompt" validate:"required_without=ImageURLs"`
	Quality   string   `json:"quality" validate:"omitempty,oneof=speed quality"`
	Size      string   `json:"size"`
	FPS       int      `json:"fps" validate:"omitempty,oneof=30 60"`
	Model     string   `json:"model"`
}

type mediaRequest struct {
	URL       string `json:"url" validate:"required"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0"`
	Fallback  string `json:"fallback" validate:"omitempty,oneof=bare character storyboard"`
	Name      string `json:"name"`
}

type searchRequest struct {
	Query     string `json:"query" validate:"required"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens" validate:"gte=0"`
	Fallback  string `json:"fallback" validate:"omitempty,oneof=bare character storyboard"`
	Name      string `json:"name"`
}

func (s *Server) TextGenerate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.Gateway.GenerateText(r.Context(), req.params())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

// TextStream relays generated text as plain chunks. Once the first chunk
// is flushed an upstream failure can only end the body early.
func (s *Server) TextStream(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	started := false
	err := s.Gateway.StreamText(r.Context(), req.params(), func(token string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			started = true
		}
		if _, err := w.Write([]byte(token)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err == nil {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		}
		return
	}
	if !started {
		s.fail(w, r, err)
		return
	}
	s.Logger.Warn("stream ended early", zap.String("request_id", gateway.RequestIDFrom(r.Context())), zap.Error(err))
}

func (s *Server) Structured(w http.ResponseWriter, r *http.Request) {
	var req structuredRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Gateway.GenerateStructured(r.Context(), req.params(), normalize.Named(req.Fallback, req.Name))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) Image(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !decode(w, r, &req) {
		return
	}
	url, err := s.Gateway.GenerateImage(r.Context(), gateway.ImageParams{Prompt: req.Prompt, Size: req.Size, Model: req.Model})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"url": url})
}

func (s *Server) Video(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := s.Gateway.GenerateVideo(r.Context(), gateway.VideoParams{
		ImageURLs: req.ImageURLs,
		Prompt:    req.Prompt,
		Quality:   req.Quality,
		Size:      req.Size,
		FPS:       req.FPS,
		Model:     req.Model,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, job)
}

func (s *Server) VisionImage(w http.ResponseWriter, r *http.Request) {
	s.vision(w, r, s.Gateway.AnalyzeImage)
}

func (s *Server) VisionVideo(w http.ResponseWriter, r *http.Request) {
	s.vision(w, r, s.Gateway.AnalyzeVideo)
}

func (s *Server) vision(w http.ResponseWriter, r *http.Request, analyze func(context.Context, gateway.MediaParams) (gateway.Analysis, error)) {
	var req mediaRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := analyze(r.Context(), gateway.MediaParams{
		URL:       req.URL,
		Prompt:    req.Prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Fallback:  normalize.Named(req.Fallback, req.Name),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.Gateway.WebSearch(r.Context(), gateway.SearchParams{
		Query:     req.Query,
		Prompt:    req.Prompt,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Fallback:  normalize.Named(req.Fallback, req.Name),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) AdminCalls(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "call ledger disabled", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := s.Store.ListCallLogs(r.Context(), r.URL.Query().Get("capability"), limit)
	if err != nil {
		s.Logger.Error("list calls failed", zap.Error(err))
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []models.CallLog{}
	}
	writeJSON(w, logs)
}

func (s *Server) AdminCall(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "call ledger disabled", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	l, err := s.Store.GetCallLog(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load call", http.StatusInternalServerError)
		return
	}
	writeJSON(w, l)
}

// AdminUsage aggregates the ledger over ?window= (default 24h).
func (s *Server) AdminUsage(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "call ledger disabled", http.StatusServiceUnavailable)
		return
	}
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}
	usage, err := s.Store.SummarizeUsage(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		s.Logger.Error("summarize usage failed", zap.Error(err))
		http.Error(w, "failed to summarize usage", http.StatusInternalServerError)
		return
	}
	if usage == nil {
		usage = []models.CapabilityUsage{}
	}
	writeJSON(w, usage)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeStatus(w, http.StatusBadRequest, models.ErrorDetail{Message: "invalid json", Type: "invalid_request", Code: "invalid_json"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeStatus(w, http.StatusBadRequest, models.ErrorDetail{Message: err.Error(), Type: "invalid_request", Code: "validation_failed"})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.Logger.Info("request failed",
		zap.String("request_id", gateway.RequestIDFrom(r.Context())),
		zap.String("client", middleware.ClientFromContext(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	)
	code := upstream.KindName(err)
	if code == "" {
		code = "upstream_failed"
	}
	writeStatus(w, status, models.ErrorDetail{Message: err.Error(), Type: "upstream_error", Code: code})
}

// statusFor maps gateway error kinds to client statuses. Credential problems
// are the gateway's, so the caller sees them as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, upstream.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, upstream.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, d models.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: d})
}
