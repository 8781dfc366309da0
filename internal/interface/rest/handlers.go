package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	coreask "github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/infra/openai"
)

const defaultSessionID = "default"

// HealthResponse は GET /health のレスポンス
type HealthResponse struct {
	OK          bool   `json:"ok"`
	Model       string `json:"model"`
	IndexLoaded bool   `json:"index_loaded"`
}

// ChatRequest は POST /chat のリクエスト
type ChatRequest struct {
	Query     string `json:"query" validate:"required,min=2"`
	SessionID string `json:"session_id"`
}

// ChatResponse は POST /chat のレスポンス
type ChatResponse struct {
	Answer   string   `json:"answer"`
	Contexts []string `json:"contexts"`
	Model    string   `json:"model"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, HealthResponse{
		OK:          true,
		Model:       s.model,
		IndexLoaded: s.ask.IsOk(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	svc, err := coreask.Ready(s.ask)
	if err != nil {
		s.logger.Warn("chat rejected", "error", err)
		writeJSON(w, s.logger, http.StatusServiceUnavailable, ErrorResponse{
			Error: "RAG index not ready, run index build first",
		})
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest, validationResponse(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	s.logger.Info("chat request",
		"requestID", middleware.GetReqID(r.Context()),
		"sessionID", req.SessionID,
	)

	answer, err := svc.Ask(r.Context(), coreask.AskParams{Query: req.Query})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("chat failed", "status", status, "error", err)
		}
		writeJSON(w, s.logger, status, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, s.logger, http.StatusOK, ChatResponse{
		Answer:   answer.Text,
		Contexts: answer.Contexts,
		Model:    answer.Model,
	})
}

// statusFor はサービスのエラーを HTTP ステータスに対応付ける
// リトライを使い切った上流エラーは 504、それ以外の検索・生成の失敗は 502
func statusFor(err error) int {
	switch {
	case errors.Is(err, coreask.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, coreask.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, openai.ErrUpstreamUnavailable):
		return http.StatusGatewayTimeout
	case errors.Is(err, coreask.ErrRetrievalFailed), errors.Is(err, coreask.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validationResponse(err error) ErrorResponse {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrorResponse{Error: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[name] = name + " is required"
		case "min":
			fields[name] = name + " must be at least " + fe.Param() + " characters"
		default:
			fields[name] = name + " is invalid"
		}
	}
	return ErrorResponse{Error: "validation failed", Fields: fields}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}
