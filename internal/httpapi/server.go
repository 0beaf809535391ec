// Package httpapi exposes the gateway's client-facing HTTP surface: the
// three chat/completion dialect endpoints, a model listing, and a health
// probe.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/orchestrator"
)

// Server wires the orchestrator to net/http's method-pattern ServeMux.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	APIKey       string
	Version      string
	Log          zerolog.Logger
	RequestTimeout time.Duration

	mux *http.ServeMux
}

func New(orc *orchestrator.Orchestrator, apiKey string, requestTimeout time.Duration, version string, log zerolog.Logger) *Server {
	s := &Server{Orchestrator: orc, APIKey: apiKey, Version: version, Log: log, RequestTimeout: requestTimeout}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/models", s.auth("openai-chat", s.handleModels))
	s.mux.HandleFunc("POST /v1/chat/completions", s.auth("openai-chat", s.dialectHandler("openai-chat")))
	s.mux.HandleFunc("POST /v1/responses", s.auth("openai-responses", s.dialectHandler("openai-responses")))
	s.mux.HandleFunc("POST /v1/messages", s.auth("anthropic-messages", s.dialectHandler("anthropic-messages")))
}

// auth enforces the optional shared-secret gate: a configured APIKey must
// match either an `Authorization: Bearer <key>` or `x-api-key: <key>`
// header. An unset APIKey disables the gate entirely. dialectName picks the
// wire shape of the rejection body.
func (s *Server) auth(dialectName string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey == "" {
			next(w, r)
			return
		}
		provided := r.Header.Get("x-api-key")
		if provided == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided != s.APIKey {
			writeDialectError(w, dialectName, http.StatusUnauthorized, "Invalid API Key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": s.Version})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	descriptors := aimodels.All()
	data := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		data = append(data, map[string]any{
			"id":                d.ID,
			"object":            "model",
			"owned_by":          "antigravity-gateway",
			"context_window":    d.ContextWindow,
			"max_output_tokens": d.MaxOutputTokens,
			"capabilities": map[string]bool{
				"streaming": d.Streaming,
				"reasoning": d.Thinking,
			},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

// writeDialectError writes an error body in the wire shape the requesting
// dialect's own SDK expects: Anthropic's {"type":"error","error":{...}}
// envelope, or the OpenAI {"error":{...}} envelope for every other dialect.
func writeDialectError(w http.ResponseWriter, dialectName string, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errType := errorTypeForStatus(status)
	if dialectName == "anthropic-messages" {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]string{"type": errType, "message": message},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": errType, "code": nil},
	})
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}
