package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/ask"
	"github.com/sqlpilot/sqlpilot/internal/auth"
	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/stream"
)

type askRequest struct {
	Question     string `json:"question"`
	ConnectionID string `json:"connection_id"`
	Dialect      string `json:"dialect"`
	Execute      bool   `json:"execute"`
	AllowWrite   bool   `json:"allow_write"`
	TopK         int    `json:"top_k"`
	Explain      bool   `json:"explain"`
}

func (r askRequest) options() ask.AskOptions {
	return ask.AskOptions{
		ConnectionID: strings.TrimSpace(r.ConnectionID),
		Dialect:      r.Dialect,
		Execute:      r.Execute,
		AllowWrite:   r.AllowWrite,
		TopK:         r.TopK,
		Explain:      r.Explain,
	}
}

// decodeAskRequest writes the error response itself and returns ok=false
// when the request cannot proceed.
func decodeAskRequest(deps Dependencies, w http.ResponseWriter, r *http.Request) (askRequest, bool) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return askRequest{}, false
	}
	if err := auth.Authorize(r.Context(), auth.RoleAskReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return askRequest{}, false
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return askRequest{}, false
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return askRequest{}, false
	}
	if strings.TrimSpace(request.ConnectionID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_REQUIRED", "connection_id is required", false, nil)
		return askRequest{}, false
	}
	if request.AllowWrite {
		if err := auth.Authorize(r.Context(), auth.RoleAskWriter); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", "allow_write requires the ask_writer role", false, nil)
			return askRequest{}, false
		}
	}
	return request, true
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := decodeAskRequest(deps, w, r)
	if !ok {
		return
	}
	result, err := deps.Asker.Ask(r.Context(), request.Question, request.options())
	if err != nil {
		writeAskError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleAskStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := decodeAskRequest(deps, w, r)
	if !ok {
		return
	}

	controller := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var writeErr error
	_, err := deps.Asker.AskStream(r.Context(), request.Question, request.options(), func(ev stream.Event) {
		if writeErr != nil {
			return
		}
		if writeErr = stream.WriteSSE(w, ev); writeErr != nil {
			return
		}
		_ = controller.Flush()
	})
	if deps.Logger == nil {
		return
	}
	if err != nil {
		deps.Logger.InfoContext(r.Context(), "ask stream ended with error", slog.Any("error", err))
	}
	if writeErr != nil {
		deps.Logger.WarnContext(r.Context(), "ask stream write failed", slog.Any("error", writeErr))
	}
}

func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		configErr *ask.ConfigError
		genErr    *generation.Error
	)
	switch {
	case errors.Is(err, ask.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, connections.ErrConnectionNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", err.Error(), false, nil)
	case errors.As(err, &configErr):
		writeError(r.Context(), w, http.StatusBadRequest, "CONFIGURATION_ERROR", err.Error(), false, nil)
	case errors.As(err, &genErr):
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), genErr.Retryable, map[string]any{"kind": genErr.Kind})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "ASK_FAILED", err.Error(), true, nil)
	}
}
