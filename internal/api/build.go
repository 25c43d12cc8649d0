package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/auth"
	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/knowledge"
)

type buildResponse struct {
	knowledge.BuildState
	Started bool `json:"started"`
}

func handleStartBuild(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Builder == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "BUILD_NOT_CONFIGURED", "build dependencies are not configured", false, nil)
		return
	}
	if err := auth.Authorize(r.Context(), auth.RoleBuildAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	connectionID := strings.TrimSpace(r.PathValue("id"))

	state, started, err := deps.Builder.StartBuild(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, connections.ErrConnectionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", err.Error(), false, map[string]any{"connection_id": connectionID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "BUILD_START_FAILED", err.Error(), true, nil)
		return
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	writeJSON(w, status, buildResponse{BuildState: state, Started: started})
}

func handleBuildStatus(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Builder == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "BUILD_NOT_CONFIGURED", "build dependencies are not configured", false, nil)
		return
	}
	if err := auth.Authorize(r.Context(), auth.RoleAskReader, auth.RoleBuildAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	state, err := deps.Builder.Status(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "BUILD_STATUS_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
