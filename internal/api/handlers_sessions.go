// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/enginemgr/internal/api/middleware"
	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/telemetry"
)

const maxBodyBytes = 16 << 10

func caseNumberParam(r *http.Request) string {
	return chi.URLParam(r, "caseNumber")
}

func (s *Server) handleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	caseNumber := caseNumberParam(r)
	rec, err := s.sessions.GetOrCreate(r.Context(), caseNumber)
	if err != nil {
		var extra map[string]any
		if rec != nil {
			// The session exists even though its engine does not; the caller can delete it.
			extra = map[string]any{"orchestrationInstanceId": rec.OrchestrationInstanceID}
		}
		writeProblem(w, r, err, extra)
		return
	}

	if c := rec.LifecycleState.Compute; c != nil {
		middleware.AddSpanAttributes(r, telemetry.SessionAttributes(caseNumber, c.Key, string(c.Status))...)
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	caseNumber := caseNumberParam(r)
	middleware.AddSpanAttributes(r, telemetry.SessionAttributes(caseNumber, "", "")...)
	if err := s.sessions.Delete(r.Context(), caseNumber); err != nil {
		writeProblem(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddCollaborator(w http.ResponseWriter, r *http.Request) {
	caseNumber := caseNumberParam(r)

	var req model.CollaboratorRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeProblem(w, r, fmt.Errorf("%w: %w", model.ErrBadRequest, err), nil)
		return
	}

	if err := s.sessions.AddCollaborator(r.Context(), caseNumber, req.CollaboratorUserID); err != nil {
		writeProblem(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
