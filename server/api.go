// server/api.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skysim/tellotwin/sim"
	"github.com/skysim/tellotwin/util"
)

// RegisterAPI wires the JSON API onto the mux. Everything under
// /api/session/{id}/ operates on one twin; the routes mirror the
// dashboard's command flow: execute a command, get back the response plus
// the delta report, rolling metrics, and the predicted next state.
func (tm *TwinManager) RegisterAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", tm.handleCreateSession)
	mux.HandleFunc("DELETE /api/session/{id}", tm.handleDeleteSession)
	mux.HandleFunc("GET /api/session/{id}/state", tm.withSession(handleState))
	mux.HandleFunc("POST /api/session/{id}/command", tm.withSession(handleCommand))
	mux.HandleFunc("POST /api/session/{id}/pattern", tm.withSession(handlePattern))
	mux.HandleFunc("POST /api/session/{id}/reset", tm.withSession(handleReset))
	mux.HandleFunc("GET /api/session/{id}/metrics", tm.withSession(handleMetrics))
	mux.HandleFunc("GET /api/session/{id}/effectiveness", tm.withSession(handleEffectiveness))
	mux.HandleFunc("GET /api/session/{id}/predict", tm.withSession(handlePredict))
	mux.HandleFunc("GET /api/session/{id}/history", tm.withSession(handleHistory))
	mux.HandleFunc("GET /api/session/{id}/trajectory", tm.withSession(handleTrajectory))
	mux.HandleFunc("GET /api/session/{id}/archive", tm.withSession(handleArchive))
}

func (tm *TwinManager) withSession(handler func(http.ResponseWriter, *http.Request, *twinSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := tm.Lookup(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, ErrNoSession)
			return
		}
		handler(w, r, s)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"status": "error", "message": err.Error()})
}

func (tm *TwinManager) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := tm.CreateSession()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": s.id,
		"state":      s.bridge.Snapshot().Dict(),
	})
}

func (tm *TwinManager) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !tm.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

func handleState(w http.ResponseWriter, r *http.Request, s *twinSession) {
	// Reads through the API advance simulated time; this is what keeps
	// the temperatures drifting and the flight clock running for a polled
	// dashboard.
	writeJSON(w, http.StatusOK, s.bridge.Advance().Dict())
}

type commandRequest struct {
	Command sim.CommandName    `json:"command"`
	Params  *sim.CommandParams `json:"params,omitempty"`
}

func handleCommand(w http.ResponseWriter, r *http.Request, s *twinSession) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody)
		return
	}

	prev := s.bridge.Snapshot()
	resp := s.bridge.Execute(req.Command, req.Params)
	next := s.bridge.Snapshot()

	record := sim.CommandRecord{
		Command:   req.Command,
		Params:    req.Params,
		Status:    resp.Status,
		RequestID: resp.RequestID,
		Time:      resp.Time,
	}
	delta := s.analyzer.Record(prev, next, record)

	writeJSON(w, http.StatusOK, map[string]any{
		"response":        resp,
		"delta":           delta,
		"metrics":         s.analyzer.PerformanceMetrics(),
		"predicted_state": s.analyzer.PredictNextState(next, record),
	})
}

type patternRequest struct {
	Pattern  sim.PatternName `json:"pattern"`
	SizeCm   float64         `json:"size_cm,omitempty"`
	RadiusCm float64         `json:"radius_cm,omitempty"`
	HeightCm float64         `json:"height_cm,omitempty"`
}

// args maps the request onto the pattern generator's two parameter slots.
func (pr patternRequest) args() (float64, float64) {
	switch pr.Pattern {
	case sim.PatternSpiral, sim.PatternCircle:
		return pr.RadiusCm, pr.HeightCm
	default:
		return pr.SizeCm, 0
	}
}

func handlePattern(w http.ResponseWriter, r *http.Request, s *twinSession) {
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody)
		return
	}

	a, b := req.args()
	estimate := sim.EstimateDuration(s.patterns.Plan(req.Pattern, a, b))

	results, err := s.patterns.Run(req.Pattern, a, b)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	succeeded := len(util.FilterSlice(results,
		func(r sim.CommandResponse) bool { return r.Status == sim.StatusSuccess }))
	writeJSON(w, http.StatusOK, map[string]any{
		"pattern":           req.Pattern,
		"results":           results,
		"commands_executed": len(results),
		"succeeded":         succeeded,
		"estimated_ms":      estimate.Milliseconds(),
		"state":             s.bridge.Snapshot().Dict(),
	})
}

func handleReset(w http.ResponseWriter, r *http.Request, s *twinSession) {
	s.bridge.Reset()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"state":  s.bridge.Snapshot().Dict(),
	})
}

func handleMetrics(w http.ResponseWriter, r *http.Request, s *twinSession) {
	writeJSON(w, http.StatusOK, map[string]any{"metrics": s.analyzer.PerformanceMetrics()})
}

func handleEffectiveness(w http.ResponseWriter, r *http.Request, s *twinSession) {
	writeJSON(w, http.StatusOK, map[string]any{"effectiveness": s.analyzer.CommandEffectiveness()})
}

func handlePredict(w http.ResponseWriter, r *http.Request, s *twinSession) {
	current := s.bridge.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"current_state":   current,
		"predicted_state": s.analyzer.PredictNextState(current, sim.CommandRecord{}),
	})
}

func handleHistory(w http.ResponseWriter, r *http.Request, s *twinSession) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history":  s.bridge.History(),
		"commands": s.analyzer.CommandHistory(),
	})
}

func handleTrajectory(w http.ResponseWriter, r *http.Request, s *twinSession) {
	writeJSON(w, http.StatusOK, map[string]any{"trajectory": s.analyzer.Trajectory()})
}

// SessionArchive is the downloadable record of a session, encoded
// msgpack+zstd.
type SessionArchive struct {
	SessionID string              `msgpack:"session_id"`
	Created   time.Time           `msgpack:"created"`
	Exported  time.Time           `msgpack:"exported"`
	States    []sim.RecordedState `msgpack:"states"`
	Commands  []sim.CommandRecord `msgpack:"commands"`
	History   []sim.HistoryEntry  `msgpack:"history"`
}

func handleArchive(w http.ResponseWriter, r *http.Request, s *twinSession) {
	archive := SessionArchive{
		SessionID: s.id,
		Created:   s.created,
		Exported:  time.Now(),
		States:    s.analyzer.StateHistory(),
		Commands:  s.analyzer.CommandHistory(),
		History:   s.bridge.History(),
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "tellotwin-"+s.id+".mpz"))
	if err := util.EncodeArchive(w, archive); err != nil {
		writeError(w, http.StatusInternalServerError, err)
	}
}
