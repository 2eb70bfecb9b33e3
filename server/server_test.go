// server/server_test.go
// Copyright(c) 2026 tellotwin contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skysim/tellotwin/log"
	"github.com/skysim/tellotwin/sim"
	"github.com/skysim/tellotwin/util"
)

func testManager(t *testing.T) *TwinManager {
	t.Helper()
	var lg *log.Logger
	cfg := Config{
		ProcessingDelay: 0,
		SettleDelay:     0,
		SessionTTL:      time.Hour,
		Seed:            1,
	}
	tm := NewTwinManager(cfg, nil, lg)
	t.Cleanup(tm.Shutdown)
	return tm
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("%s %s: undecodable response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, decoded
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	code, resp := doJSON(t, h, "POST", "/api/session", nil)
	if code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	id, ok := resp["session_id"].(string)
	if !ok || id == "" {
		t.Fatalf("create session: no session_id in %v", resp)
	}
	return id
}

func TestCreateSessionAndState(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	code, state := doJSON(t, h, "GET", "/api/session/"+id+"/state", nil)
	if code != http.StatusOK {
		t.Fatalf("state: status %d", code)
	}
	if state["battery"] != 100.0 {
		t.Errorf("battery %v, expected 100", state["battery"])
	}
	if state["is_flying"] != false {
		t.Errorf("is_flying %v on a fresh twin", state["is_flying"])
	}
	if state["flight_mode"] != "slow" {
		t.Errorf("flight_mode %v, expected slow", state["flight_mode"])
	}
}

func TestUnknownSession(t *testing.T) {
	h := testManager(t).Handler()
	code, resp := doJSON(t, h, "GET", "/api/session/nonesuch/state", nil)
	if code != http.StatusNotFound {
		t.Errorf("status %d, expected 404", code)
	}
	if resp["message"] != ErrNoSession.Error() {
		t.Errorf("message %v", resp["message"])
	}
}

func TestCommandFlow(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)
	path := "/api/session/" + id + "/command"

	code, resp := doJSON(t, h, "POST", path, commandRequest{Command: sim.CmdTakeoff})
	if code != http.StatusOK {
		t.Fatalf("command: status %d", code)
	}
	cr := resp["response"].(map[string]any)
	if cr["status"] != "success" {
		t.Errorf("takeoff status %v: %v", cr["status"], cr)
	}
	if resp["delta"] == nil || resp["predicted_state"] == nil {
		t.Errorf("missing delta/prediction in %v", resp)
	}

	// A second takeoff is rejected but still costs battery.
	_, resp = doJSON(t, h, "POST", path, commandRequest{Command: sim.CmdTakeoff})
	cr = resp["response"].(map[string]any)
	if cr["status"] != "error" {
		t.Errorf("second takeoff status %v", cr["status"])
	}
	if msg := cr["result"].(map[string]any)["message"]; msg != sim.ErrAlreadyFlying.Error() {
		t.Errorf("message %v", msg)
	}

	_, state := doJSON(t, h, "GET", "/api/session/"+id+"/state", nil)
	if state["battery"].(float64) >= 100 {
		t.Errorf("battery %v after two commands", state["battery"])
	}
}

func TestCommandBadBody(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	r := httptest.NewRequest("POST", "/api/session/"+id+"/command", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, expected 400", w.Code)
	}
}

func TestPatternEndpoint(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})

	code, resp := doJSON(t, h, "POST", "/api/session/"+id+"/pattern",
		patternRequest{Pattern: sim.PatternSquare, SizeCm: 100})
	if code != http.StatusOK {
		t.Fatalf("pattern: status %d: %v", code, resp)
	}
	if resp["commands_executed"] != 8.0 || resp["succeeded"] != 8.0 {
		t.Errorf("executed %v succeeded %v, expected 8/8",
			resp["commands_executed"], resp["succeeded"])
	}
	// 4 one-meter legs at 50 cm/s plus 4 90° turns at 90°/s.
	if resp["estimated_ms"] != 12000.0 {
		t.Errorf("estimated_ms %v, expected 12000", resp["estimated_ms"])
	}
}

func TestPatternUnknownName(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	code, resp := doJSON(t, h, "POST", "/api/session/"+id+"/pattern",
		patternRequest{Pattern: "zigzag", SizeCm: 100})
	if code != http.StatusBadRequest {
		t.Errorf("status %d, expected 400: %v", code, resp)
	}
}

func TestPatternInvalidSize(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})

	// A known pattern with an out-of-bounds size reports the rejection in
	// the results, not as an HTTP error.
	code, resp := doJSON(t, h, "POST", "/api/session/"+id+"/pattern",
		patternRequest{Pattern: sim.PatternSquare, SizeCm: 10})
	if code != http.StatusOK {
		t.Fatalf("status %d: %v", code, resp)
	}
	if resp["commands_executed"] != 1.0 || resp["succeeded"] != 0.0 {
		t.Errorf("executed %v succeeded %v, expected 1/0",
			resp["commands_executed"], resp["succeeded"])
	}
}

func TestResetEndpoint(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})
	code, resp := doJSON(t, h, "POST", "/api/session/"+id+"/reset", nil)
	if code != http.StatusOK {
		t.Fatalf("reset: status %d", code)
	}
	state := resp["state"].(map[string]any)
	if state["is_flying"] != false || state["battery"] != 100.0 {
		t.Errorf("state after reset: %v", state)
	}
}

func TestHistoryAndTrajectory(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})
	doJSON(t, h, "POST", "/api/session/"+id+"/command",
		commandRequest{Command: sim.CmdMove, Params: &sim.CommandParams{Direction: "forward", DistanceCm: 100}})

	_, resp := doJSON(t, h, "GET", "/api/session/"+id+"/history", nil)
	if n := len(resp["history"].([]any)); n != 2 {
		t.Errorf("%d history entries, expected 2", n)
	}
	if n := len(resp["commands"].([]any)); n != 2 {
		t.Errorf("%d command records, expected 2", n)
	}

	_, resp = doJSON(t, h, "GET", "/api/session/"+id+"/trajectory", nil)
	traj := resp["trajectory"].([]any)
	if len(traj) != 2 {
		t.Fatalf("%d trajectory points, expected 2", len(traj))
	}
}

func TestMetricsEffectivenessPredict(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	code, resp := doJSON(t, h, "GET", "/api/session/"+id+"/metrics", nil)
	if code != http.StatusOK || resp["metrics"] != nil {
		t.Errorf("metrics on empty history: %d %v", code, resp)
	}

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})
	for i := range 3 {
		doJSON(t, h, "POST", "/api/session/"+id+"/command",
			commandRequest{Command: sim.CmdMove,
				Params: &sim.CommandParams{Direction: "forward", DistanceCm: float64(50 + i*10)}})
	}

	_, resp = doJSON(t, h, "GET", "/api/session/"+id+"/metrics", nil)
	if resp["metrics"] == nil {
		t.Error("no metrics after four commands")
	}
	_, resp = doJSON(t, h, "GET", "/api/session/"+id+"/effectiveness", nil)
	eff := resp["effectiveness"].(map[string]any)
	if eff["move"] == nil {
		t.Errorf("no effectiveness for move: %v", eff)
	}
	_, resp = doJSON(t, h, "GET", "/api/session/"+id+"/predict", nil)
	if resp["predicted_state"] == nil || resp["current_state"] == nil {
		t.Errorf("predict response incomplete: %v", resp)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	doJSON(t, h, "POST", "/api/session/"+id+"/command", commandRequest{Command: sim.CmdTakeoff})
	doJSON(t, h, "POST", "/api/session/"+id+"/command",
		commandRequest{Command: sim.CmdMove, Params: &sim.CommandParams{Direction: "up", DistanceCm: 100}})

	r := httptest.NewRequest("GET", "/api/session/"+id+"/archive", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("archive: status %d", w.Code)
	}

	var archive SessionArchive
	if err := util.DecodeArchive(w.Body, &archive); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if archive.SessionID != id {
		t.Errorf("archive session %q, expected %q", archive.SessionID, id)
	}
	if len(archive.States) != 2 || len(archive.Commands) != 2 || len(archive.History) != 2 {
		t.Errorf("archive sizes %d/%d/%d, expected 2/2/2",
			len(archive.States), len(archive.Commands), len(archive.History))
	}
}

func TestDeleteSession(t *testing.T) {
	h := testManager(t).Handler()
	id := createSession(t, h)

	code, _ := doJSON(t, h, "DELETE", "/api/session/"+id, nil)
	if code != http.StatusOK {
		t.Errorf("delete: status %d", code)
	}
	code, _ = doJSON(t, h, "GET", "/api/session/"+id+"/state", nil)
	if code != http.StatusNotFound {
		t.Errorf("state after delete: status %d", code)
	}
	code, _ = doJSON(t, h, "DELETE", "/api/session/"+id, nil)
	if code != http.StatusNotFound {
		t.Errorf("double delete: status %d", code)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := testManager(t).Handler()
	a := createSession(t, h)
	b := createSession(t, h)
	if a == b {
		t.Fatal("duplicate session ids")
	}

	doJSON(t, h, "POST", "/api/session/"+a+"/command", commandRequest{Command: sim.CmdTakeoff})
	_, stateB := doJSON(t, h, "GET", "/api/session/"+b+"/state", nil)
	if stateB["is_flying"] != false {
		t.Error("takeoff in one session leaked into another")
	}
}

func TestManagerStatus(t *testing.T) {
	tm := testManager(t)
	h := tm.Handler()
	for range 3 {
		createSession(t, h)
	}

	status := tm.GetTwinStatus()
	if len(status) != 3 {
		t.Fatalf("%d sessions in status, expected 3", len(status))
	}
	for _, ts := range status {
		if ts.Battery != 100 || ts.Flying {
			t.Errorf("unexpected status %+v", ts)
		}
	}
}

func TestManagerEvictsAtCap(t *testing.T) {
	tm := testManager(t)

	first := tm.CreateSession()
	for range maxSessions {
		tm.CreateSession()
	}
	if _, ok := tm.Lookup(first.id); ok {
		t.Error("oldest session survived past the cap")
	}
}

func TestStatusPage(t *testing.T) {
	tm := testManager(t)
	h := tm.Handler()
	createSession(t, h)

	r := httptest.NewRequest("GET", "/sup", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("/sup: status %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Server Status", "Twin Status", "100.0%"} {
		if !strings.Contains(body, want) {
			t.Errorf("/sup response missing %q", want)
		}
	}
}

func TestDumpPage(t *testing.T) {
	tm := testManager(t)
	h := tm.Handler()
	id := createSession(t, h)

	r := httptest.NewRequest("GET", "/debug/sessions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("/debug/sessions: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), id) {
		t.Error("dump does not mention the session id")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := MakeConfig()
	if cfg.Port != TwinHTTPServerPort {
		t.Errorf("port %d", cfg.Port)
	}
	if cfg.ProcessingDelay != sim.DefaultProcessingDelay || cfg.SettleDelay != sim.DefaultSettleDelay {
		t.Errorf("delays %v/%v", cfg.ProcessingDelay, cfg.SettleDelay)
	}
	if fmt.Sprint(cfg.SessionTTL) != "4h0m0s" {
		t.Errorf("ttl %v", cfg.SessionTTL)
	}
}
