package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/history"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/hotplate/sim"
	"github.com/mastercactapus/hotplate/metrics"
	"github.com/mastercactapus/hotplate/runner"
)

type testAPI struct {
	*api
	plate *sim.Plate
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	plate := sim.New(20, 0)

	store, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)

	run := runner.New(runner.Options{
		Engine: engine.New(engine.Config{
			PollInterval: time.Millisecond,
			DwellTick:    time.Millisecond,
			ContinuePoll: 5 * time.Millisecond,
		}),
		Transport: plate,
		History:   store,
	})

	a := newAPI(apiOptions{
		Transport: plate,
		Runner:    run,
		Poller:    hotplate.NewPoller(plate, hotplate.PollerOptions{}),
		History:   store,
		Metrics:   metrics.New(),
		DataDir:   filepath.Join(dir, "data"),
	})
	t.Cleanup(func() {
		a.Close()
		run.Close()
		store.Close()
	})
	return &testAPI{api: a, plate: plate}
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func (a *testAPI) start(t *testing.T, target, body string) string {
	t.Helper()
	rec := a.do("POST", target, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp runResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func (a *testAPI) wait(t *testing.T, id string) engine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := a.Runner.Wait(ctx, id)
	require.NoError(t, err)
	return res
}

func waitPhase(t *testing.T, a *testAPI, p engine.Phase) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return a.Runner.Status().Phase == p
	}, 5*time.Second, time.Millisecond)
}

func TestAPI_RunLifecycle(t *testing.T) {
	a := newTestAPI(t)

	id := a.start(t, "/api/run?name=manual", "100 0 0 -1 0\n")
	waitPhase(t, a, engine.PhaseAwaitingContinue)

	assert.Equal(t, http.StatusConflict, a.do("POST", "/api/run", "50 0 0 1 0\n").Code)
	assert.Equal(t, http.StatusConflict, a.do("POST", "/api/heater/off", "").Code)
	assert.Equal(t, http.StatusConflict, a.do("POST", "/api/setpoint", `{"temperature":50}`).Code)

	rec := a.do("GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.Run.Active)
	assert.Equal(t, id, status.Run.RunID)
	assert.Equal(t, "manual", status.Run.Recipe)

	assert.Equal(t, http.StatusNoContent, a.do("POST", "/api/continue", "").Code)
	assert.Equal(t, engine.PhaseDone, a.wait(t, id).Phase)

	rec = a.do("GET", "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []history.Run
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "done", runs[0].Phase)

	rec = a.do("GET", "/api/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail runDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	require.NotEmpty(t, detail.Events)
	assert.Equal(t, engine.EventStart, detail.Events[0].Event.Type)
	assert.Equal(t, engine.EventDone, detail.Events[len(detail.Events)-1].Event.Type)

	assert.Equal(t, http.StatusNotFound, a.do("GET", "/api/runs/missing", "").Code)
}

func TestAPI_RunErrors(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("POST", "/api/run", "100 0 0 1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "line 1")

	assert.Equal(t, http.StatusNotFound, a.do("POST", "/api/run?file=missing.txt", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do("GET", "/api/run", "").Code)
}

func TestAPI_StopCancels(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusConflict, a.do("POST", "/api/stop", "").Code)
	assert.Equal(t, http.StatusConflict, a.do("POST", "/api/continue", "").Code)

	id := a.start(t, "/api/run", "100 0 0 -1 0\n")
	waitPhase(t, a, engine.PhaseAwaitingContinue)
	assert.Equal(t, http.StatusNoContent, a.do("POST", "/api/stop", "").Code)
	assert.Equal(t, engine.PhaseCancelled, a.wait(t, id).Phase)
}

func TestAPI_DataFiles(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusOK, a.do("PUT", "/data/recipes/warm.txt", "60 0 0 0 0\n").Code)
	data, err := os.ReadFile(filepath.Join(a.DataDir, "recipes", "warm.txt"))
	require.NoError(t, err)
	assert.Equal(t, "60 0 0 0 0\n", string(data))

	rec := a.do("GET", "/data/recipes/warm.txt", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60 0 0 0 0\n", rec.Body.String())

	id := a.start(t, "/api/run?file=recipes/warm.txt", "")
	assert.Equal(t, engine.PhaseDone, a.wait(t, id).Phase)
	assert.Equal(t, "warm.txt", a.Runner.Status().Recipe)

	assert.Equal(t, http.StatusOK, a.do("DELETE", "/data/recipes/warm.txt", "").Code)
	assert.Equal(t, http.StatusNotFound, a.do("GET", "/data/recipes/warm.txt", "").Code)
	assert.Equal(t, http.StatusInternalServerError, a.do("DELETE", "/data/recipes/warm.txt", "").Code)
}

func TestAPI_ManualControls(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusNoContent, a.do("POST", "/api/setpoint", `{"temperature":80,"rampRate":30,"stirSpeed":200}`).Code)
	assert.Equal(t, []string{"set_temperature", "set_ramp", "set_stir"}, a.plate.Calls())

	assert.Equal(t, http.StatusNoContent, a.do("POST", "/api/heater/off", "").Code)
	assert.Equal(t, http.StatusNoContent, a.do("POST", "/api/stirrer/off", "").Code)
	assert.Equal(t, []string{"heater_off", "stirrer_off"}, a.plate.Calls()[3:])

	assert.Equal(t, http.StatusBadRequest, a.do("POST", "/api/setpoint", "{").Code)
}

func TestAPI_Metrics(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hotplate_recipe_step")
}

func TestAPI_WebSocket(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, ws.WriteJSON(wsCommand{Action: "stop"}))
	var reply wsReply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "stop", reply.Action)
	assert.Equal(t, runner.ErrNotRunning.Error(), reply.Error)

	require.NoError(t, ws.WriteJSON(wsCommand{Action: "dance"}))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, errUnknownAction.Error(), reply.Error)

	id := a.start(t, "/api/run", "100 0 0 -1 0\n")
	for {
		var ev wsEvent
		require.NoError(t, ws.ReadJSON(&ev))
		if ev.Type == engine.EventAwaitContinue {
			assert.Equal(t, ev.Event.String(), ev.Text)
			break
		}
	}

	require.NoError(t, ws.WriteJSON(wsCommand{Action: "continue"}))
	assert.Equal(t, engine.PhaseDone, a.wait(t, id).Phase)
}
