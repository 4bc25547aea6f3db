package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/mastercactapus/hotplate/history"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/metrics"
	"github.com/mastercactapus/hotplate/recipe"
	"github.com/mastercactapus/hotplate/runner"
)

type apiOptions struct {
	Transport hotplate.Transport
	Runner    *runner.Runner
	Poller    *hotplate.Poller
	History   *history.Store
	Metrics   *metrics.Collector
	DataDir   string
}

type api struct {
	http.Handler
	apiOptions

	sse   *sse.Server
	unsub func()
}

type statusResponse struct {
	Device *hotplate.Status `json:"device,omitempty"`
	Run    runner.Status    `json:"run"`
}

type runResponse struct {
	ID       string   `json:"id"`
	Warnings []string `json:"warnings,omitempty"`
}

type runDetail struct {
	history.Run `yaml:",inline"`
	Events      []history.Record `json:"events" yaml:"events"`
}

func newAPI(opt apiOptions) *api {
	r := mux.NewRouter()

	a := &api{
		Handler:    r,
		apiOptions: opt,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
	}

	fs := http.FileServer(http.Dir(opt.DataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/stop", a.stop).Methods("POST")
	r.HandleFunc("/api/continue", a.cont).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/setpoint", a.setpoint).Methods("POST")
	r.HandleFunc("/api/heater/off", a.manual(func(t hotplate.Transport) error { return t.HeaterOff() })).Methods("POST")
	r.HandleFunc("/api/stirrer/off", a.manual(func(t hotplate.Transport) error { return t.StirrerOff() })).Methods("POST")
	r.HandleFunc("/api/runs", a.runs).Methods("GET")
	r.HandleFunc("/api/runs/{id}", a.runDetail).Methods("GET")
	r.HandleFunc("/api/ws", a.serveWS)
	if opt.Metrics != nil {
		r.Handle("/metrics", opt.Metrics.Handler()).Methods("GET")
	}
	r.PathPrefix("/events/").Handler(a.sse)

	events, unsub := opt.Runner.Subscribe()
	a.unsub = unsub
	go func() {
		for ev := range events {
			a.send("/events/progress", ev)
		}
	}()
	if opt.Poller != nil {
		go func() {
			for state := range opt.Poller.State() {
				a.send("/events/status", state)
			}
		}()
	}

	return a
}

func (a *api) send(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}

// Close stops forwarding progress events.
func (a *api) Close() {
	a.unsub()
	a.sse.Shutdown()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := string(base)
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) loadRecipe(req *http.Request) (*recipe.Recipe, error) {
	if file := req.URL.Query().Get("file"); file != "" {
		ok, name := safePath(a.DataDir, file)
		if !ok {
			return nil, fmt.Errorf("%w: invalid file name %q", recipe.ErrNoRecipe, file)
		}
		return recipe.ParseFile(name)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	name := req.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return recipe.Parse(name, string(data))
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	rec, err := a.loadRecipe(req)
	var perr *recipe.ParseError
	switch {
	case errors.Is(err, recipe.ErrNoRecipe):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.As(err, &perr):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("ERROR: load recipe: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id, err := a.Runner.Start(rec)
	if errors.Is(err, runner.ErrBusy) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("ERROR: start recipe: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := runResponse{ID: id}
	for _, warn := range recipe.Validate(rec) {
		resp.Warnings = append(resp.Warnings, warn.String())
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *api) stop(w http.ResponseWriter, req *http.Request) {
	err := a.Runner.Stop()
	if errors.Is(err, runner.ErrNotRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) cont(w http.ResponseWriter, req *http.Request) {
	err := a.Runner.Continue()
	if errors.Is(err, runner.ErrNotRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	var resp statusResponse
	if a.Poller != nil {
		if s, ok := a.Poller.CurrentState(); ok {
			resp.Device = &s
		}
	}
	resp.Run = a.Runner.Status()
	writeJSON(w, http.StatusOK, resp)
}

// manual wraps a direct device command; these are refused while a recipe runs.
func (a *api) manual(fn func(hotplate.Transport) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if a.Runner.Active() {
			http.Error(w, runner.ErrBusy.Error(), http.StatusConflict)
			return
		}
		err := fn(a.Transport)
		if err != nil {
			log.Printf("ERROR: %s: %+v", req.URL.Path, err)
			if a.Metrics != nil {
				a.Metrics.TransportError(err)
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) setpoint(w http.ResponseWriter, req *http.Request) {
	var sp hotplate.Setpoint
	err := json.NewDecoder(req.Body).Decode(&sp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.manual(func(t hotplate.Transport) error {
		return hotplate.ApplySetpoint(t, sp)
	})(w, req)
}

func (a *api) runs(w http.ResponseWriter, req *http.Request) {
	if a.History == nil {
		writeJSON(w, http.StatusOK, []history.Run{})
		return
	}
	limit := 50
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := a.History.Runs(req.Context(), limit)
	if err != nil {
		log.Printf("ERROR: list runs: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) runDetail(w http.ResponseWriter, req *http.Request) {
	if a.History == nil {
		http.NotFound(w, req)
		return
	}
	id := mux.Vars(req)["id"]
	run, err := a.History.Get(req.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		http.NotFound(w, req)
		return
	}
	if err != nil {
		log.Printf("ERROR: get run '%s': %+v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	events, err := a.History.Events(req.Context(), id)
	if err != nil {
		log.Printf("ERROR: get events '%s': %+v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []history.Record{}
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Events: events})
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.DataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.DataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}
