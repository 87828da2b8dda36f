package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"reefstitch/internal/config"
	"reefstitch/internal/pipeline"
	"reefstitch/internal/storage"
)

// Server exposes the run ledger, pipeline results and output artifacts over HTTP.
type Server struct {
	addr       string
	store      *storage.Store
	pipeline   *pipeline.Pipeline
	outputRoot string
	log        *slog.Logger
	server     *http.Server
	hub        *hub
	upgrader   websocket.Upgrader
}

// NewServer creates a server for the projects under outputRoot.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, outputRoot string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:       addr,
		store:      store,
		pipeline:   pipe,
		outputRoot: outputRoot,
		log:        log,
		hub:        newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startBackground(ctx); err != nil {
		return err
	}
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr, "output", s.outputRoot)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startBackground forwards pipeline results and artifact changes to
// websocket clients until ctx ends.
func (s *Server) startBackground(ctx context.Context) error {
	if s.pipeline != nil {
		results, unsubscribe := s.pipeline.Subscribe()
		go func() {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case res, ok := <-results:
					if !ok {
						return
					}
					s.hub.publish(message{Type: "result", Data: newResultMessage(res)})
				}
			}
		}()
	}
	if s.outputRoot == "" {
		return nil
	}
	w, err := newArtifactWatcher(s.outputRoot, s.log)
	if err != nil {
		s.log.Warn("artifact watching disabled", "root", s.outputRoot, "error", err)
		return nil
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	go func() {
		for ev := range w.Events {
			s.hub.publish(message{Type: "artifact", Data: ev})
		}
	}()
	return nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.HandleFunc("/projects/run", s.handleRun).Methods("POST")
	r.HandleFunc("/projects/{name}/mosaics", s.handleMosaics).Methods("GET")
	r.HandleFunc("/projects/{name}/overlays", s.handleOverlays).Methods("GET")
	if s.outputRoot != "" {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(s.outputRoot))))
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleMosaics(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Mosaics(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleOverlays(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Overlays(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// handleRun queues a whole-project run. The body is a project record.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var p config.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "decode project: "+err.Error(), http.StatusBadRequest)
		return
	}
	root, err := s.confine(p.OutputRoot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.OutputRoot = root
	var stages []string
	for _, st := range config.Stages {
		if p.Enabled(st) {
			stages = append(stages, st)
		}
	}
	if err := p.Validate(stages...); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job := pipeline.NewJob(&p, pipeline.JobRun)
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"id": job.ID})
}

// confine resolves a requested output root against the server's. Empty means
// the server's root; anything else must lie inside it.
func (s *Server) confine(requested string) (string, error) {
	if requested == "" {
		return s.outputRoot, nil
	}
	if s.outputRoot == "" {
		return "", config.Errorf("output_root", "this server does not accept an output root")
	}
	base, err := filepath.Abs(s.outputRoot)
	if err != nil {
		return "", err
	}
	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", config.Errorf("output_root", "output root %q is outside %s", requested, s.outputRoot)
	}
	return target, nil
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newResultMessage(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.register(conn)

	// reads only detect the close
	go func() {
		defer s.hub.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
