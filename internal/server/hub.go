package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"reefstitch/internal/pipeline"
)

type message struct {
	Type string `json:"type"` // result, artifact
	Data any    `json:"data"`
}

type resultMessage struct {
	JobID    string         `json:"job_id"`
	Stage    string         `json:"stage"`
	Project  string         `json:"project"`
	Error    string         `json:"error,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

func newResultMessage(res pipeline.Result) resultMessage {
	m := resultMessage{
		JobID:    res.Job.ID,
		Stage:    string(res.Job.Type),
		Meta:     res.Meta,
		Warnings: res.Warnings,
	}
	if res.Job.Project != nil {
		m.Project = res.Job.Project.Name
	}
	if res.Error != nil {
		m.Error = res.Error.Error()
	}
	return m
}

// hub fans messages out to every connected websocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{clients: make(map[*websocket.Conn]bool), log: log}
}

func (h *hub) register(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "clients", n)
}

func (h *hub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client disconnected", "clients", n)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) publish(m message) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.log.Warn("unencodable message", "type", m.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, c)
			c.Close()
		}
	}
}
