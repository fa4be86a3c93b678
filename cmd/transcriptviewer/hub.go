package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"meetmind-asr-relay/internal/models"
)

// viewer is one connected browser. An empty session receives everything.
type viewer struct {
	conn    *websocket.Conn
	session string
}

func (v *viewer) wants(ev models.TranscriptFinal) bool {
	return v.session == "" || v.session == ev.SessionID
}

// Hub fans transcripts out to viewers.
type Hub struct {
	mu      sync.Mutex
	viewers map[*viewer]struct{}
}

func NewHub() *Hub {
	return &Hub{viewers: make(map[*viewer]struct{})}
}

func (h *Hub) Register(v *viewer) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	h.mu.Unlock()
	log.Info().Str("session", v.session).Int("viewers", n).Msg("Viewer connected")
}

func (h *Hub) Unregister(v *viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	n := len(h.viewers)
	h.mu.Unlock()
	if ok {
		v.conn.Close()
		log.Info().Int("viewers", n).Msg("Viewer disconnected")
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Broadcast writes ev to every interested viewer. Viewers that fail a write
// are dropped.
func (h *Hub) Broadcast(ev models.TranscriptFinal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for v := range h.viewers {
		if !v.wants(ev) {
			continue
		}
		_ = v.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := v.conn.WriteJSON(ev); err != nil {
			log.Warn().Err(err).Msg("Viewer write error")
			v.conn.Close()
			delete(h.viewers, v)
		}
	}
}

// CloseAll disconnects every viewer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		v.conn.Close()
		delete(h.viewers, v)
	}
}
