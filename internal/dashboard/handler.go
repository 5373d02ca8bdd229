package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/daemon"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/store"
)

// ProcedureUpdateData describes one store change.
type ProcedureUpdateData struct {
	Ref    int64  `json:"ref,omitempty"`
	GUID   string `json:"guid,omitempty"`
	Action string `json:"action"` // insert, update, delete, clear
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Count  int64  `json:"count,omitempty"`
}

// SyncCompleteData summarizes a finished pass or import batch.
type SyncCompleteData struct {
	Kind  daemon.PassKind `json:"kind"`
	Error string          `json:"error,omitempty"`
	ingest.Summary
}

// StatsData contains store statistics
type StatsData struct {
	Total    int       `json:"total"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	Deleted  int       `json:"deleted"`
	Passes   int       `json:"passes"`
	Failed   int       `json:"failed_items"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Handler turns store change events and daemon results into dashboard
// messages.
type Handler struct {
	server *Server
	log    zerolog.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server.
// New clients receive the current stats on connect.
func NewHandler(server *Server, logger zerolog.Logger) *Handler {
	h := &Handler{server: server, log: logger}
	server.welcome = func() Message {
		return h.statsMessage()
	}
	return h
}

// OnChange handles a store change event. Pass it to store.Subscribe.
func (h *Handler) OnChange(ev store.ChangeEvent) {
	h.mu.Lock()
	switch ev.Op {
	case store.OpInsert:
		h.stats.Total++
		h.stats.Inserted++
	case store.OpUpdate:
		h.stats.Updated++
	case store.OpDelete:
		h.stats.Total--
		h.stats.Deleted++
	case store.OpClear:
		h.stats.Total = 0
		h.stats.Deleted += int(ev.Count)
	}
	h.mu.Unlock()

	h.send(MessageTypeProcedureUpdate, ev.At, ProcedureUpdateData{
		Ref:    ev.Ref,
		GUID:   ev.GUID,
		Action: string(ev.Op),
		Title:  ev.Title,
		Author: ev.Author,
		Count:  ev.Count,
	})
	h.broadcastStats()
}

// OnResult handles a finished pass. Its signature matches
// daemon.Config.OnResult.
func (h *Handler) OnResult(kind daemon.PassKind, res *ingest.Result, err error) {
	data := SyncCompleteData{Kind: kind}
	if res != nil {
		data.Summary = res.Summary()
	}
	if err != nil {
		data.Error = err.Error()
	}

	h.mu.Lock()
	h.stats.Passes++
	h.stats.Failed += data.Failed
	h.stats.LastSync = time.Now()
	h.mu.Unlock()

	h.log.Debug().Str("kind", string(kind)).Int("failed", data.Failed).Msg("sync result broadcast")
	h.send(MessageTypeSyncComplete, time.Now(), data)
	h.broadcastStats()
}

// SetTotal seeds the stored procedure count, e.g. from Store.Count at startup.
func (h *Handler) SetTotal(total int) {
	h.mu.Lock()
	h.stats.Total = total
	h.mu.Unlock()
	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.GetStats())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal stats")
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, at time.Time, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal message data")
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: at, Data: data})
}
