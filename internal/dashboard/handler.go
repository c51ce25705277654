package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/notevault/notevault/internal/remote"
	notesync "github.com/notevault/notevault/internal/sync"
)

// Handler turns daemon sync events into dashboard messages. It
// implements the daemon's Events interface; OnSyncProgress additionally
// fits the syncer's progress callback.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnSyncStarted handles the start of a sync pass
func (h *Handler) OnSyncStarted() {
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStarted,
		Timestamp: time.Now(),
	})
}

// OnSyncProgress handles per-chunk progress during a pass
func (h *Handler) OnSyncProgress(p notesync.Progress) {
	data := SyncProgressData{
		Chunks:      p.Chunks,
		USN:         p.USN,
		UpdateCount: p.UpdateCount,
		Notebooks:   p.Notebooks,
		Notes:       p.Notes,
		Tags:        p.Tags,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal progress data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncProgress,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnSyncCompleted handles a finished sync pass
func (h *Handler) OnSyncCompleted(result *notesync.Result) {
	h.logger.Printf("Sync complete: %d notebooks, %d notes, %d tags in %v",
		result.Notebooks, result.Notes, result.Tags, result.Duration)

	data := SyncCompleteData{
		UpToDate:          result.UpToDate,
		StartUSN:          result.StartUSN,
		FinalUSN:          result.FinalUSN,
		Chunks:            result.Chunks,
		Notebooks:         result.Notebooks,
		Notes:             result.Notes,
		Tags:              result.Tags,
		ExpungedNotebooks: result.ExpungedNotebooks,
		ExpungedNotes:     result.ExpungedNotes,
		SkippedNotes:      result.SkippedNotes,
		Duration:          result.Duration,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	// The archive changed, so follow up with fresh stats
	h.server.BroadcastStats()
}

// OnSyncFailed handles a failed sync pass
func (h *Handler) OnSyncFailed(err error) {
	h.logger.Printf("Sync failed: %v", err)

	data := SyncErrorData{
		Error:     err.Error(),
		Retryable: remote.IsRetryable(err),
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal error data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncError,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
