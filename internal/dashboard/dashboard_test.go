package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/notevault/notevault/internal/daemon"
	"github.com/notevault/notevault/internal/remote"
	notesync "github.com/notevault/notevault/internal/sync"
)

// The handler must plug straight into the daemon's event hook.
var _ daemon.Events = (*Handler)(nil)

func TestServerStartStop(t *testing.T) {
	config := &Config{
		Port:   0, // Use random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}

	server := NewServer(config)

	// Start server
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Check that server is listening
	addr := server.GetAddr()
	if addr == "" {
		t.Fatal("Server address is empty")
	}

	// Stop server
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
		Stats: func() (StatsData, error) {
			return StatsData{Notebooks: 3, ActiveNotes: 12, USN: 42, Username: "tester"}, nil
		},
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	// Connect WebSocket client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Verify client count
	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// Read welcome message
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if msg.Type != MessageTypeStats {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStats, msg.Type)
	}

	// The welcome message carries the supplied archive snapshot
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats data: %v", err)
	}
	if stats.Notebooks != 3 || stats.USN != 42 || stats.Username != "tester" {
		t.Errorf("Welcome stats mismatch: %+v", stats)
	}
}

func TestMultipleClients(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"

	// Connect multiple clients
	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		clients[i] = conn

		// Read welcome message
		_, _, err = conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read welcome message for client %d: %v", i, err)
		}
	}

	// Verify client count
	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"

	// Connect client
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	_, _, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	// Broadcast a test message
	testData := SyncProgressData{
		Chunks:      2,
		USN:         140,
		UpdateCount: 200,
		Notebooks:   3,
		Notes:       25,
		Tags:        4,
	}

	dataJSON, _ := json.Marshal(testData)
	testMsg := Message{
		Type:      MessageTypeSyncProgress,
		Timestamp: time.Now(),
		Data:      dataJSON,
	}

	server.Broadcast(testMsg)

	// Read broadcasted message
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast message: %v", err)
	}

	var received Message
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if received.Type != MessageTypeSyncProgress {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncProgress, received.Type)
	}

	var receivedData SyncProgressData
	if err := json.Unmarshal(received.Data, &receivedData); err != nil {
		t.Fatalf("Failed to unmarshal progress data: %v", err)
	}

	if receivedData.USN != testData.USN || receivedData.Notes != testData.Notes {
		t.Errorf("Progress data mismatch: got %+v, want %+v", receivedData, testData)
	}
}

func TestHandlerSyncLifecycle(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
		Stats: func() (StatsData, error) {
			return StatsData{Notebooks: 3, ActiveNotes: 4, Tags: 2, USN: 100}, nil
		},
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"

	// Connect client
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	_, _, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	// A full pass: started, one progress event, completed
	handler.OnSyncStarted()
	handler.OnSyncProgress(notesync.Progress{Chunks: 1, USN: 40, UpdateCount: 100, Notes: 2})
	handler.OnSyncCompleted(&notesync.Result{
		StartUSN:  0,
		FinalUSN:  100,
		Chunks:    2,
		Notebooks: 3,
		Notes:     4,
		Tags:      2,
		Duration:  1500 * time.Millisecond,
	})

	readMessage := func(what string) Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", what, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal %s: %v", what, err)
		}
		return msg
	}

	if msg := readMessage("sync started"); msg.Type != MessageTypeSyncStarted {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncStarted, msg.Type)
	}

	msg := readMessage("sync progress")
	if msg.Type != MessageTypeSyncProgress {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncProgress, msg.Type)
	}
	var progress SyncProgressData
	if err := json.Unmarshal(msg.Data, &progress); err != nil {
		t.Fatalf("Failed to unmarshal progress data: %v", err)
	}
	if progress.USN != 40 || progress.UpdateCount != 100 {
		t.Errorf("Progress mismatch: %+v", progress)
	}

	msg = readMessage("sync complete")
	if msg.Type != MessageTypeSyncComplete {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncComplete, msg.Type)
	}
	var complete SyncCompleteData
	if err := json.Unmarshal(msg.Data, &complete); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if complete.FinalUSN != 100 || complete.Notes != 4 {
		t.Errorf("Sync complete mismatch: %+v", complete)
	}

	// Completion is followed by a stats refresh
	if msg := readMessage("stats refresh"); msg.Type != MessageTypeStats {
		t.Errorf("Expected message type %s, got %s", MessageTypeStats, msg.Type)
	}
}

func TestHandlerSyncError(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	handler := NewHandler(server, log.New(os.Stderr, "[test-handler] ", log.LstdFlags))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"

	// Connect client
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Read welcome message
	_, _, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	// A transient failure is reported as retryable
	handler.OnSyncFailed(&remote.TransientError{
		Op:  "getFilteredSyncChunk",
		Err: errors.New("gateway timeout"),
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read sync error: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if msg.Type != MessageTypeSyncError {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncError, msg.Type)
	}

	var errData SyncErrorData
	if err := json.Unmarshal(msg.Data, &errData); err != nil {
		t.Fatalf("Failed to unmarshal error data: %v", err)
	}

	if errData.Error == "" {
		t.Error("Expected an error description")
	}
	if !errData.Retryable {
		t.Error("Expected a transient failure to be marked retryable")
	}

	// An auth failure is not retryable
	handler.OnSyncFailed(remote.ErrTokenExpired)

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read sync error: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if err := json.Unmarshal(msg.Data, &errData); err != nil {
		t.Fatalf("Failed to unmarshal error data: %v", err)
	}
	if errData.Retryable {
		t.Error("Expected an auth failure to be marked fatal")
	}
}

func TestHealthEndpoint(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}

	server := NewServer(config)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Failed to GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}

	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %s", health.Status)
	}
	if health.Clients != 0 {
		t.Errorf("Expected 0 clients, got %d", health.Clients)
	}
}
