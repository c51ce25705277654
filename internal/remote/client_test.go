package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ UserStore = (*Client)(nil)
	_ NoteStore = (*noteStoreClient)(nil)
	_ UserStore = (*Fake)(nil)
	_ NoteStore = (*Fake)(nil)
)

// newTestClient wires a Client to an httptest server with fast retries.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.UserStoreURL = srv.URL
	cfg.OAuthURL = srv.URL + "/oauth"
	cfg.RetryBaseDelay = time.Millisecond
	return NewClient(cfg), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		parameter string
		want      error
	}{
		{"expired token", "AUTH_EXPIRED", "authenticationToken", ErrTokenExpired},
		{"revoked token", "INVALID_AUTH", "authenticationToken", ErrTokenInvalid},
		{"malformed token", "BAD_DATA_FORMAT", "authenticationToken", ErrTokenMalformed},
		{"unknown username", "INVALID_AUTH", "username", ErrInvalidUsername},
		{"wrong password", "INVALID_AUTH", "password", ErrInvalidPassword},
		{"wrong one-time code", "INVALID_AUTH", "oneTimeCode", ErrInvalidOneTimeCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusForbidden, wireError{Code: tt.code, Parameter: tt.parameter})
			}))

			_, err := client.GetAccountInfo(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, IsRetryable(err), "mapped auth errors must not be retried")
		})
	}
}

func TestUnclassifiedAuthFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, wireError{Code: "DATA_REQUIRED", Parameter: "deviceDescription"})
	}))

	_, err := client.AuthenticateLongSession(context.Background(), "user1", "password")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.NoteStore(client.userStoreURL).GetNote(context.Background(), "missing-guid")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		writeJSON(t, w, http.StatusOK, AccountInfo{UserID: 7, Username: "user1", ShardID: "s1"})
	}))

	info, err := client.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.UserID)
	assert.Equal(t, int64(3), calls.Load(), "expected two retries before success")
}

func TestRetryGivesUpAfterAttemptCap(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))

	_, err := client.GetAccountInfo(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "exhausted retries should surface the transient error")
	assert.Equal(t, int64(client.maxAttempts), calls.Load())
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	client.retryBase = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.GetAccountInfo(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return after cancellation")
	}
}

func TestAuthTokenHeader(t *testing.T) {
	var gotToken string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		writeJSON(t, w, http.StatusOK, SyncState{UpdateCount: 42})
	}))
	client.SetToken("S=s1:U=101:E=fff:C=ff:P=1:A=test:V=2:H=ff")

	state, err := client.NoteStore(client.userStoreURL).GetSyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), state.UpdateCount)
	assert.Equal(t, "S=s1:U=101:E=fff:C=ff:P=1:A=test:V=2:H=ff", gotToken)
}

func TestAuthenticateLongSessionSecondFactor(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/authenticateLongSession", r.URL.Path)

		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user1", req.Username)

		writeJSON(t, w, http.StatusOK, AuthResult{
			Token:                "temp-token",
			SecondFactorRequired: true,
			SecondFactorHint:     "(xxx) xxx-1234",
		})
	}))

	res, err := client.AuthenticateLongSession(context.Background(), "user1", "password")
	require.NoError(t, err)
	assert.True(t, res.SecondFactorRequired)
	assert.Equal(t, "temp-token", res.Token)
	assert.Equal(t, "(xxx) xxx-1234", res.SecondFactorHint)
}

func TestPullChunkRequestShape(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/getFilteredSyncChunk", r.URL.Path)

		var req struct {
			AfterUSN   int64 `json:"afterUSN"`
			MaxEntries int   `json:"maxEntries"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(25), req.AfterUSN)
		assert.Equal(t, 100, req.MaxEntries)

		writeJSON(t, w, http.StatusOK, SyncChunk{
			ChunkHighUSN: 30,
			UpdateCount:  30,
			Notes:        []Note{{GUID: "n1", Title: "hello", USN: 30, Active: true}},
		})
	}))

	chunk, err := client.NoteStore(client.userStoreURL).PullChunk(context.Background(), 25, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(30), chunk.ChunkHighUSN)
	require.Len(t, chunk.Notes, 1)
	assert.Equal(t, "n1", chunk.Notes[0].GUID)
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name       string
		minVersion string
		wantErr    error
	}{
		{"server older than client", "1.25.0", nil},
		{"server matches client", "1.28.0", nil},
		{"server requires newer client", "2.0.0", ErrIncompatible},
		{"no version floor advertised", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusOK, map[string]string{"minVersion": tt.minVersion})
			}))

			err := client.CheckCompatibility(context.Background())
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExchangeOAuth(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "temp-oauth-token", r.PostForm.Get("oauth_token"))
		assert.Equal(t, "verifier-123", r.PostForm.Get("oauth_verifier"))

		body := url.Values{}
		body.Set("oauth_token", "S=s1:U=101:E=fff:C=ff:P=1:A=oauth:V=2:H=ff")
		body.Set("oauth_expires", "1577808000000")
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		io.WriteString(w, body.Encode())
	}))

	token, err := client.ExchangeOAuth(context.Background(), "temp-oauth-token", "verifier-123")
	require.NoError(t, err)
	assert.Equal(t, "S=s1:U=101:E=fff:C=ff:P=1:A=oauth:V=2:H=ff", token)
}

func TestExchangeOAuthEmptyResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "oauth_expires=0")
	}))

	_, err := client.ExchangeOAuth(context.Background(), "temp", "verifier")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestFakeChunkPagination(t *testing.T) {
	fake := NewFake()
	fake.AddNotebook(Notebook{GUID: "nb1", Name: "First", USN: 1})
	for i := int64(2); i <= 6; i++ {
		fake.AddNote(Note{GUID: "n" + string(rune('0'+i)), Title: "note", NotebookGUID: "nb1", Active: true, USN: i, Content: "<en-note/>"})
	}

	ctx := context.Background()
	var (
		afterUSN int64
		chunks   int
		entries  int
	)
	for {
		chunk, err := fake.PullChunk(ctx, afterUSN, 2)
		require.NoError(t, err)
		chunks++
		entries += chunk.EntryCount()

		require.LessOrEqual(t, chunk.EntryCount(), 2)
		for _, n := range chunk.Notes {
			assert.Empty(t, n.Content, "chunk notes carry metadata only")
		}

		if chunk.ChunkHighUSN >= chunk.UpdateCount || chunk.IsEmpty() {
			afterUSN = chunk.ChunkHighUSN
			break
		}
		afterUSN = chunk.ChunkHighUSN
	}

	assert.Equal(t, 3, chunks)
	assert.Equal(t, 6, entries)
	assert.Equal(t, int64(6), afterUSN)
}

func TestFakeUnknownNote(t *testing.T) {
	fake := NewFake()
	_, err := fake.GetNote(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransientErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := &TransientError{Op: "getSyncState", Err: base}

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "getSyncState")
}
