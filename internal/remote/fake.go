package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory implementation of UserStore and NoteStore for
// tests. Failure modes are toggled through exported fields; seeded
// entries are served back through the same chunked interface the live
// client exposes, so sync logic can be exercised without a network.
//
// The zero value is unusable; call NewFake.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int

	// Account identity served by GetAccountInfo.
	Account AccountInfo

	// NoteStoreURLValue is returned by GetNoteStoreURL.
	NoteStoreURLValue string

	// Incompatible makes CheckCompatibility fail.
	Incompatible bool

	// Token failure toggles. Checked by every authenticated call.
	TokenExpired   bool
	TokenInvalid   bool
	TokenMalformed bool

	// Credentials accepted by AuthenticateLongSession.
	ValidUsername string
	ValidPassword string

	// Two-factor behavior. When TwoFactorRequired is set, password
	// authentication returns a temporary token and the delivery hint,
	// and CompleteTwoFactorAuth accepts ValidOneTimeCode.
	TwoFactorRequired bool
	TwoFactorHint     string
	ValidOneTimeCode  string

	// IssuedToken is handed out on successful authentication.
	IssuedToken string

	// TempToken is handed out when a second factor is pending.
	TempToken string

	// OAuthToken is returned by ExchangeOAuth; empty means the
	// exchange fails.
	OAuthToken string

	// USN is the account's highest update sequence number, reported
	// as updateCount. Seeding helpers raise it automatically.
	USN int64

	// Seeded server-side state.
	Notebooks []Notebook
	Notes     []Note
	Tags      []Tag

	// GUIDs reported as expunged in every chunk.
	ExpungedNotebooks []string
	ExpungedNotes     []string

	// ServeEmptyChunks makes PullChunk return contentless chunks even
	// when entries remain, simulating a stalled server.
	ServeEmptyChunks bool

	// MissingNotes lists GUIDs that chunks still advertise but GetNote
	// reports as not found, as happens when a note is expunged between
	// the chunk cut and the content fetch.
	MissingNotes []string

	// FailPulls injects that many transient failures into PullChunk
	// before it behaves again.
	FailPulls int
}

// NewFake returns a fake with a valid single-user account and no
// seeded entries.
func NewFake() *Fake {
	return &Fake{
		calls:             make(map[string]int),
		Account:           AccountInfo{UserID: 1, Username: "user1", ShardID: "s1"},
		NoteStoreURLValue: "https://notes.example.com/shard/s1/json",
		ValidUsername:     "user1",
		ValidPassword:     "password",
		TwoFactorHint:     "(xxx) xxx-1234",
		ValidOneTimeCode:  "123456",
		IssuedToken:       "S=s1:U=101:E=fff:C=ff:P=1:A=en-fake:V=2:H=abcdef",
		TempToken:         "S=s1:U=101:E=fff:C=ff:P=1:A=en-fake-2fa:V=2:H=fedcba",
	}
}

// AddNotebook seeds a notebook and raises the account USN to cover it.
// A missing GUID is minted. Returns the entry as stored.
func (f *Fake) AddNotebook(nb Notebook) Notebook {
	f.mu.Lock()
	defer f.mu.Unlock()
	if nb.GUID == "" {
		nb.GUID = uuid.NewString()
	}
	f.Notebooks = append(f.Notebooks, nb)
	if nb.USN > f.USN {
		f.USN = nb.USN
	}
	return nb
}

// AddNote seeds a note and raises the account USN to cover it.
// A missing GUID is minted. Returns the entry as stored.
func (f *Fake) AddNote(n Note) Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.GUID == "" {
		n.GUID = uuid.NewString()
	}
	f.Notes = append(f.Notes, n)
	if n.USN > f.USN {
		f.USN = n.USN
	}
	return n
}

// AddTag seeds a tag and raises the account USN to cover it.
// A missing GUID is minted. Returns the entry as stored.
func (f *Fake) AddTag(t Tag) Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.GUID == "" {
		t.GUID = uuid.NewString()
	}
	f.Tags = append(f.Tags, t)
	if t.USN > f.USN {
		f.USN = t.USN
	}
	return t
}

// CallCount reports how many times the named method ran.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) record(method string) {
	f.calls[method]++
}

// tokenErr returns the configured token failure, if any.
func (f *Fake) tokenErr(op string) error {
	switch {
	case f.TokenExpired:
		return fmt.Errorf("%s: %w", op, ErrTokenExpired)
	case f.TokenInvalid:
		return fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	case f.TokenMalformed:
		return fmt.Errorf("%s: %w", op, ErrTokenMalformed)
	}
	return nil
}

// GetAccountInfo implements UserStore.GetAccountInfo.
func (f *Fake) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getUser")
	if err := f.tokenErr("getUser"); err != nil {
		return AccountInfo{}, err
	}
	return f.Account, nil
}

// GetNoteStoreURL implements UserStore.GetNoteStoreURL.
func (f *Fake) GetNoteStoreURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getNoteStoreUrl")
	if err := f.tokenErr("getNoteStoreUrl"); err != nil {
		return "", err
	}
	return f.NoteStoreURLValue, nil
}

// AuthenticateLongSession implements UserStore.AuthenticateLongSession.
func (f *Fake) AuthenticateLongSession(ctx context.Context, username, password string) (AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("authenticateLongSession")

	if username != f.ValidUsername {
		return AuthResult{}, fmt.Errorf("authenticateLongSession: %w", ErrInvalidUsername)
	}
	if password != f.ValidPassword {
		return AuthResult{}, fmt.Errorf("authenticateLongSession: %w", ErrInvalidPassword)
	}
	if f.TwoFactorRequired {
		return AuthResult{
			Token:                f.TempToken,
			SecondFactorRequired: true,
			SecondFactorHint:     f.TwoFactorHint,
		}, nil
	}
	return AuthResult{Token: f.IssuedToken}, nil
}

// CompleteTwoFactorAuth implements UserStore.CompleteTwoFactorAuth.
func (f *Fake) CompleteTwoFactorAuth(ctx context.Context, tempToken, oneTimeCode string) (AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("completeTwoFactorAuthentication")

	if oneTimeCode != f.ValidOneTimeCode {
		return AuthResult{}, fmt.Errorf("completeTwoFactorAuthentication: %w", ErrInvalidOneTimeCode)
	}
	return AuthResult{Token: f.IssuedToken}, nil
}

// ExchangeOAuth implements UserStore.ExchangeOAuth.
func (f *Fake) ExchangeOAuth(ctx context.Context, tempToken, verifier string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("oauthExchange")

	if f.OAuthToken == "" {
		return "", fmt.Errorf("%w: oauth exchange response carries no token", ErrAuthFailed)
	}
	return f.OAuthToken, nil
}

// CheckCompatibility implements UserStore.CheckCompatibility.
func (f *Fake) CheckCompatibility(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkVersion")
	if f.Incompatible {
		return fmt.Errorf("checkVersion: %w", ErrIncompatible)
	}
	return nil
}

// GetSyncState implements NoteStore.GetSyncState.
func (f *Fake) GetSyncState(ctx context.Context) (SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getSyncState")
	if err := f.tokenErr("getSyncState"); err != nil {
		return SyncState{}, err
	}
	return SyncState{UpdateCount: f.USN}, nil
}

// ListTags implements NoteStore.ListTags.
func (f *Fake) ListTags(ctx context.Context) ([]Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("listTags")
	if err := f.tokenErr("listTags"); err != nil {
		return nil, err
	}
	out := make([]Tag, len(f.Tags))
	copy(out, f.Tags)
	return out, nil
}

// GetNote implements NoteStore.GetNote.
func (f *Fake) GetNote(ctx context.Context, guid string) (Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getNote")
	if err := f.tokenErr("getNote"); err != nil {
		return Note{}, err
	}
	for _, missing := range f.MissingNotes {
		if missing == guid {
			return Note{}, fmt.Errorf("getNote %s: %w", guid, ErrNotFound)
		}
	}
	for _, n := range f.Notes {
		if n.GUID == guid {
			return n, nil
		}
	}
	return Note{}, fmt.Errorf("getNote %s: %w", guid, ErrNotFound)
}

// PullChunk implements NoteStore.PullChunk. Entries with a USN above
// afterUSN are served in ascending USN order, at most maxEntries per
// chunk; chunk notes carry metadata only, content comes from GetNote.
func (f *Fake) PullChunk(ctx context.Context, afterUSN int64, maxEntries int) (SyncChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getFilteredSyncChunk")

	if err := f.tokenErr("getFilteredSyncChunk"); err != nil {
		return SyncChunk{}, err
	}
	if f.FailPulls > 0 {
		f.FailPulls--
		return SyncChunk{}, &TransientError{Op: "getFilteredSyncChunk", Err: fmt.Errorf("injected failure")}
	}

	chunk := SyncChunk{
		UpdateCount:       f.USN,
		ExpungedNotebooks: append([]string(nil), f.ExpungedNotebooks...),
		ExpungedNotes:     append([]string(nil), f.ExpungedNotes...),
	}
	if f.ServeEmptyChunks {
		chunk.ExpungedNotebooks = nil
		chunk.ExpungedNotes = nil
		return chunk, nil
	}

	type entry struct {
		usn      int64
		notebook *Notebook
		note     *Note
	}
	var pending []entry
	for i := range f.Notebooks {
		if f.Notebooks[i].USN > afterUSN {
			pending = append(pending, entry{usn: f.Notebooks[i].USN, notebook: &f.Notebooks[i]})
		}
	}
	for i := range f.Notes {
		if f.Notes[i].USN > afterUSN {
			pending = append(pending, entry{usn: f.Notes[i].USN, note: &f.Notes[i]})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].usn < pending[j].usn })

	if maxEntries > 0 && len(pending) > maxEntries {
		pending = pending[:maxEntries]
	}
	for _, e := range pending {
		switch {
		case e.notebook != nil:
			chunk.Notebooks = append(chunk.Notebooks, *e.notebook)
		case e.note != nil:
			meta := *e.note
			meta.Content = ""
			chunk.Notes = append(chunk.Notes, meta)
		}
		chunk.ChunkHighUSN = e.usn
	}
	if len(pending) == 0 {
		chunk.ChunkHighUSN = f.USN
	}

	return chunk, nil
}
