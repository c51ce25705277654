package remote

import "context"

// UserStore is the account-plane endpoint: authentication, account
// lookup, and note-store resolution.
//
// Implementations exist for the live HTTP service (Client) and for an
// in-memory fake (Fake) used by tests and by packages that need a
// service double without network access.
type UserStore interface {
	// GetAccountInfo returns the authenticated account's identity.
	//
	// Fails with ErrTokenExpired, ErrTokenInvalid, or ErrTokenMalformed
	// when the token is not usable; this is also the cheapest way to
	// probe whether a stored token is still alive.
	GetAccountInfo(ctx context.Context) (AccountInfo, error)

	// GetNoteStoreURL resolves the account-specific note-store
	// endpoint. Notes are sharded; every account talks to its own
	// shard URL.
	GetNoteStoreURL(ctx context.Context) (string, error)

	// AuthenticateLongSession performs password authentication and
	// returns a long-lived token.
	//
	// When the account has a second factor enabled, the result carries
	// SecondFactorRequired=true, a delivery hint, and a temporary
	// token; the caller must follow up with CompleteTwoFactorAuth.
	//
	// Fails with ErrInvalidUsername or ErrInvalidPassword on bad
	// credentials.
	AuthenticateLongSession(ctx context.Context, username, password string) (AuthResult, error)

	// CompleteTwoFactorAuth upgrades a temporary token from
	// AuthenticateLongSession into a final token by submitting the
	// one-time code. Fails with ErrInvalidOneTimeCode on a wrong code.
	CompleteTwoFactorAuth(ctx context.Context, tempToken, oneTimeCode string) (AuthResult, error)

	// ExchangeOAuth completes a pre-obtained OAuth authorization grant
	// (temporary token plus verifier) into a final token.
	ExchangeOAuth(ctx context.Context, tempToken, verifier string) (string, error)

	// CheckCompatibility verifies that the server still accepts this
	// client's protocol version. Fails with ErrIncompatible when the
	// server's advertised minimum is newer than the client.
	CheckCompatibility(ctx context.Context) error
}

// NoteStore is the note-plane endpoint for one account's shard:
// sync-state queries, chunked incremental pull, and entity fetches.
type NoteStore interface {
	// GetSyncState returns the account's current global update count
	// and the server time.
	GetSyncState(ctx context.Context) (SyncState, error)

	// ListTags returns every tag in the account.
	ListTags(ctx context.Context) ([]Tag, error)

	// GetNote fetches one note with its full content. Fails with
	// ErrNotFound if the GUID is unknown.
	GetNote(ctx context.Context, guid string) (Note, error)

	// PullChunk returns a bounded batch of changes strictly after
	// afterUSN, at most maxEntries entries. The returned chunk's
	// ChunkHighUSN marks the last sequence number represented;
	// UpdateCount is the account's global watermark at call time and
	// exceeds ChunkHighUSN while more chunks remain.
	PullChunk(ctx context.Context, afterUSN int64, maxEntries int) (SyncChunk, error)
}
