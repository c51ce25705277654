// Package remote defines the boundary to the note service: the account
// store and the per-account note store, the entity types they exchange,
// and the closed error set all service failures are mapped into.
package remote

import (
	"fmt"
	"time"
)

// AccountInfo identifies the authenticated account.
type AccountInfo struct {
	// UserID is the service-assigned numeric account ID.
	UserID int64 `json:"userId"`

	// Username is the account login name.
	Username string `json:"username"`

	// ShardID names the storage shard hosting the account's notes.
	ShardID string `json:"shardId"`
}

// AuthResult is the outcome of a primary authentication call. When the
// account has a second factor enabled, Token is a temporary token that
// must be upgraded via CompleteTwoFactorAuth before use.
type AuthResult struct {
	// Token is the authentication token. Temporary when
	// SecondFactorRequired is set.
	Token string `json:"authenticationToken"`

	// SecondFactorRequired indicates the account needs a one-time code
	// before a final token is issued.
	SecondFactorRequired bool `json:"secondFactorRequired"`

	// SecondFactorHint describes where the one-time code was delivered
	// (e.g. "email", a masked phone number).
	SecondFactorHint string `json:"secondFactorDeliveryHint,omitempty"`
}

// SyncState is the account-wide sync position as reported by the server.
type SyncState struct {
	// CurrentTime is the server clock at call time, in epoch milliseconds.
	CurrentTime int64 `json:"currentTime"`

	// UpdateCount is the account's highest assigned update sequence
	// number. A local watermark equal to this value means fully synced.
	UpdateCount int64 `json:"updateCount"`
}

// Notebook is a named container for notes.
type Notebook struct {
	// GUID is the stable notebook identifier.
	GUID string `json:"guid"`

	// Name is the display name, unique per account.
	Name string `json:"name"`

	// Stack is an optional grouping label shared by several notebooks.
	Stack string `json:"stack,omitempty"`

	// USN is the update sequence number of this notebook's last change.
	USN int64 `json:"updateSequenceNum"`
}

// Validate checks that the notebook can be stored.
func (n *Notebook) Validate() error {
	if n.GUID == "" {
		return fmt.Errorf("notebook guid is required")
	}
	if n.Name == "" {
		return fmt.Errorf("notebook %s: name is required", n.GUID)
	}
	return nil
}

// Tag is an account-wide label referenced by notes through its GUID.
type Tag struct {
	// GUID is the stable tag identifier.
	GUID string `json:"guid"`

	// Name is the display name, unique per account.
	Name string `json:"name"`

	// ParentGUID points to the parent tag for nested tags, empty at
	// the top level.
	ParentGUID string `json:"parentGuid,omitempty"`

	// USN is the update sequence number of this tag's last change.
	USN int64 `json:"updateSequenceNum"`
}

// Validate checks that the tag can be stored.
func (t *Tag) Validate() error {
	if t.GUID == "" {
		return fmt.Errorf("tag guid is required")
	}
	if t.Name == "" {
		return fmt.Errorf("tag %s: name is required", t.GUID)
	}
	return nil
}

// Note is a single note. Sync chunks carry notes without content; the
// full body is fetched separately per GUID.
type Note struct {
	// GUID is the stable note identifier.
	GUID string `json:"guid"`

	// Title is the note title.
	Title string `json:"title"`

	// Content is the note body markup. Empty in chunk metadata;
	// populated by a full fetch.
	Content string `json:"content,omitempty"`

	// NotebookGUID references the containing notebook.
	NotebookGUID string `json:"notebookGuid"`

	// TagGUIDs references the note's tags. The referenced tags are
	// owned by the account; a dangling reference here is tolerated.
	TagGUIDs []string `json:"tagGuids,omitempty"`

	// Active is false for notes in the trash. Inactive notes are still
	// synced and stored; exporting them is opt-in.
	Active bool `json:"active"`

	// USN is the update sequence number of this note's last change.
	USN int64 `json:"updateSequenceNum"`

	// Created and Updated are epoch milliseconds.
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Validate checks that the note can be stored.
func (n *Note) Validate() error {
	if n.GUID == "" {
		return fmt.Errorf("note guid is required")
	}
	if n.NotebookGUID == "" {
		return fmt.Errorf("note %s: notebook guid is required", n.GUID)
	}
	return nil
}

// CreatedTime returns the creation timestamp as time.Time.
func (n *Note) CreatedTime() time.Time {
	return time.UnixMilli(n.Created).UTC()
}

// UpdatedTime returns the last-update timestamp as time.Time.
func (n *Note) UpdatedTime() time.Time {
	return time.UnixMilli(n.Updated).UTC()
}

// SyncChunk is one bounded batch of changes strictly after a given USN.
//
// ChunkHighUSN is the highest sequence number represented in the batch.
// UpdateCount is the account's global watermark at call time; when it
// exceeds ChunkHighUSN, more chunks remain.
type SyncChunk struct {
	// CurrentTime is the server clock at call time, in epoch milliseconds.
	CurrentTime int64 `json:"currentTime"`

	// ChunkHighUSN is the last update sequence number covered by this
	// chunk. Zero when the chunk is empty.
	ChunkHighUSN int64 `json:"chunkHighUSN"`

	// UpdateCount is the account's global high-water mark at call time.
	UpdateCount int64 `json:"updateCount"`

	// Notebooks holds notebooks created or changed within the chunk range.
	Notebooks []Notebook `json:"notebooks,omitempty"`

	// Notes holds note metadata (no content) created or changed within
	// the chunk range.
	Notes []Note `json:"notes,omitempty"`

	// ExpungedNotebooks lists notebook GUIDs permanently deleted on the
	// server. Presence here overrides any local copy.
	ExpungedNotebooks []string `json:"expungedNotebooks,omitempty"`

	// ExpungedNotes lists note GUIDs permanently deleted on the server.
	ExpungedNotes []string `json:"expungedNotes,omitempty"`
}

// IsEmpty returns true if the chunk carries no changes at all.
func (c *SyncChunk) IsEmpty() bool {
	return len(c.Notebooks) == 0 &&
		len(c.Notes) == 0 &&
		len(c.ExpungedNotebooks) == 0 &&
		len(c.ExpungedNotes) == 0
}

// EntryCount returns the total number of entries represented in the chunk.
func (c *SyncChunk) EntryCount() int {
	return len(c.Notebooks) + len(c.Notes) +
		len(c.ExpungedNotebooks) + len(c.ExpungedNotes)
}
