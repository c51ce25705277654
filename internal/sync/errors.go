package sync

import "errors"

// ErrSyncStateRegressed means the server reported a change counter
// below the state already applied locally. That only happens when the
// account was restored from a backup or the database belongs to a
// different account history. There is no safe automatic recovery:
// re-initialize the database and sync from scratch.
var ErrSyncStateRegressed = errors.New("server sync state is behind the local database; re-initialize the database to recover")
