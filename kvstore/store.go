// Package kvstore defines the on-disk key/value store abstraction the
// wallet core depends on but does not implement: spec places persistence
// out of scope as an external collaborator. This package names the
// capability set every component above the ledger needs (the Ledger's
// three namespaces, the Request Cache's index, the Sync Manager's
// persisted sync state) and ships an in-memory reference implementation
// so the rest of the module can be built and tested against a real
// Store without depending on any particular disk format.
package kvstore

// Range bounds a lexicographic scan over Entries. Gt and Lt are exclusive
// bounds; an empty bound means unbounded on that side. Reverse walks the
// range from the high end down. Limit caps the number of entries visited;
// zero means unbounded.
type Range struct {
	Gt      string
	Lt      string
	Reverse bool
	Limit   int
}

// includes reports whether key falls within the range's bounds.
func (r Range) includes(key string) bool {
	if r.Gt != "" && key <= r.Gt {
		return false
	}
	if r.Lt != "" && key >= r.Lt {
		return false
	}
	return true
}

// EntryFunc is called once per matching entry during a range scan.
// Returning a non-nil error stops the scan early and that error is
// returned from Entries.
type EntryFunc func(key string, value []byte) error

// Store is one named key/value namespace: init/close lifecycle, point
// get/put/delete, and a lexicographic range scan. Keys are opaque byte
// strings compared byte-for-byte; callers that need numeric ordering
// (e.g. the Ledger's `i:<height>:<txid>` keys) are responsible for
// choosing a representation that sorts correctly as a string.
type Store interface {
	Init() error
	Close() error
	Clear() error
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Entries(fn EntryFunc, r Range) error
}

// Opener resolves a named Store instance, matching spec's "named
// instances" requirement (the Ledger's `addr`/`tx-history`/`broadcasted`
// namespaces and the Request Cache's own backing store are separate
// named Stores from the same Opener).
type Opener interface {
	Open(name string) (Store, error)
}
