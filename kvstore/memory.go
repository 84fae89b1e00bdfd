package kvstore

import (
	"sort"
	"sync"

	"github.com/arcwallet/electrumwallet/walleterr"
)

// MemoryStore is a reference Store implementation backed by a guarded
// map. Modelled on the teacher's MemoryTxStore: every read and write
// takes a copy of the value so callers can never mutate storage state
// through a returned slice.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStore constructs an empty, ready-to-use store. Init is still
// required before use to match the Store lifecycle other
// implementations (e.g. a disk-backed one) need.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.closed = false
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, walleterr.New(walleterr.StoreCorrupt, "store is closed")
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return walleterr.New(walleterr.StoreCorrupt, "store is closed")
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return walleterr.New(walleterr.StoreCorrupt, "store is closed")
	}
	delete(s.data, key)
	return nil
}

// Entries walks keys in lexicographic order within r's bounds, calling
// fn for each. Keys are sorted fresh on every call rather than
// maintained incrementally: this implementation favours correctness and
// simplicity over scan performance, which is adequate for an in-memory
// reference store.
func (s *MemoryStore) Entries(fn EntryFunc, r Range) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if r.includes(k) {
			keys = append(keys, k)
		}
	}
	vals := make(map[string][]byte, len(keys))
	for _, k := range keys {
		vals[k] = append([]byte(nil), s.data[k]...)
	}
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return walleterr.New(walleterr.StoreCorrupt, "store is closed")
	}

	sort.Strings(keys)
	if r.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if r.Limit > 0 && len(keys) > r.Limit {
		keys = keys[:r.Limit]
	}
	for _, k := range keys {
		if err := fn(k, vals[k]); err != nil {
			return err
		}
	}
	return nil
}

// MemoryOpener is an Opener that hands out independent MemoryStore
// instances per name, creating them lazily on first Open.
type MemoryOpener struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{stores: make(map[string]*MemoryStore)}
}

func (o *MemoryOpener) Open(name string) (Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.stores[name]; ok {
		return s, nil
	}
	s := NewMemoryStore()
	if err := s.Init(); err != nil {
		return nil, err
	}
	o.stores[name] = s
	return s, nil
}
