// Package state implements the per-SID key→value State Store exposed to
// plugins through the host extension vtable (set_state/get_state).
package state

import (
	"sync"
)

const shardCount = 64

// entry is the per-SID state bag: an ordered mapping of key to the most
// recent owned value bytes for that key, created on first write and
// destroyed when the owning completion terminates.
type entry struct {
	mu     sync.Mutex
	order  []string
	values map[string][]byte
}

func newEntry() *entry {
	return &entry{values: make(map[string][]byte)}
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// Store is the sharded state store. The zero value is not usable;
// construct with New.
type Store struct {
	shards [shardCount]*shard
}

// New constructs an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[uint64]*entry)}
	}
	return s
}

func (s *Store) shardFor(sid uint64) *shard {
	const mul = 0x9E3779B97F4A7C15
	h := (sid * mul) >> 58
	return s.shards[h&(shardCount-1)]
}

func (s *Store) entryFor(sid uint64, create bool) *entry {
	sh := s.shardFor(sid)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[sid]
	if !ok {
		if !create {
			return nil
		}
		e = newEntry()
		sh.entries[sid] = e
	}
	return e
}

// Set stores value under key for sid, creating the SID's inner map on
// first write. It returns an owned copy of the prior value for key, or nil
// if key had no prior value. Ownership of the returned buffer transfers to
// the caller (the Router, which in turn hands it across the ABI seam to
// the plugin); its validity is bounded to the next mutation of (sid, key),
// not governed by an explicit release call.
func (s *Store) Set(sid uint64, key string, value []byte) (prior []byte) {
	e := s.entryFor(sid, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	owned := append([]byte(nil), value...)
	old, existed := e.values[key]
	e.values[key] = owned
	if !existed {
		e.order = append(e.order, key)
	}
	return old
}

// Get returns a view of the current value for (sid, key). The returned
// slice must be treated as valid only until the next mutation on the same
// (sid, key) pair, or until the SID's completion terminates and its entry
// is destroyed. It returns nil, false if the SID has no state bag or key
// has never been set.
func (s *Store) Get(sid uint64, key string) ([]byte, bool) {
	e := s.entryFor(sid, false)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys ever written for sid, in first-write order. Mostly
// useful for tests and diagnostics.
func (s *Store) Keys(sid uint64) []string {
	e := s.entryFor(sid, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// Destroy removes sid's entire state bag. Called by the Router on terminal
// routing events: registry and state-store membership rise and fall
// together from the consumer's observation.
func (s *Store) Destroy(sid uint64) {
	sh := s.shardFor(sid)
	sh.mu.Lock()
	delete(sh.entries, sid)
	sh.mu.Unlock()
}
