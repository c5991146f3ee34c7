// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store holds the server's key namespace: string values with
// optional millisecond-precision absolute expiry, and stream values
// (see internal/streamstore) sharing the same namespace and kind
// immutability rule. It is the single owner of the top-level key→entry
// map; a stream's own contents are owned and locked by the
// streamstore.Stream it points to, matching the design note that the
// stream wait-set is a per-key resource, not a store-wide one.
package store

import (
	"sync"
	"time"

	"github.com/NHR-FAU/kvstore/internal/streamstore"
)

// Kind classifies what an entry currently holds. KindNone is only ever
// returned from Type, never stored.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// ErrWrongKind is returned when a command would assign a different kind
// to an existing key, or operate on the wrong kind for the key.
var ErrWrongKind = wrongKindError{}

type wrongKindError struct{}

func (wrongKindError) Error() string {
	return "WRONGTYPE Operation against a key holding the wrong kind of value"
}

type entry struct {
	kind      Kind
	createdAt time.Time
	expireAt  time.Time // zero Time means "never"
	str       []byte
	stream    *streamstore.Stream
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// Store is the server's in-memory key namespace. All methods are safe
// for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time
}

// New returns an empty Store. now is injectable for deterministic expiry
// tests; production callers should pass time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{data: make(map[string]*entry), now: now}
}

// Get performs a read-through lookup with lazy expiry: an expired entry
// is removed before "missing" is reported, with no other side effect.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil, false
	}
	if e.kind != KindString {
		return nil, false
	}
	return e.str, true
}

// Set unconditionally replaces any existing entry for key, regardless of
// its previous kind.
func (s *Store) Set(key string, val []byte, expireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{
		kind:      KindString,
		createdAt: s.now(),
		expireAt:  expireAt,
		str:       val,
	}
}

// Del removes the given keys (already-expired keys count as absent) and
// returns how many were actually removed.
func (s *Store) Del(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, k := range keys {
		e, ok := s.data[k]
		if !ok {
			continue
		}
		if e.expired(now) {
			delete(s.data, k)
			continue
		}
		delete(s.data, k)
		removed++
	}
	return removed
}

// Exists counts how many of the given keys are currently live.
func (s *Store) Exists(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, k := range keys {
		e, ok := s.data[k]
		if !ok {
			continue
		}
		if e.expired(now) {
			delete(s.data, k)
			continue
		}
		count++
	}
	return count
}

// Keys returns every live key, expiry-checked in the same pass. Order is
// unspecified but stable for the duration of the call.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			continue
		}
		out = append(out, k)
	}
	return out
}

// Type reports "string", "stream", or "none" for an absent/expired key.
func (s *Store) Type(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return KindNone.String()
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return KindNone.String()
	}
	return e.kind.String()
}

// Stream returns the existing stream stored at key, if any. It never
// creates one; XRANGE/XREAD against a key with no stream treat it as
// empty rather than creating state. ErrWrongKind is returned if key
// holds a string.
func (s *Store) Stream(key string) (*streamstore.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil, nil
	}
	if e.kind != KindStream {
		return nil, ErrWrongKind
	}
	return e.stream, nil
}

// StreamForAppend returns the stream stored at key, creating an empty
// one if key is absent or expired. It fails with ErrWrongKind if key
// already holds a string.
func (s *Store) StreamForAppend(key string) (*streamstore.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if ok && e.expired(s.now()) {
		delete(s.data, key)
		ok = false
	}
	if ok {
		if e.kind != KindStream {
			return nil, ErrWrongKind
		}
		return e.stream, nil
	}

	st := streamstore.New()
	s.data[key] = &entry{
		kind:      KindStream,
		createdAt: s.now(),
		expireAt:  time.Time{},
		stream:    st,
	}
	return st, nil
}

// RunActiveExpiryCycle scans keys with a finite expiry and removes the
// ones already expired, stopping once limit keys have been removed
// (limit <= 0 means no cap). It is a pure optimization layered on top
// of lazy expiry (internal/store's Get/Type/Keys/Exists already enforce
// expiry on every access); disabling the sweep entirely changes no
// externally observable behavior, only latency of reclaiming memory.
// Returns the number of keys removed.
func (s *Store) RunActiveExpiryCycle(limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.data {
		if limit > 0 && removed >= limit {
			break
		}
		if e.expireAt.IsZero() {
			continue
		}
		if now.After(e.expireAt) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// LoadSnapshotEntries installs keys restored from a snapshot: at startup,
// and on a follower after each full resync from its leader. Each entry
// replaces any existing key of the same name; other keys are left as
// they are.
func (s *Store) LoadSnapshotEntries(entries map[string]SnapshotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, se := range entries {
		expireAt := time.Time{}
		if se.ExpireAtMillis > 0 {
			expireAt = time.UnixMilli(se.ExpireAtMillis)
		}
		s.data[k] = &entry{
			kind:      KindString,
			createdAt: now,
			expireAt:  expireAt,
			str:       se.Value,
		}
	}
}

// ExportSnapshotEntries returns every live string key as a snapshot
// entry, suitable for Encode. Stream keys are not persisted (the
// snapshot format is a string-only subset); expired keys are swept as a
// side effect of the scan, same as any other read.
func (s *Store) ExportSnapshotEntries() map[string]SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]SnapshotEntry)
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			continue
		}
		if e.kind != KindString {
			continue
		}
		var expireMillis int64
		if !e.expireAt.IsZero() {
			expireMillis = e.expireAt.UnixMilli()
		}
		out[k] = SnapshotEntry{Value: e.str, ExpireAtMillis: expireMillis}
	}
	return out
}

// SnapshotEntry is the shape a snapshot loader hands back for each
// restored key: a value plus an optional absolute-expiry-millis (0 means
// "never").
type SnapshotEntry struct {
	Value          []byte
	ExpireAtMillis int64
}
