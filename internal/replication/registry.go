// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replication implements the leader and follower halves of the
// PSYNC handshake, ordered command propagation, and the WAIT
// acknowledgement barrier. The replica registry mirrors the connection
// bookkeeping style of internal/memorystore, but keyed by a uuid handle
// instead of a hostname, since a single peer address can reconnect and
// must be treated as a fresh replica each time.
package replication

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ReplicaHandle tracks one connected replica's accounting state. Reads
// of BytesPropagated and BytesAcked must go through the atomic helpers;
// writeMu only serializes the underlying socket writes so propagated
// bytes arrive in leader-issued order.
type ReplicaHandle struct {
	ID       uuid.UUID
	Conn     net.Conn
	PeerAddr string

	writeMu         sync.Mutex
	bytesPropagated int64
	bytesAcked      int64
}

func (h *ReplicaHandle) BytesPropagated() int64 { return atomic.LoadInt64(&h.bytesPropagated) }
func (h *ReplicaHandle) BytesAcked() int64      { return atomic.LoadInt64(&h.bytesAcked) }

// write sends payload to the replica's socket and, on success, advances
// its propagated-byte counter by len(payload). Serialized by writeMu so
// a GETACK probe sent by WAIT can never interleave with a concurrently
// propagated command.
func (h *ReplicaHandle) write(payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.Conn.Write(payload); err != nil {
		return err
	}
	atomic.AddInt64(&h.bytesPropagated, int64(len(payload)))
	return nil
}

// setAcked records a REPLCONF ACK <n>, ignoring backward reports and
// reports beyond bytes_propagated (the monotonicity invariant of acked
// offsets).
func (h *ReplicaHandle) setAcked(n int64) {
	for {
		cur := atomic.LoadInt64(&h.bytesAcked)
		if n <= cur || n > atomic.LoadInt64(&h.bytesPropagated) {
			return
		}
		if atomic.CompareAndSwapInt64(&h.bytesAcked, cur, n) {
			return
		}
	}
}

// Registry holds every currently connected replica, in the order each
// completed its handshake. Propagation iterates that order so the
// fan-out is deterministic across runs with the same join sequence.
type Registry struct {
	mu    sync.Mutex
	order []uuid.UUID
	byID  map[uuid.UUID]*ReplicaHandle
}

// NewRegistry returns an empty replica registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uuid.UUID]*ReplicaHandle)}
}

// Add registers a newly handshaked replica and returns its handle.
func (r *Registry) Add(conn net.Conn, peerAddr string) *ReplicaHandle {
	h := &ReplicaHandle{ID: uuid.New(), Conn: conn, PeerAddr: peerAddr}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, h.ID)
	r.byID[h.ID] = h
	return h
}

// Remove drops a replica, typically once its connection loop observes a
// read error or EOF.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Count reports the number of currently registered replicas.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Find looks up the replica currently registered from peerAddr, the
// form net.Conn.RemoteAddr().String() returns.
func (r *Registry) Find(peerAddr string) (*ReplicaHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if h := r.byID[id]; h.PeerAddr == peerAddr {
			return h, true
		}
	}
	return nil, false
}

// snapshot returns the registered handles in join order. Safe to read
// concurrently from; the handles themselves carry their own atomics.
func (r *Registry) snapshot() []*ReplicaHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ReplicaHandle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Snapshot exposes the registered handles in join order for callers
// outside this package, such as a metrics scrape reporting per-replica
// backlog.
func (r *Registry) Snapshot() []*ReplicaHandle {
	return r.snapshot()
}
