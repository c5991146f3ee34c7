// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/google/uuid"
)

// Leader holds the replication state a leader-role server keeps: its
// replication ID, the running count of bytes ever propagated (used for
// INFO's master_repl_offset), and the replica registry.
type Leader struct {
	ReplID   string
	Registry *Registry

	offset int64
}

// NewLeader starts a fresh leader replication state with a freshly
// minted replication ID.
func NewLeader() *Leader {
	return &Leader{ReplID: GenerateReplID(), Registry: NewRegistry()}
}

// Offset reports the total bytes ever propagated to replicas.
func (l *Leader) Offset() int64 { return atomic.LoadInt64(&l.offset) }

// Propagate re-encodes args as a RESP array of bulk strings and writes
// it to every registered replica, in join order. A write failure on one
// replica does not stop propagation to the others; the failed replica
// is left for its own connection loop to notice and deregister.
func (l *Leader) Propagate(args []string) error {
	encoded, err := resp.EncodeBytes(resp.BulkArray(args...))
	if err != nil {
		return err
	}
	for _, h := range l.Registry.snapshot() {
		_ = h.write(encoded)
	}
	atomic.AddInt64(&l.offset, int64(len(encoded)))
	return nil
}

// Wait blocks until n replicas have acknowledged at least the leader's
// bytes-propagated count as of the call, ctx is canceled, or timeout
// elapses. Replicas with nothing outstanding (bytes_propagated == 0)
// count as already satisfied. It returns the number of replicas that
// met the bar, which may be less than n on timeout or cancellation.
//
// By design, the GETACK probe bytes sent to gather acknowledgements are
// folded into each probed replica's bytes_propagated only after the
// wait resolves, so an ACK reporting the pre-GETACK offset is still
// counted as satisfying this call.
func (l *Leader) Wait(ctx context.Context, n int64, timeout time.Duration) int64 {
	type target struct {
		h      *ReplicaHandle
		needed int64
	}

	handles := l.Registry.snapshot()
	satisfied := int64(0)
	targets := make([]target, 0, len(handles))
	for _, h := range handles {
		needed := h.BytesPropagated()
		if needed == 0 {
			satisfied++
			continue
		}
		targets = append(targets, target{h: h, needed: needed})
	}

	getack, err := resp.EncodeBytes(resp.BulkArray("REPLCONF", "GETACK", "*"))
	if err == nil {
		for _, t := range targets {
			t.h.writeMu.Lock()
			_, werr := t.h.Conn.Write(getack)
			t.h.writeMu.Unlock()
			if werr != nil {
				continue
			}
		}
	}

	count := func() int64 {
		c := satisfied
		for _, t := range targets {
			if t.h.BytesAcked() >= t.needed {
				c++
			}
		}
		return c
	}

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		c := count()
		if c >= n || (hasDeadline && !time.Now().Before(deadline)) {
			for _, t := range targets {
				atomic.AddInt64(&t.h.bytesPropagated, int64(len(getack)))
			}
			if c > n {
				c = n
			}
			return c
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c := count()
			for _, t := range targets {
				atomic.AddInt64(&t.h.bytesPropagated, int64(len(getack)))
			}
			return c
		}
	}
}

// Ack records a REPLCONF ACK <offset> reported by a replica.
func (l *Leader) Ack(id uuid.UUID, offset int64) {
	for _, h := range l.Registry.snapshot() {
		if h.ID == id {
			h.setAcked(offset)
			return
		}
	}
}
