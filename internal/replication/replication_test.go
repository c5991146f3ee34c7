// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReplIDLength(t *testing.T) {
	id := GenerateReplID()
	assert.Len(t, id, 40)
	id2 := GenerateReplID()
	assert.NotEqual(t, id, id2)
}

func TestRegistryOrderPreserved(t *testing.T) {
	reg := NewRegistry()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	c3, c4 := net.Pipe()
	defer c3.Close()
	defer c4.Close()

	h1 := reg.Add(c1, "10.0.0.1:1")
	h2 := reg.Add(c3, "10.0.0.2:1")
	assert.Equal(t, 2, reg.Count())

	snap := reg.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, h1.ID, snap[0].ID)
	assert.Equal(t, h2.ID, snap[1].ID)

	reg.Remove(h1.ID)
	assert.Equal(t, 1, reg.Count())
	snap = reg.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, h2.ID, snap[0].ID)

	_ = c2
	_ = c4
}

func TestPropagateAdvancesBytesPropagated(t *testing.T) {
	leader := NewLeader()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	h := leader.Registry.Add(server, "replica:1")

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		client.Read(buf)
		close(done)
	}()

	err := leader.Propagate([]string{"SET", "foo", "bar"})
	require.NoError(t, err)
	<-done

	encoded, _ := resp.EncodeBytes(resp.BulkArray("SET", "foo", "bar"))
	assert.Equal(t, int64(len(encoded)), h.BytesPropagated())
	assert.Equal(t, int64(len(encoded)), leader.Offset())
}

func TestWaitSatisfiedImmediatelyWhenNothingPropagated(t *testing.T) {
	leader := NewLeader()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	leader.Registry.Add(server, "replica:1")

	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n := leader.Wait(ctx, 1, 200*time.Millisecond)
	assert.Equal(t, int64(1), n)
}

func TestWaitTimesOutWhenReplicaNeverAcks(t *testing.T) {
	leader := NewLeader()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	h := leader.Registry.Add(server, "replica:1")

	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	require.NoError(t, leader.Propagate([]string{"SET", "k", "v"}))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n := leader.Wait(ctx, 1, 50*time.Millisecond)
	assert.Equal(t, int64(0), n)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	_ = h
}

func TestWaitSucceedsWhenAckArrives(t *testing.T) {
	leader := NewLeader()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	h := leader.Registry.Add(server, "replica:1")

	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()

	require.NoError(t, leader.Propagate([]string{"SET", "k", "v"}))
	propagated := h.BytesPropagated()

	go func() {
		time.Sleep(20 * time.Millisecond)
		leader.Ack(h.ID, propagated)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n := leader.Wait(ctx, 1, 500*time.Millisecond)
	assert.Equal(t, int64(1), n)
}

func TestFollowerIsLeaderAddrLoopbackEquivalence(t *testing.T) {
	f := &Follower{LeaderHost: "localhost"}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6380}
	assert.True(t, f.IsLeaderAddr(addr))

	other := &net.TCPAddr{IP: net.ParseIP("10.1.1.1"), Port: 6380}
	assert.False(t, f.IsLeaderAddr(other))
}

func TestFollowerAddProcessed(t *testing.T) {
	f := &Follower{}
	f.AddProcessed(37)
	f.AddProcessed(5)
	assert.EqualValues(t, 42, f.Processed())
}
