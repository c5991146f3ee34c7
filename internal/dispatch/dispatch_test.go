// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/replication"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher() *Dispatcher {
	return &Dispatcher{Store: store.New(nil), Role: RoleStandalone}
}

func localAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6380}
}

func TestDispatchPing(t *testing.T) {
	d := newDispatcher()
	reply := d.Dispatch(context.Background(), command.Ping{}, localAddr())
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.NewSimple("PONG"), reply.Frames[0].Value)
}

func TestDispatchSetGetWithExpiry(t *testing.T) {
	d := newDispatcher()
	setReply := d.Dispatch(context.Background(), command.Set{Key: "foo", Value: []byte("bar")}, localAddr())
	assert.Equal(t, resp.NewSimple("OK"), setReply.Frames[0].Value)

	getReply := d.Dispatch(context.Background(), command.Get{Key: "foo"}, localAddr())
	assert.Equal(t, resp.NewBulk([]byte("bar")), getReply.Frames[0].Value)

	d.Dispatch(context.Background(), command.Set{Key: "ttl", Value: []byte("v"), HasPX: true, PXMilli: 1}, localAddr())
	time.Sleep(5 * time.Millisecond)
	missReply := d.Dispatch(context.Background(), command.Get{Key: "ttl"}, localAddr())
	assert.True(t, missReply.Frames[0].Value.IsNull())
}

func TestDispatchDelExists(t *testing.T) {
	d := newDispatcher()
	d.Dispatch(context.Background(), command.Set{Key: "a", Value: []byte("1")}, localAddr())
	d.Dispatch(context.Background(), command.Set{Key: "b", Value: []byte("2")}, localAddr())

	existsReply := d.Dispatch(context.Background(), command.Exists{Keys: []string{"a", "b", "missing"}}, localAddr())
	assert.Equal(t, resp.NewInt(2), existsReply.Frames[0].Value)

	delReply := d.Dispatch(context.Background(), command.Del{Keys: []string{"a", "missing"}}, localAddr())
	assert.Equal(t, resp.NewInt(1), delReply.Frames[0].Value)

	existsAfter := d.Dispatch(context.Background(), command.Exists{Keys: []string{"a"}}, localAddr())
	assert.Equal(t, resp.NewInt(0), existsAfter.Frames[0].Value)
}

func TestDispatchXAddAutoAndRejectsSmaller(t *testing.T) {
	d := newDispatcher()
	r1 := d.Dispatch(context.Background(), command.XAdd{Key: "s", IDSpec: "5-*"}, localAddr())
	assert.Equal(t, "5-1", r1.Frames[0].Value.String())

	r2 := d.Dispatch(context.Background(), command.XAdd{Key: "s", IDSpec: "4-0"}, localAddr())
	require.Equal(t, resp.Error, r2.Frames[0].Value.Kind)
}

func TestDispatchXRangeInclusive(t *testing.T) {
	d := newDispatcher()
	d.Dispatch(context.Background(), command.XAdd{Key: "s", IDSpec: "1-0"}, localAddr())
	d.Dispatch(context.Background(), command.XAdd{Key: "s", IDSpec: "2-0"}, localAddr())
	d.Dispatch(context.Background(), command.XAdd{Key: "s", IDSpec: "3-0"}, localAddr())

	rangeReply := d.Dispatch(context.Background(), command.XRange{Key: "s", Start: "1", End: "2"}, localAddr())
	entries := rangeReply.Frames[0].Value
	require.Equal(t, resp.Array, entries.Kind)
	assert.Len(t, entries.Elems, 2)
}

func TestDispatchPropagatesWritesOnly(t *testing.T) {
	var propagated [][]string
	d := newDispatcher()
	d.OnPropagate = func(args []string) { propagated = append(propagated, args) }

	d.Dispatch(context.Background(), command.Set{Key: "k", Value: []byte("v")}, localAddr())
	d.Dispatch(context.Background(), command.Get{Key: "k"}, localAddr())
	d.Dispatch(context.Background(), command.Exists{Keys: []string{"k"}}, localAddr())

	require.Len(t, propagated, 1)
	assert.Equal(t, []string{"SET", "k", "v"}, propagated[0])
}

func TestDispatchWaitOnLeaderWithNoReplicasSucceedsImmediately(t *testing.T) {
	d := &Dispatcher{Store: store.New(nil), Role: RoleLeader, Leader: replication.NewLeader()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply := d.Dispatch(ctx, command.Wait{NumReplicas: 0, TimeoutMs: 100}, localAddr())
	assert.Equal(t, resp.NewInt(0), reply.Frames[0].Value)
}

func TestDispatchPsyncReturnsBecomeReplica(t *testing.T) {
	d := &Dispatcher{Store: store.New(nil), Role: RoleLeader, Leader: replication.NewLeader()}
	d.Dispatch(context.Background(), command.Set{Key: "k", Value: []byte("v")}, localAddr())

	reply := d.Dispatch(context.Background(), command.Psync{ReplID: "?", Offset: "-1"}, localAddr())
	assert.Equal(t, BecomeReplica, reply.Kind)
	require.Len(t, reply.Frames, 2)
	assert.Equal(t, resp.Simple, reply.Frames[0].Value.Kind)
	assert.NotEmpty(t, reply.Frames[1].Raw)
}

func TestDispatchGetAckRejectsNonLeaderPeer(t *testing.T) {
	d := &Dispatcher{
		Store:    store.New(nil),
		Role:     RoleFollower,
		Follower: &replication.Follower{LeaderHost: "10.0.0.1", LeaderPort: "6380"},
	}
	d.Follower.AddProcessed(42)

	impostor := &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6380}
	reply := d.Dispatch(context.Background(), command.ReplConf{Args: []string{"GETACK", "*"}}, impostor)
	assert.Equal(t, ToClient, reply.Kind)
	assert.Empty(t, reply.Frames)
}

func TestDispatchGetAckAnswersLeaderPeer(t *testing.T) {
	d := &Dispatcher{
		Store:    store.New(nil),
		Role:     RoleFollower,
		Follower: &replication.Follower{LeaderHost: "127.0.0.1", LeaderPort: "6380"},
	}
	d.Follower.AddProcessed(42)

	reply := d.Dispatch(context.Background(), command.ReplConf{Args: []string{"GETACK", "*"}}, localAddr())
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.BulkArray("REPLCONF", "ACK", "42"), reply.Frames[0].Value)
}

func TestDispatchInfoReplicationStandalone(t *testing.T) {
	d := newDispatcher()
	reply := d.Dispatch(context.Background(), command.InfoReplication{}, localAddr())
	assert.Contains(t, reply.Frames[0].Value.String(), "role:master")
}
