// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/snapshot"
)

func (d *Dispatcher) handleInfoReplication() Reply {
	var b strings.Builder
	fmt.Fprintf(&b, "role:%s\r\n", d.Role.String())

	switch d.Role {
	case RoleLeader:
		fmt.Fprintf(&b, "master_replid:%s\r\n", d.Leader.ReplID)
		fmt.Fprintf(&b, "master_repl_offset:%d\r\n", d.Leader.Offset())
		fmt.Fprintf(&b, "connected_slaves:%d\r\n", d.Leader.Registry.Count())
	case RoleFollower:
		fmt.Fprintf(&b, "master_repl_offset:%d\r\n", d.Follower.Processed())
	}
	return clientReply(resp.NewBulkString(b.String()))
}

// handleReplConf answers the three REPLCONF forms a leader or follower
// can see: the handshake's listening-port/capa steps (answered here with
// OK; no registry entry exists for the peer yet), a
// GETACK probe a follower must answer by reporting its own processed
// byte count, and an ACK a leader records against the reporting
// replica.
func (d *Dispatcher) handleReplConf(c command.ReplConf, peer net.Addr) Reply {
	if len(c.Args) == 0 {
		return errorReply("ERR wrong number of arguments for 'replconf' command")
	}

	switch strings.ToUpper(c.Args[0]) {
	case "LISTENING-PORT", "CAPA":
		return clientReply(resp.NewSimple("OK"))

	case "GETACK":
		if d.Role != RoleFollower || d.Follower == nil {
			return noReply()
		}
		if !d.Follower.IsLeaderAddr(peer) {
			return noReply()
		}
		offset := strconv.FormatInt(d.Follower.Processed(), 10)
		return clientReply(resp.BulkArray("REPLCONF", "ACK", offset))

	case "ACK":
		if len(c.Args) < 2 || d.Leader == nil {
			return noReply()
		}
		offset, err := strconv.ParseInt(c.Args[1], 10, 64)
		if err != nil {
			return noReply()
		}
		if h, ok := d.Leader.Registry.Find(peer.String()); ok {
			d.Leader.Ack(h.ID, offset)
		}
		return noReply()

	default:
		return errorReply(fmt.Sprintf("ERR unknown REPLCONF option '%s'", c.Args[0]))
	}
}

// handlePsync answers PSYNC ? -1 with a FULLRESYNC header followed by a
// raw snapshot of the current store; the connection loop turns this
// BecomeReplica reply into a replica registration.
func (d *Dispatcher) handlePsync(c command.Psync) Reply {
	if d.Role != RoleLeader || d.Leader == nil {
		return errorReply("ERR PSYNC is only valid against a leader")
	}
	header := fmt.Sprintf("FULLRESYNC %s %d", d.Leader.ReplID, d.Leader.Offset())
	payload := snapshot.Encode(d.Store.ExportSnapshotEntries())
	return Reply{
		Kind: BecomeReplica,
		Frames: []Frame{
			valueFrame(resp.NewSimple(header)),
			rawFrame(payload),
		},
	}
}

// handleWait blocks until enough replicas acknowledge the leader's
// current propagated offset, ctx expires, or the command's own timeout
// elapses.
func (d *Dispatcher) handleWait(ctx context.Context, c command.Wait) Reply {
	if d.Role != RoleLeader || d.Leader == nil {
		return clientReply(resp.NewInt(0))
	}
	n := d.Leader.Wait(ctx, c.NumReplicas, time.Duration(c.TimeoutMs)*time.Millisecond)
	return clientReply(resp.NewInt(n))
}
