// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"context"
	"fmt"
	"net"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/replication"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/store"
)

// Role identifies which side of a replication link this server is
// currently playing, driving both INFO replication's role field and
// which commands Dispatch accepts (PSYNC/WAIT only make sense on a
// leader; REPLCONF GETACK only applies to a follower's own link back).
type Role int

const (
	RoleStandalone Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "master"
	case RoleFollower:
		return "slave"
	default:
		return "master"
	}
}

// Dispatcher owns the server's key namespace and replication state and
// turns one parsed command into a Reply. A single Dispatcher is shared
// by every connection goroutine; all mutation goes through the
// store/streamstore/replication packages' own locks.
type Dispatcher struct {
	Store *store.Store
	Role  Role

	Leader   *replication.Leader   // non-nil only when Role == RoleLeader
	Follower *replication.Follower // non-nil only when Role == RoleFollower

	Dir        string
	DBFilename string

	// OnPropagate, if set, is invoked after a write command is applied
	// successfully, with the canonical re-encoded argument vector to
	// fan out to replicas. Kept as a hook rather than calling
	// Leader.Propagate directly so standalone/follower dispatchers never
	// need a nil check at every write site.
	OnPropagate func(args []string)

	// OnStreamWait, if set, is invoked with +1 when an XREAD BLOCK call
	// starts waiting and -1 when it stops, letting a caller track the
	// number of currently blocked readers without this package knowing
	// anything about metrics.
	OnStreamWait func(delta int)
}

// Dispatch applies cmd and returns the Reply describing what the
// connection loop must send and do next. peer identifies the remote
// endpoint issuing cmd, needed for the GETACK loopback check and for
// matching a REPLCONF ACK to its registered replica. ctx bounds any command that
// can block (XREAD BLOCK, WAIT); it should be derived from the
// connection's lifetime composed with the command's own timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command, peer net.Addr) Reply {
	switch c := cmd.(type) {
	case command.Ping:
		return d.handlePing(c)
	case command.Echo:
		return clientReply(resp.NewBulk(c.Message))
	case command.Set:
		return d.handleSet(c)
	case command.Get:
		return d.handleGet(c)
	case command.Del:
		return d.handleDel(c)
	case command.Exists:
		return d.handleExists(c)
	case command.Keys:
		return d.handleKeys(c)
	case command.TypeKey:
		return d.handleType(c)
	case command.XAdd:
		return d.handleXAdd(c)
	case command.XRange:
		return d.handleXRange(c)
	case command.XRead:
		return d.handleXRead(ctx, c)
	case command.InfoReplication:
		return d.handleInfoReplication()
	case command.ReplConf:
		return d.handleReplConf(c, peer)
	case command.Psync:
		return d.handlePsync(c)
	case command.Wait:
		return d.handleWait(ctx, c)
	case command.ConfigGet:
		return d.handleConfigGet(c)
	default:
		return errorReply(fmt.Sprintf("ERR unhandled command %T", cmd))
	}
}

// propagate re-encodes args canonically and fans it out via OnPropagate,
// a no-op when the dispatcher has no registered hook (standalone mode or
// a follower, which never re-propagates what it applies from its own
// leader).
func (d *Dispatcher) propagate(args []string) {
	if d.OnPropagate != nil {
		d.OnPropagate(args)
	}
}
