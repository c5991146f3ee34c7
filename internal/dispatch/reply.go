// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch turns a parsed command.Command into effects on the
// store, stream engine, and replication state, and reports back what
// the connection loop must do with the result: write frames to the
// client, register the connection as a replica and start streaming to
// it, or drop it. Modeled as a tagged Reply rather than an io.Writer
// callback so the connection loop stays the only place that touches a
// net.Conn (internal/server), keeping a clean separation between
// request handling and the transport layer.
package dispatch

import "github.com/NHR-FAU/kvstore/internal/resp"

// Kind identifies what the connection loop should do with a Reply.
type Kind int

const (
	// ToClient carries zero or more frames to write back to whichever
	// connection sent the command.
	ToClient Kind = iota
	// BecomeReplica carries the FULLRESYNC header and raw snapshot frame
	// that complete a PSYNC handshake; after writing them the connection
	// loop must register the connection as a replica and stop issuing
	// normal command replies to it.
	BecomeReplica
	// Drop means the connection should be closed with no further reply
	// (reserved for unrecoverable protocol conditions).
	Drop
)

// Frame is one wire unit to write. Exactly one of Value or Raw is set;
// Raw carries the no-trailing-CRLF snapshot frame PSYNC replies with.
type Frame struct {
	Value resp.Value
	Raw   []byte
}

func valueFrame(v resp.Value) Frame { return Frame{Value: v} }
func rawFrame(b []byte) Frame       { return Frame{Raw: b} }

// Reply is what Dispatch returns for every command.
type Reply struct {
	Kind   Kind
	Frames []Frame
}

func clientReply(v resp.Value) Reply {
	return Reply{Kind: ToClient, Frames: []Frame{valueFrame(v)}}
}

func noReply() Reply {
	return Reply{Kind: ToClient}
}

func errorReply(msg string) Reply {
	return clientReply(resp.NewError(msg))
}
