// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NHR-FAU/kvstore/internal/resp"
)

// Follower tracks a replica server's view of its own replication
// stream: the byte count processed from the leader so far, and the
// leader's network address for the loopback-equivalence check GETACK
// handling needs.
type Follower struct {
	LeaderHost string
	LeaderPort string

	processed int64
}

// Processed reports how many bytes of propagated command stream this
// follower has applied so far.
func (f *Follower) Processed() int64 { return atomic.LoadInt64(&f.processed) }

// AddProcessed advances the processed-byte counter by n, the length of
// the command frame just applied.
func (f *Follower) AddProcessed(n int) { atomic.AddInt64(&f.processed, int64(n)) }

// IsLeaderAddr reports whether addr names the same endpoint this
// follower is replicating from, treating "127.0.0.1" and "localhost" as
// equivalent loopback hosts the way the GETACK reply path needs to
// ("loopback-equivalence peer check"). The port is compared only when
// LeaderPort is set.
func (f *Follower) IsLeaderAddr(addr net.Addr) bool {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	if f.LeaderPort != "" && port != f.LeaderPort {
		return false
	}
	return normalizeHost(host) == normalizeHost(f.LeaderHost)
}

func normalizeHost(h string) string {
	switch h {
	case "localhost", "127.0.0.1", "::1":
		return "loopback"
	default:
		return h
	}
}

// HandshakeResult carries what Handshake learns from the leader: its
// replication ID and the raw snapshot payload to load before applying
// any propagated commands.
type HandshakeResult struct {
	ReplID   string
	Snapshot []byte
	Conn     net.Conn
}

// Handshake performs the four-step PING / REPLCONF listening-port /
// REPLCONF capa psync2 / PSYNC ? -1 sequence against a leader and reads
// back the FULLRESYNC header and raw snapshot frame.
func Handshake(leaderAddr string, listenPort int, timeout time.Duration) (*HandshakeResult, error) {
	conn, err := net.DialTimeout("tcp", leaderAddr, timeout)
	if err != nil {
		return nil, fmt.Errorf("replication: dial leader: %w", err)
	}

	r := newFrameReader(conn)
	deadline := time.Now().Add(timeout)

	send := func(args ...string) error {
		encoded, err := resp.EncodeBytes(resp.BulkArray(args...))
		if err != nil {
			return err
		}
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		_, err = conn.Write(encoded)
		return err
	}

	if err := send("PING"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := r.readValue(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: PING handshake: %w", err)
	}

	if err := send("REPLCONF", "listening-port", strconv.Itoa(listenPort)); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := r.readValue(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: REPLCONF listening-port handshake: %w", err)
	}

	if err := send("REPLCONF", "capa", "psync2"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := r.readValue(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: REPLCONF capa handshake: %w", err)
	}

	if err := send("PSYNC", "?", "-1"); err != nil {
		conn.Close()
		return nil, err
	}
	fullresync, err := r.readValue(deadline)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: PSYNC handshake: %w", err)
	}
	replID, err := parseFullresync(fullresync.String())
	if err != nil {
		conn.Close()
		return nil, err
	}

	snapshot, err := r.readRawFrame(deadline)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("replication: snapshot frame: %w", err)
	}

	// Any bytes the reader buffered past the snapshot frame (propagated
	// commands that arrived before the caller starts its apply loop) are
	// handed back by wrapping conn in a primedConn, which replays them
	// ahead of further reads.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	return &HandshakeResult{ReplID: replID, Snapshot: snapshot, Conn: &primedConn{Conn: conn, leftover: r.buf}}, nil
}

func parseFullresync(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "FULLRESYNC") {
		return "", fmt.Errorf("replication: unexpected PSYNC reply %q", line)
	}
	return fields[1], nil
}

// primedConn replays any bytes buffered by the handshake reader ahead
// of further reads from the real connection, so no propagated command
// that arrived early is lost.
type primedConn struct {
	net.Conn
	leftover []byte
}

func (p *primedConn) Read(b []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(b, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}
