// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server runs the TCP accept loop and per-connection command
// pipeline: decode a frame, parse it into a command.Command, dispatch
// it, write back whatever the dispatcher says to. One goroutine per
// connection, matching the graceful-shutdown-by-context shape the
// teacher's cmd/cc-backend entry point uses for its own listener
// (cmd/cc-backend/main.go), generalized here from an HTTP server to a
// raw TCP one.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/dispatch"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/pkg/log"
	"github.com/google/uuid"
)

// Server accepts connections on a single listener and feeds every one
// through the shared Dispatcher.
type Server struct {
	Addr       string
	Dispatcher *dispatch.Dispatcher

	// OnConnect/OnDisconnect, if set, are called around each connection's
	// lifetime; internal/eventbus and internal/metrics use these to
	// publish connection-count signals without server knowing either
	// package exists.
	OnConnect    func(peer string)
	OnDisconnect func(peer string)

	ln net.Listener
	wg sync.WaitGroup
}

// Listen binds s.Addr. Call Serve afterward to start accepting.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.Addr, err)
	}
	s.ln = ln
	return nil
}

// Port reports the port Listen actually bound, useful when Addr asked
// for ":0".
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until ctx is canceled or the listener
// otherwise fails, then waits for every in-flight connection goroutine
// to return.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			log.Warnf("server: accept: %s", err.Error())
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr()
	peerStr := peer.String()
	if s.OnConnect != nil {
		s.OnConnect(peerStr)
	}
	defer func() {
		conn.Close()
		if s.OnDisconnect != nil {
			s.OnDisconnect(peerStr)
		}
	}()

	var buf []byte
	readBuf := make([]byte, 4096)
	var replicaID *replicaHandle

	for {
		v, n, err := resp.Decode(buf)
		if err == nil {
			buf = buf[n:]
			if err := s.dispatchOne(ctx, conn, peer, v, &replicaID); err != nil {
				log.Debugf("server: %s: %s", peerStr, err.Error())
				return
			}
			continue
		}
		if !errors.Is(err, resp.ErrIncomplete) {
			resp.Encode(conn, resp.NewError("ERR Protocol error: "+err.Error()))
			return
		}

		n, err = conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			continue
		}
		if err != nil {
			if replicaID != nil {
				s.Dispatcher.Leader.Registry.Remove(replicaID.id)
			}
			return
		}
	}
}

// dispatchOne parses and dispatches a single decoded frame and writes
// back whatever the Reply calls for, switching the connection into
// replica-streaming state on BecomeReplica. Once the connection is a
// registered replica, commands from it are still dispatched but no
// reply is written back.
func (s *Server) dispatchOne(ctx context.Context, conn net.Conn, peer net.Addr, v resp.Value, replicaID **replicaHandle) error {
	elems := v.Elems
	if v.Kind != resp.Array {
		elems = []resp.Value{v}
	}
	cmd, err := command.Parse(elems)
	if err != nil {
		if *replicaID != nil {
			return nil
		}
		return resp.Encode(conn, resp.NewError(err.Error()))
	}

	reply := s.Dispatcher.Dispatch(ctx, cmd, peer)
	if *replicaID != nil {
		// A registered replica's connection only carries propagated
		// commands outbound; nothing it sends gets a reply.
		return nil
	}
	for _, f := range reply.Frames {
		if f.Raw != nil {
			if err := resp.EncodeRawFrame(conn, f.Raw); err != nil {
				return err
			}
			continue
		}
		if err := resp.Encode(conn, f.Value); err != nil {
			return err
		}
	}

	if reply.Kind == dispatch.BecomeReplica && s.Dispatcher.Leader != nil {
		h := s.Dispatcher.Leader.Registry.Add(conn, peer.String())
		*replicaID = &replicaHandle{id: h.ID}
	}
	return nil
}

type replicaHandle struct {
	id uuid.UUID
}
