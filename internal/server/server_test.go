// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/NHR-FAU/kvstore/internal/dispatch"
	"github.com/NHR-FAU/kvstore/internal/replication"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, disp *dispatch.Dispatcher) (*Server, func()) {
	t.Helper()
	srv := &Server{Addr: "127.0.0.1:0", Dispatcher: disp}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	return srv, func() {
		cancel()
		<-done
	}
}

func readReply(t *testing.T, conn net.Conn) resp.Value {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		v, n, err := resp.Decode(buf)
		if err == nil {
			return v
		}
		require.ErrorIs(t, err, resp.ErrIncomplete)
		k, err := conn.Read(readBuf)
		require.NoError(t, err)
		buf = append(buf, readBuf[:k]...)
	}
}

func TestServerPingPong(t *testing.T) {
	disp := &dispatch.Dispatcher{Store: store.New(nil), Role: dispatch.RoleStandalone}
	srv, stop := startServer(t, disp)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, resp.Encode(conn, resp.BulkArray("PING")))
	v := readReply(t, conn)
	assert.Equal(t, resp.NewSimple("PONG"), v)
}

func TestServerSetGetRoundTrip(t *testing.T) {
	disp := &dispatch.Dispatcher{Store: store.New(nil), Role: dispatch.RoleStandalone}
	srv, stop := startServer(t, disp)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, resp.Encode(conn, resp.BulkArray("SET", "foo", "bar")))
	assert.Equal(t, resp.NewSimple("OK"), readReply(t, conn))

	require.NoError(t, resp.Encode(conn, resp.BulkArray("GET", "foo")))
	assert.Equal(t, resp.NewBulk([]byte("bar")), readReply(t, conn))
}

func TestServerProtocolErrorClosesConnection(t *testing.T) {
	disp := &dispatch.Dispatcher{Store: store.New(nil), Role: dispatch.RoleStandalone}
	srv, stop := startServer(t, disp)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*notanumber\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "ERR Protocol error")

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestServerPsyncRegistersReplicaAndPropagates(t *testing.T) {
	leader := replication.NewLeader()
	disp := &dispatch.Dispatcher{Store: store.New(nil), Role: dispatch.RoleLeader, Leader: leader}
	disp.OnPropagate = func(args []string) { leader.Propagate(args) }
	srv, stop := startServer(t, disp)
	defer stop()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, resp.Encode(conn, resp.BulkArray("PSYNC", "?", "-1")))
	fullresync := readReply(t, conn)
	require.Equal(t, resp.Simple, fullresync.Kind)
	assert.Contains(t, fullresync.Str, "FULLRESYNC")

	require.Eventually(t, func() bool {
		return leader.Registry.Count() == 1
	}, time.Second, 10*time.Millisecond)

	writer, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, resp.Encode(writer, resp.BulkArray("SET", "k", "v")))
	assert.Equal(t, resp.NewSimple("OK"), readReply(t, writer))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "SET")
}
