// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"net"
	"time"

	"github.com/NHR-FAU/kvstore/internal/resp"
)

// frameReader accumulates bytes off a connection and decodes them one
// frame at a time, carrying any leftover bytes forward. Handshake steps
// can arrive back-to-back in a single TCP segment (e.g. FULLRESYNC
// immediately followed by the raw snapshot frame), so the leftover
// buffer from one read must feed the next decode attempt rather than
// being discarded.
type frameReader struct {
	conn net.Conn
	buf  []byte
}

func newFrameReader(conn net.Conn) *frameReader {
	return &frameReader{conn: conn}
}

func (r *frameReader) fill(deadline time.Time) error {
	if !deadline.IsZero() {
		if err := r.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
	}
	tmp := make([]byte, 4096)
	n, err := r.conn.Read(tmp)
	if n > 0 {
		r.buf = append(r.buf, tmp[:n]...)
	}
	if n == 0 && err != nil {
		return err
	}
	return nil
}

// readValue decodes the next typed RESP value, blocking on reads until
// one is complete or deadline passes (zero deadline means no limit).
func (r *frameReader) readValue(deadline time.Time) (resp.Value, error) {
	for {
		v, n, err := resp.Decode(r.buf)
		if err == nil {
			r.buf = r.buf[n:]
			return v, nil
		}
		if err != resp.ErrIncomplete {
			return resp.Value{}, err
		}
		if err := r.fill(deadline); err != nil {
			return resp.Value{}, err
		}
	}
}

// readRawFrame decodes the next raw (no trailing CRLF) snapshot frame.
func (r *frameReader) readRawFrame(deadline time.Time) ([]byte, error) {
	for {
		payload, n, err := resp.DecodeRawFrame(r.buf)
		if err == nil {
			r.buf = r.buf[n:]
			return payload, nil
		}
		if err != resp.ErrIncomplete {
			return nil, err
		}
		if err := r.fill(deadline); err != nil {
			return nil, err
		}
	}
}
