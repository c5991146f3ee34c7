// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resp

import (
	"bytes"
	"fmt"
	"io"
)

// Encode writes v to w in wire format. Arrays recurse into their
// elements; nulls of either kind become "$-1\r\n".
func Encode(w io.Writer, v Value) error {
	switch v.Kind {
	case NullBulk, NullArray:
		_, err := io.WriteString(w, "$-1\r\n")
		return err
	case Int:
		_, err := fmt.Fprintf(w, ":%d\r\n", v.Num)
		return err
	case Bulk:
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(v.Bulk)); err != nil {
			return err
		}
		if _, err := w.Write(v.Bulk); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	case Simple:
		_, err := io.WriteString(w, "+"+v.Str+"\r\n")
		return err
	case Error:
		_, err := io.WriteString(w, "-"+v.Str+"\r\n")
		return err
	case Array:
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(v.Elems)); err != nil {
			return err
		}
		for _, e := range v.Elems {
			if err := Encode(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp: cannot encode unknown kind %d", v.Kind)
	}
}

// EncodeBytes is a convenience wrapper returning the encoded bytes of v,
// used by the leader when it needs the exact propagated length before
// writing (bytes_propagated accounting).
func EncodeBytes(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeRawFrame writes the replication-only raw snapshot frame
// "$<len>\r\n<len bytes>" with no trailing CRLF.
func EncodeRawFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n", len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
