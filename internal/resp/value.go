// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resp implements the self-delimiting, typed wire format used by
// both client connections and the leader-follower replication stream: a
// small family of CRLF-terminated lines (+simple, -error, :integer,
// $bulk, *array) plus one replication-only raw frame that looks like a
// bulk string but carries no trailing CRLF.
package resp

import "fmt"

// Kind identifies which of the five wire tokens (or the two null
// variants) a Value holds.
type Kind int

const (
	Simple Kind = iota
	Error
	Int
	Bulk
	NullBulk
	Array
	NullArray
)

// Value is a decoded (or to-be-encoded) protocol element. Only the fields
// relevant to Kind are meaningful; this mirrors the common practice of
// a flat tagged struct over a hot-path decode loop rather than an
// interface, so decoded values are plain structs rather than boxed
// interface values.
type Value struct {
	Kind  Kind
	Str   string  // Simple, Error
	Num   int64   // Int
	Bulk  []byte  // Bulk
	Elems []Value // Array
}

func NewSimple(s string) Value { return Value{Kind: Simple, Str: s} }
func NewError(s string) Value  { return Value{Kind: Error, Str: s} }
func NewInt(n int64) Value     { return Value{Kind: Int, Num: n} }
func NewBulk(b []byte) Value   { return Value{Kind: Bulk, Bulk: b} }
func NewBulkString(s string) Value {
	return Value{Kind: Bulk, Bulk: []byte(s)}
}
func NewNullBulk() Value  { return Value{Kind: NullBulk} }
func NewArray(vs ...Value) Value {
	return Value{Kind: Array, Elems: vs}
}
func NewNullArray() Value { return Value{Kind: NullArray} }

// BulkArray builds an *N\r\n array of bulk strings, the shape used to
// encode a command for propagation or for a handshake request.
func BulkArray(parts ...string) Value {
	elems := make([]Value, len(parts))
	for i, p := range parts {
		elems[i] = NewBulkString(p)
	}
	return NewArray(elems...)
}

// IsNull reports whether v represents a null bulk or a null array.
func (v Value) IsNull() bool {
	return v.Kind == NullBulk || v.Kind == NullArray
}

// String renders a bulk or simple value as a Go string, for callers that
// already know the shape they are dealing with (command argument
// extraction). It panics on other kinds to surface programmer error
// early, mirroring the "reject unknowns early" design note.
func (v Value) String() string {
	switch v.Kind {
	case Bulk:
		return string(v.Bulk)
	case Simple, Error:
		return v.Str
	default:
		panic(fmt.Sprintf("resp: Value.String() called on kind %d", v.Kind))
	}
}
