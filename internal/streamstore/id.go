// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package streamstore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is a stream entry identifier: a lexicographically ordered pair of
// non-negative 64-bit integers, rendered "ms-seq". All comparisons
// happen on the integer pair, never on the string form.
type ID struct {
	Ms  uint64
	Seq uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// Greater reports whether id sorts strictly after other.
func (id ID) Greater(other ID) bool {
	return other.Less(id)
}

var maxID = ID{Ms: math.MaxUint64, Seq: math.MaxUint64}

// Spec is a parsed (but not yet resolved against a stream's top) XADD id
// argument: one of "*", "ms-*", or "ms-seq".
type Spec struct {
	MsWildcard  bool
	SeqWildcard bool
	Ms          uint64
	Seq         uint64
}

var ErrInvalidID = errors.New("ERR Invalid stream ID specified as stream command argument")

// ParseSpec accepts exactly the three XADD id forms: "*",
// "ms-*", and "ms-seq".
func ParseSpec(s string) (Spec, error) {
	if s == "*" {
		return Spec{MsWildcard: true, SeqWildcard: true}, nil
	}

	ms, rest, ok := strings.Cut(s, "-")
	if !ok {
		return Spec{}, ErrInvalidID
	}
	msVal, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return Spec{}, ErrInvalidID
	}
	if rest == "*" {
		return Spec{Ms: msVal, SeqWildcard: true}, nil
	}
	seqVal, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return Spec{}, ErrInvalidID
	}
	return Spec{Ms: msVal, Seq: seqVal}, nil
}

var (
	ErrEqualOrSmaller = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	ErrMustExceedZero = errors.New("ERR The ID specified in XADD must be greater than 0-0")
)

// Resolve turns a parsed Spec into a concrete ID given the stream's
// current top entry (hasTop false for an empty stream) and the current
// wall-clock time in milliseconds, and enforces the strict-increase
// monotonicity invariant.
func Resolve(spec Spec, top ID, hasTop bool, nowMillis uint64) (ID, error) {
	ms := spec.Ms
	if spec.MsWildcard {
		ms = nowMillis
	}

	var seq uint64
	switch {
	case spec.SeqWildcard:
		switch {
		case hasTop && top.Ms == ms:
			seq = top.Seq + 1
		case !hasTop:
			if ms == 0 {
				seq = 0
			} else {
				seq = 1
			}
		default:
			seq = 0
		}
	default:
		seq = spec.Seq
	}

	id := ID{Ms: ms, Seq: seq}
	if hasTop {
		if !id.Greater(top) {
			return ID{}, ErrEqualOrSmaller
		}
	} else if !id.Greater(ID{}) {
		return ID{}, ErrMustExceedZero
	}
	return id, nil
}
