// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/NHR-FAU/kvstore/internal/store"
)

const (
	magic   = "REDIS"
	version = "0011"

	opAux        = 0xFA
	opSelectDB   = 0xFE
	opResizeDB   = 0xFB
	opExpireMS   = 0xFC
	opEOF        = 0xFF
	typeString   = 0x00
	lenMask6     = 0b00
	lenMask14    = 0b01
	lenMask32    = 0b10
	lenMaskSpec  = 0b11
	lenTopBits   = 0b11000000
)

// Encode renders entries in the binary subset format this package defines:
// a "REDIS" magic + version header, a SELECTDB/RESIZEDB pair, one
// EXPIRETIME-MS-prefixed record per key with a finite expiry, a
// type+key+value record for every key, and a trailing EOF opcode.
func Encode(entries map[string]store.SnapshotEntry) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteString(version)

	buf.WriteByte(opSelectDB)
	writeLength(&buf, 0)

	buf.WriteByte(opResizeDB)
	writeLength(&buf, uint64(len(entries)))
	expiringCount := 0
	for _, e := range entries {
		if e.ExpireAtMillis > 0 {
			expiringCount++
		}
	}
	writeLength(&buf, uint64(expiringCount))

	for key, e := range entries {
		if e.ExpireAtMillis > 0 {
			buf.WriteByte(opExpireMS)
			var tsBuf [8]byte
			binary.LittleEndian.PutUint64(tsBuf[:], uint64(e.ExpireAtMillis))
			buf.Write(tsBuf[:])
		}
		buf.WriteByte(typeString)
		writeString(&buf, []byte(key))
		writeString(&buf, e.Value)
	}

	buf.WriteByte(opEOF)
	var checksum [8]byte // checksum verification is a Non-goal; zero means "unchecked"
	buf.Write(checksum[:])
	return buf.Bytes()
}

// Parse reads back what Encode produced, tolerating (and skipping) the
// opAux metadata opcode since nothing in this server emits it but a
// genuine Redis-produced dump file may.
func Parse(data []byte) (map[string]store.SnapshotEntry, error) {
	r := &byteReader{buf: data}

	hdr, err := r.readN(9)
	if err != nil {
		return nil, fmt.Errorf("snapshot: short header: %w", err)
	}
	if string(hdr[:5]) != magic {
		return nil, fmt.Errorf("snapshot: bad magic %q", hdr[:5])
	}

	out := make(map[string]store.SnapshotEntry)
	var pendingExpireMS int64

	for {
		op, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("snapshot: truncated stream: %w", err)
		}
		switch op {
		case opEOF:
			if _, err := r.readN(8); err != nil {
				return nil, fmt.Errorf("snapshot: truncated checksum: %w", err)
			}
			return out, nil
		case opSelectDB:
			if _, _, err := readLength(r); err != nil {
				return nil, err
			}
		case opResizeDB:
			if _, _, err := readLength(r); err != nil {
				return nil, err
			}
			if _, _, err := readLength(r); err != nil {
				return nil, err
			}
		case opAux:
			if _, err := readStringVal(r); err != nil {
				return nil, err
			}
			if _, err := readStringVal(r); err != nil {
				return nil, err
			}
		case opExpireMS:
			tsBuf, err := r.readN(8)
			if err != nil {
				return nil, fmt.Errorf("snapshot: truncated expire timestamp: %w", err)
			}
			pendingExpireMS = int64(binary.LittleEndian.Uint64(tsBuf))
		case typeString:
			key, err := readStringVal(r)
			if err != nil {
				return nil, fmt.Errorf("snapshot: key: %w", err)
			}
			val, err := readStringVal(r)
			if err != nil {
				return nil, fmt.Errorf("snapshot: value: %w", err)
			}
			out[string(key)] = store.SnapshotEntry{Value: val, ExpireAtMillis: pendingExpireMS}
			pendingExpireMS = 0
		default:
			return nil, fmt.Errorf("snapshot: unsupported opcode 0x%02x", op)
		}
	}
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("eof")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("eof")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// writeLength encodes n using the 6-bit/14-bit/32-bit prefix scheme: the
// smallest form that fits is always chosen.
func writeLength(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 1<<6:
		buf.WriteByte(byte(n))
	case n < 1<<14:
		buf.WriteByte(lenMask14<<6 | byte(n>>8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(lenMask32 << 6)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	}
}

// readLength reads a length prefix, reporting via isInt whether the
// prefix instead held one of the three special-integer encodings (an
// inline 1/2/4-byte little-endian integer in place of a length this
// server never emits itself but a genuine Redis dump may use). When
// isInt is true, the returned value is the integer itself, not a
// byte count to follow.
func readLength(r *byteReader) (n uint64, isInt bool, err error) {
	first, err := r.readByte()
	if err != nil {
		return 0, false, err
	}
	switch first & lenTopBits >> 6 {
	case lenMask6:
		return uint64(first & 0x3F), false, nil
	case lenMask14:
		second, err := r.readByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), false, nil
	case lenMask32:
		b, err := r.readN(4)
		if err != nil {
			return 0, false, err
		}
		return uint64(binary.BigEndian.Uint32(b)), false, nil
	default: // lenMaskSpec
		v, err := readSpecialInt(r, first&0x3F)
		if err != nil {
			return 0, false, err
		}
		return uint64(v), true, nil
	}
}

// readSpecialInt reads the 1/2/4-byte little-endian signed integer a
// special-integer length prefix selects via its low 6 bits.
func readSpecialInt(r *byteReader, width byte) (int64, error) {
	switch width {
	case 0:
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		return int64(int8(b)), nil
	case 1:
		b, err := r.readN(2)
		if err != nil {
			return 0, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case 2:
		b, err := r.readN(4)
		if err != nil {
			return 0, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	default:
		return 0, fmt.Errorf("snapshot: unsupported special-integer width %d", width)
	}
}

func writeString(buf *bytes.Buffer, s []byte) {
	writeLength(buf, uint64(len(s)))
	buf.Write(s)
}

// readStringVal reads a length-prefixed byte string, or, when the
// prefix is a special-integer encoding, the decimal rendering of the
// inline integer value (the same string a caller would see had the
// value been written out as an ordinary length-prefixed string).
func readStringVal(r *byteReader) ([]byte, error) {
	n, isInt, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if isInt {
		return []byte(strconv.FormatInt(int64(n), 10)), nil
	}
	return r.readN(int(n))
}
