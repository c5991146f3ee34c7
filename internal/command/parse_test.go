// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package command

import (
	"testing"

	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bulkArgs(parts ...string) []resp.Value {
	vals := make([]resp.Value, len(parts))
	for i, p := range parts {
		vals[i] = resp.NewBulkString(p)
	}
	return vals
}

func TestParsePing(t *testing.T) {
	cmd, err := Parse(bulkArgs("PING"))
	require.NoError(t, err)
	assert.Equal(t, Ping{}, cmd)
}

func TestParseSetWithPX(t *testing.T) {
	cmd, err := Parse(bulkArgs("SET", "foo", "bar", "px", "100"))
	require.NoError(t, err)
	set, ok := cmd.(Set)
	require.True(t, ok)
	assert.Equal(t, "foo", set.Key)
	assert.Equal(t, []byte("bar"), set.Value)
	assert.True(t, set.HasPX)
	assert.Equal(t, int64(100), set.PXMilli)
}

func TestParseSetMissingValueIsArityError(t *testing.T) {
	_, err := Parse(bulkArgs("SET", "foo"))
	assert.ErrorAs(t, err, &ArityError{})
}

func TestParseSetPXMissingValue(t *testing.T) {
	_, err := Parse(bulkArgs("SET", "foo", "bar", "PX"))
	assert.ErrorAs(t, err, &ArityError{})
}

func TestParseXAdd(t *testing.T) {
	cmd, err := Parse(bulkArgs("XADD", "s", "5-*", "field1", "v1"))
	require.NoError(t, err)
	xadd, ok := cmd.(XAdd)
	require.True(t, ok)
	assert.Equal(t, "s", xadd.Key)
	assert.Equal(t, "5-*", xadd.IDSpec)
	require.Len(t, xadd.Fields, 1)
	assert.Equal(t, "field1", string(xadd.Fields[0].Name))
}

func TestParseXReadBlockStreams(t *testing.T) {
	cmd, err := Parse(bulkArgs("XREAD", "BLOCK", "500", "STREAMS", "s", "$"))
	require.NoError(t, err)
	xread, ok := cmd.(XRead)
	require.True(t, ok)
	assert.True(t, xread.Block)
	assert.Equal(t, int64(500), xread.BlockMilli)
	assert.Equal(t, []string{"s"}, xread.StreamKeys)
	assert.Equal(t, []string{"$"}, xread.Starts)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse(bulkArgs("FROBNICATE"))
	var uce UnknownCommandError
	assert.ErrorAs(t, err, &uce)
	assert.Equal(t, "FROBNICATE", uce.Name)
}

func TestParseKeysRejectsNonWildcard(t *testing.T) {
	_, err := Parse(bulkArgs("KEYS", "user:*"))
	assert.Error(t, err)
}

func TestParseWait(t *testing.T) {
	cmd, err := Parse(bulkArgs("WAIT", "1", "1000"))
	require.NoError(t, err)
	assert.Equal(t, Wait{NumReplicas: 1, TimeoutMs: 1000}, cmd)
}
