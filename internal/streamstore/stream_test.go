// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package streamstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(name, value string) Field {
	return Field{Name: []byte(name), Value: []byte(value)}
}

func TestAddAutoSequence(t *testing.T) {
	s := New()

	id1, err := s.Add("5-*", []Field{field("field1", "v1")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "5-1", id1.String())

	id2, err := s.Add("5-*", []Field{field("field1", "v2")}, 0)
	require.NoError(t, err)
	assert.Equal(t, "5-2", id2.String())

	_, err = s.Add("4-0", nil, 0)
	assert.ErrorIs(t, err, ErrEqualOrSmaller)
}

func TestAddEmptyStreamBoundary(t *testing.T) {
	s := New()
	_, err := s.Add("0-0", nil, 0)
	assert.ErrorIs(t, err, ErrMustExceedZero)

	id, err := s.Add("0-1", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "0-1", id.String())
}

func TestAddAutoSequenceEmptyStreamMsPositive(t *testing.T) {
	s := New()
	id, err := s.Add("7-*", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "7-1", id.String())
}

func TestAddAutoSequenceNewMsResetsTo0(t *testing.T) {
	s := New()
	_, err := s.Add("5-1", nil, 0)
	require.NoError(t, err)
	id, err := s.Add("6-*", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "6-0", id.String())
}

func TestAddAutoBoth(t *testing.T) {
	s := New()
	id, err := s.Add("*", nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, ID{Ms: 1000, Seq: 1}, id)
}

func TestStrictlyIncreasing(t *testing.T) {
	s := New()
	var prev ID
	for i := uint64(1); i <= 20; i++ {
		id, err := s.Add("*", nil, i)
		require.NoError(t, err)
		assert.True(t, id.Greater(prev))
		prev = id
	}
}

func TestXRangeInclusive(t *testing.T) {
	s := New()
	_, err := s.Add("1-0", nil, 0)
	require.NoError(t, err)
	_, err = s.Add("2-0", nil, 0)
	require.NoError(t, err)
	_, err = s.Add("3-0", nil, 0)
	require.NoError(t, err)

	start, err := ParseBound("1", false)
	require.NoError(t, err)
	end, err := ParseBound("2", true)
	require.NoError(t, err)

	entries := s.Range(start, end)
	require.Len(t, entries, 2)
	assert.Equal(t, "1-0", entries[0].ID.String())
	assert.Equal(t, "2-0", entries[1].ID.String())
}

func TestXRangeStartAfterEndIsEmptyNotError(t *testing.T) {
	s := New()
	_, _ = s.Add("1-0", nil, 0)
	start, _ := ParseBound("5", false)
	end, _ := ParseBound("1", true)
	entries := s.Range(start, end)
	assert.Empty(t, entries)
}

func TestXRangeSentinels(t *testing.T) {
	s := New()
	_, _ = s.Add("1-0", nil, 0)
	_, _ = s.Add("2-0", nil, 0)
	minus, err := ParseBound("-", false)
	require.NoError(t, err)
	plus, err := ParseBound("+", true)
	require.NoError(t, err)
	entries := s.Range(minus, plus)
	assert.Len(t, entries, 2)
}

func TestAfterExclusive(t *testing.T) {
	s := New()
	_, _ = s.Add("1-0", nil, 0)
	_, _ = s.Add("2-0", nil, 0)
	entries := s.After(ID{Ms: 1, Seq: 0})
	require.Len(t, entries, 1)
	assert.Equal(t, "2-0", entries[0].ID.String())
}

func TestWaitAnyWakesOnAppend(t *testing.T) {
	s := New()
	done := make(chan struct{})
	start := time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		WaitAny(ctx, []*Stream{s}, 0)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := s.Add("4-0", nil, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAny did not wake up on append")
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitAnyTimesOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	WaitAny(ctx, []*Stream{s}, 100*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitAnyCanceledByContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WaitAny(ctx, []*Stream{s}, 0)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAny did not respect context cancellation")
	}
}
