// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/streamstore"
)

func (d *Dispatcher) handleXAdd(c command.XAdd) Reply {
	st, err := d.Store.StreamForAppend(c.Key)
	if err != nil {
		return errorReply(err.Error())
	}

	id, err := st.Add(c.IDSpec, c.Fields, uint64(time.Now().UnixMilli()))
	if err != nil {
		if errors.Is(err, streamstore.ErrEqualOrSmaller) || errors.Is(err, streamstore.ErrMustExceedZero) || errors.Is(err, streamstore.ErrInvalidID) {
			return errorReply(err.Error())
		}
		return errorReply("ERR " + err.Error())
	}

	args := make([]string, 0, 3+len(c.Fields)*2)
	args = append(args, "XADD", c.Key, id.String())
	for _, f := range c.Fields {
		args = append(args, string(f.Name), string(f.Value))
	}
	d.propagate(args)

	return clientReply(resp.NewBulkString(id.String()))
}

func (d *Dispatcher) handleXRange(c command.XRange) Reply {
	st, err := d.Store.Stream(c.Key)
	if err != nil {
		return errorReply(err.Error())
	}
	start, err := streamstore.ParseBound(c.Start, false)
	if err != nil {
		return errorReply(streamstore.ErrInvalidID.Error())
	}
	end, err := streamstore.ParseBound(c.End, true)
	if err != nil {
		return errorReply(streamstore.ErrInvalidID.Error())
	}
	if st == nil {
		return clientReply(resp.NewArray())
	}
	return clientReply(encodeEntries(st.Range(start, end)))
}

func (d *Dispatcher) handleXRead(ctx context.Context, c command.XRead) Reply {
	afters := make([]streamstore.ID, len(c.StreamKeys))
	streams := make([]*streamstore.Stream, len(c.StreamKeys))

	for i, key := range c.StreamKeys {
		st, err := d.Store.Stream(key)
		if err != nil {
			return errorReply(err.Error())
		}
		streams[i] = st

		startSpec := c.Starts[i]
		if startSpec == "$" {
			if st != nil {
				afters[i] = st.Top()
			}
			continue
		}
		id, perr := streamstore.ParseBound(startSpec, false)
		if perr != nil {
			return errorReply(streamstore.ErrInvalidID.Error())
		}
		afters[i] = id
	}

	results := d.collectXRead(c.StreamKeys, streams, afters)
	if len(results) > 0 || !c.Block {
		return clientReply(buildXReadReply(c.StreamKeys, results))
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if c.BlockMilli > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(c.BlockMilli)*time.Millisecond)
		defer cancel()
	}

	live := make([]*streamstore.Stream, 0, len(streams))
	for _, st := range streams {
		if st != nil {
			live = append(live, st)
		}
	}
	if d.OnStreamWait != nil {
		d.OnStreamWait(1)
		defer d.OnStreamWait(-1)
	}
	streamstore.WaitAny(waitCtx, live, 0)

	results = d.collectXRead(c.StreamKeys, streams, afters)
	if len(results) == 0 {
		return clientReply(resp.NewNullArray())
	}
	return clientReply(buildXReadReply(c.StreamKeys, results))
}

// collectXRead re-resolves each stream key (it may have been created by
// an XADD that raced with this call) and gathers entries after the
// recorded cursor for every key that now has any.
func (d *Dispatcher) collectXRead(keys []string, cached []*streamstore.Stream, afters []streamstore.ID) map[string][]streamstore.Entry {
	out := make(map[string][]streamstore.Entry)
	for i, key := range keys {
		st := cached[i]
		if st == nil {
			var err error
			st, err = d.Store.Stream(key)
			if err != nil || st == nil {
				continue
			}
		}
		entries := st.After(afters[i])
		if len(entries) > 0 {
			out[key] = entries
		}
	}
	return out
}

func buildXReadReply(keys []string, results map[string][]streamstore.Entry) resp.Value {
	elems := make([]resp.Value, 0, len(results))
	for _, key := range keys {
		entries, ok := results[key]
		if !ok {
			continue
		}
		elems = append(elems, resp.NewArray(resp.NewBulkString(key), encodeEntries(entries)))
	}
	return resp.NewArray(elems...)
}

func encodeEntries(entries []streamstore.Entry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fields = append(fields, resp.NewBulkString(string(f.Name)), resp.NewBulkString(string(f.Value)))
		}
		out[i] = resp.NewArray(resp.NewBulkString(e.ID.String()), resp.NewArray(fields...))
	}
	return resp.NewArray(out...)
}
