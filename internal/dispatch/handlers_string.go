// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"strconv"
	"time"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/resp"
)

func (d *Dispatcher) handlePing(c command.Ping) Reply {
	if c.HasMsg {
		return clientReply(resp.NewBulk(c.Message))
	}
	return clientReply(resp.NewSimple("PONG"))
}

func (d *Dispatcher) handleSet(c command.Set) Reply {
	expireAt := time.Time{}
	if c.HasPX {
		expireAt = time.Now().Add(time.Duration(c.PXMilli) * time.Millisecond)
	}
	d.Store.Set(c.Key, c.Value, expireAt)

	args := []string{"SET", c.Key, string(c.Value)}
	if c.HasPX {
		args = append(args, "PX", strconv.FormatInt(c.PXMilli, 10))
	}
	d.propagate(args)

	return clientReply(resp.NewSimple("OK"))
}

func (d *Dispatcher) handleGet(c command.Get) Reply {
	v, ok := d.Store.Get(c.Key)
	if !ok {
		return clientReply(resp.NewNullBulk())
	}
	return clientReply(resp.NewBulk(v))
}

func (d *Dispatcher) handleDel(c command.Del) Reply {
	n := d.Store.Del(c.Keys...)
	if n > 0 {
		d.propagate(append([]string{"DEL"}, c.Keys...))
	}
	return clientReply(resp.NewInt(int64(n)))
}

func (d *Dispatcher) handleExists(c command.Exists) Reply {
	return clientReply(resp.NewInt(int64(d.Store.Exists(c.Keys...))))
}

func (d *Dispatcher) handleKeys(c command.Keys) Reply {
	keys := d.Store.Keys()
	elems := make([]resp.Value, len(keys))
	for i, k := range keys {
		elems[i] = resp.NewBulkString(k)
	}
	return clientReply(resp.NewArray(elems...))
}

func (d *Dispatcher) handleType(c command.TypeKey) Reply {
	return clientReply(resp.NewSimple(d.Store.Type(c.Key)))
}

func (d *Dispatcher) handleConfigGet(c command.ConfigGet) Reply {
	var val string
	switch c.Param {
	case "dir":
		val = d.Dir
	case "dbfilename":
		val = d.DBFilename
	default:
		return clientReply(resp.NewArray())
	}
	return clientReply(resp.NewArray(resp.NewBulkString(c.Param), resp.NewBulkString(val)))
}
