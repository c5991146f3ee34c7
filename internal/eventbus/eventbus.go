// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventbus publishes operational lifecycle events (cmd/kvstore
// publishes the leader role at startup and client connects and
// disconnects; no replica or WAIT events are published) to an optional
// NATS subject, adapted from a singleton connect/publish/
// subscribe wrapper in pkg/nats/client.go. Unlike that package, this
// one is publish-only, best-effort, and always safe to call: with no
// --nats-url configured, Bus is nil and every Publish call on it is a
// documented no-op, so callers never need a "is this
// enabled" branch of their own.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/NHR-FAU/kvstore/pkg/log"
	"github.com/nats-io/nats.go"
)

// Event is the JSON envelope published on every kvstore.events.* subject.
type Event struct {
	Subject string         `json:"subject"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Bus publishes best-effort JSON events to NATS. The zero value is not
// usable; a nil *Bus is, and its Publish is a no-op, so a server run
// without --nats-url can hold a nil Bus throughout.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// Connect dials addr and returns a Bus publishing to it. Connection
// failures are never fatal to the caller: the server's event stream is
// an operational nicety, never a correctness dependency.
func Connect(addr string) (*Bus, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := nats.Connect(addr,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("eventbus: disconnected: %s", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("eventbus: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to %q: %w", addr, err)
	}
	log.Infof("eventbus: connected to %s", addr)
	return &Bus{conn: conn}, nil
}

// Publish sends ev on subject "kvstore.events.<suffix>". Marshal or
// publish failures are logged, never returned: a dropped operational
// event must never interrupt request handling.
func (b *Bus) Publish(suffix string, fields map[string]any) {
	if b == nil {
		return
	}
	subject := "kvstore.events." + suffix
	payload, err := json.Marshal(Event{Subject: subject, Fields: fields})
	if err != nil {
		log.Warnf("eventbus: marshal event for %q: %s", subject, err.Error())
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.Publish(subject, payload); err != nil {
		log.Warnf("eventbus: publish to %q: %s", subject, err.Error())
	}
}

// Close flushes and closes the underlying NATS connection. Safe on a
// nil Bus.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Flush()
	b.conn.Close()
}
