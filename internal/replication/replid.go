// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package replication

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateReplID returns a fresh 40-character lowercase hex replication
// ID. Nothing in the retrieved dependency set mints an arbitrary-length
// hex identifier (google/uuid only produces fixed 36-byte UUID strings),
// so this stays on crypto/rand + encoding/hex rather than forcing a
// UUID into a slot the protocol defines as 40 hex characters.
func GenerateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic("replication: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
