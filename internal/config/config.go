// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the server's startup configuration: built-in
// defaults, optionally overlaid by a JSON config file (validated
// against the embedded schema before being decoded). The caller
// (cmd/kvstore) then layers whichever CLI flags the operator actually
// passed on top. A .env file is first loaded into the process
// environment via joho/godotenv; no Config field is read from the
// environment.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the full set of knobs a kvstore process can be started
// with.
type Config struct {
	Port                 int    `json:"port"`
	ReplicaOf            string `json:"replicaof"`
	Dir                  string `json:"dir"`
	DBFilename           string `json:"dbfilename"`
	AdminAddr            string `json:"admin-addr"`
	NatsURL              string `json:"nats-url"`
	ActiveExpiry         bool   `json:"active-expiry"`
	ActiveExpiryInterval string `json:"active-expiry-interval"`
	LogLevel             string `json:"loglevel"`
	LogDate              bool   `json:"logdate"`
	Gops                 bool   `json:"gops"`
}

// Defaults returns the built-in configuration a bare `kvstore` process
// starts with, absent any config file or flags.
func Defaults() Config {
	return Config{
		Port:                 6379,
		Dir:                  "./var",
		DBFilename:           "dump.kvs",
		ActiveExpiry:         true,
		ActiveExpiryInterval: "100ms",
		LogLevel:             "info",
	}
}

// Load reads a .env file if present (best-effort; a missing .env is not
// an error), then overlays configPath's JSON contents, if any, onto
// Defaults(). A present-but-malformed config file, or one failing
// schema validation, is always an error.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Defaults()
	if configPath == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", configPath, err)
	}

	if err := validateAgainstSchema(bytes.NewReader(raw)); err != nil {
		return Config{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", configPath, err)
	}
	return cfg, nil
}
