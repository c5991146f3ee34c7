// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagGops        bool
	flagLogDateTime bool
	flagPort        int

	flagConfigFile, flagReplicaOf, flagDir, flagDBFilename             string
	flagAdminAddr, flagNatsURL, flagLogLevel, flagActiveExpiryInterval string

	flagActiveExpirySet bool
	flagActiveExpiry    bool
)

func cliInit() {
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.IntVar(&flagPort, "port", 0, "Port to listen on (0 uses the config file/default)")
	flag.StringVar(&flagReplicaOf, "replicaof", "", "Replicate from `host:port`; empty starts standalone")
	flag.StringVar(&flagDir, "dir", "", "Directory (or s3://bucket[/prefix]) holding the snapshot file")
	flag.StringVar(&flagDBFilename, "dbfilename", "", "Snapshot file name within --dir")
	flag.StringVar(&flagAdminAddr, "admin-addr", "", "Address for the admin/metrics HTTP sidecar (empty disables it)")
	flag.StringVar(&flagNatsURL, "nats-url", "", "NATS server URL for operational events (empty disables it)")
	flag.BoolVar(&flagActiveExpiry, "active-expiry", true, "Run the background active-expiry sweep in addition to lazy expiry")
	flag.StringVar(&flagActiveExpiryInterval, "active-expiry-interval", "", "Active-expiry sweep interval, e.g. \"100ms\"")
	flag.StringVar(&flagLogLevel, "loglevel", "", "Sets the logging level: `[debug, info, warn, err, crit]`")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "active-expiry" {
			flagActiveExpirySet = true
		}
	})
}
