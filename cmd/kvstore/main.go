// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NHR-FAU/kvstore/internal/command"
	"github.com/NHR-FAU/kvstore/internal/config"
	"github.com/NHR-FAU/kvstore/internal/dispatch"
	"github.com/NHR-FAU/kvstore/internal/eventbus"
	"github.com/NHR-FAU/kvstore/internal/metrics"
	"github.com/NHR-FAU/kvstore/internal/replication"
	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/server"
	"github.com/NHR-FAU/kvstore/internal/snapshot"
	"github.com/NHR-FAU/kvstore/internal/store"
	"github.com/NHR-FAU/kvstore/pkg/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
)

func main() {
	cliInit()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}
	applyFlagOverrides(&cfg)

	log.SetLogLevel(cfg.LogLevel)
	log.SetLogDateTime(cfg.LogDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(nil)
	snapSource, err := snapshot.ParseDir(ctx, cfg.Dir, snapshot.S3SourceConfig{})
	if err != nil {
		log.Fatalf("kvstore: snapshot source %q: %s", cfg.Dir, err.Error())
	}
	if raw, err := snapSource.Load(ctx, cfg.DBFilename); err != nil {
		log.Warnf("kvstore: no snapshot loaded (%s)", err.Error())
	} else {
		entries, err := snapshot.Parse(raw)
		if err != nil {
			log.Warnf("kvstore: corrupt snapshot %q ignored, starting empty: %s", cfg.DBFilename, err.Error())
		} else {
			st.LoadSnapshotEntries(entries)
			log.Infof("kvstore: loaded %d keys from %q", len(entries), cfg.DBFilename)
		}
	}

	bus, err := eventbus.Connect(cfg.NatsURL)
	if err != nil {
		log.Warnf("kvstore: eventbus disabled: %s", err.Error())
	}
	defer bus.Close()

	collector, registry := metrics.NewCollector()

	disp := &dispatch.Dispatcher{
		Store:      st,
		Dir:        cfg.Dir,
		DBFilename: cfg.DBFilename,
		OnStreamWait: func(delta int) {
			collector.StreamWaiters.Add(float64(delta))
		},
	}

	var follower *replication.Follower
	var leader *replication.Leader
	if cfg.ReplicaOf != "" {
		disp.Role = dispatch.RoleFollower
		follower = &replication.Follower{}
		host, port, err := net.SplitHostPort(cfg.ReplicaOf)
		if err != nil {
			log.Fatalf("kvstore: --replicaof %q: %s", cfg.ReplicaOf, err.Error())
		}
		follower.LeaderHost, follower.LeaderPort = host, port
		disp.Follower = follower
	} else {
		disp.Role = dispatch.RoleLeader
		leader = replication.NewLeader()
		disp.Leader = leader
		disp.OnPropagate = func(args []string) {
			collector.CommandsTotal.WithLabelValues(strings.ToLower(args[0])).Inc()
			if err := leader.Propagate(args); err != nil {
				log.Warnf("kvstore: propagate: %s", err.Error())
			}
		}
		bus.Publish("role", map[string]any{"role": "master", "replid": leader.ReplID})
	}

	srv := &server.Server{
		Addr:       fmt.Sprintf(":%d", cfg.Port),
		Dispatcher: disp,
		OnConnect: func(peer string) {
			collector.ConnectedClients.Inc()
			bus.Publish("connect", map[string]any{"peer": peer})
		},
		OnDisconnect: func(peer string) {
			collector.ConnectedClients.Dec()
			bus.Publish("disconnect", map[string]any{"peer": peer})
		},
	}
	if err := srv.Listen(); err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup

	if follower != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runFollower(ctx, disp, follower, cfg, srv.Port())
		}()
	}

	if cfg.AdminAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(cfg.AdminAddr, registry); err != nil {
				log.Warnf("kvstore: admin sidecar stopped: %s", err.Error())
			}
		}()
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("kvstore: scheduler: %s", err.Error())
	}
	schedHasJobs := false

	if leader != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(time.Second),
			gocron.NewTask(func() {
				replicas := leader.Registry.Snapshot()
				collector.ConnectedSlaves.Set(float64(len(replicas)))
				for _, h := range replicas {
					backlog := h.BytesPropagated() - h.BytesAcked()
					collector.ReplicaBacklog.WithLabelValues(h.PeerAddr).Set(float64(backlog))
				}
			}),
		); err != nil {
			log.Fatalf("kvstore: register replica-metrics job: %s", err.Error())
		}
		schedHasJobs = true
	}
	if cfg.ActiveExpiry {
		interval, err := time.ParseDuration(cfg.ActiveExpiryInterval)
		if err != nil {
			log.Fatalf("kvstore: --active-expiry-interval %q: %s", cfg.ActiveExpiryInterval, err.Error())
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				if n := st.RunActiveExpiryCycle(20); n > 0 {
					log.Debugf("kvstore: active-expiry swept %d keys", n)
				}
			}),
		); err != nil {
			log.Fatalf("kvstore: register active-expiry job: %s", err.Error())
		}
		schedHasJobs = true
	}
	if schedHasJobs {
		sched.Start()
		defer sched.Shutdown()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("kvstore: shutting down")
		if err := saveSnapshot(ctx, st, snapSource, cfg.DBFilename); err != nil {
			log.Warnf("kvstore: snapshot save failed: %s", err.Error())
		}
		cancel()
	}()

	log.Infof("kvstore: listening on :%d as %s", cfg.Port, disp.Role.String())
	if err := srv.Serve(ctx); err != nil {
		log.Error(err)
	}
	wg.Wait()
}

// applyFlagOverrides lets explicitly-passed CLI flags win over whatever
// config.Load produced from defaults + config file.
func applyFlagOverrides(cfg *config.Config) {
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagReplicaOf != "" {
		cfg.ReplicaOf = flagReplicaOf
	}
	if flagDir != "" {
		cfg.Dir = flagDir
	}
	if flagDBFilename != "" {
		cfg.DBFilename = flagDBFilename
	}
	if flagAdminAddr != "" {
		cfg.AdminAddr = flagAdminAddr
	}
	if flagNatsURL != "" {
		cfg.NatsURL = flagNatsURL
	}
	if flagActiveExpirySet {
		cfg.ActiveExpiry = flagActiveExpiry
	}
	if flagActiveExpiryInterval != "" {
		cfg.ActiveExpiryInterval = flagActiveExpiryInterval
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogDateTime {
		cfg.LogDate = true
	}
	if flagGops {
		cfg.Gops = true
	}
}

func saveSnapshot(ctx context.Context, st *store.Store, src snapshot.Source, name string) error {
	data := snapshot.Encode(st.ExportSnapshotEntries())
	return src.Save(ctx, name, data)
}

// runFollower performs the replication handshake against the configured
// leader, loads the snapshot it returns, and then applies every command
// streamed over the replication link until ctx is canceled. On any
// handshake or stream error it retries with a short backoff instead of
// exiting the process.
func runFollower(ctx context.Context, disp *dispatch.Dispatcher, follower *replication.Follower, cfg config.Config, listenPort int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := followerSession(ctx, disp, follower, cfg, listenPort); err != nil {
			log.Warnf("kvstore: replication link to %s:%s: %s", follower.LeaderHost, follower.LeaderPort, err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func followerSession(ctx context.Context, disp *dispatch.Dispatcher, follower *replication.Follower, cfg config.Config, listenPort int) error {
	leaderAddr := net.JoinHostPort(follower.LeaderHost, follower.LeaderPort)
	result, err := replication.Handshake(leaderAddr, listenPort, 5*time.Second)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer result.Conn.Close()

	entries, err := snapshot.Parse(result.Snapshot)
	if err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}
	disp.Store.LoadSnapshotEntries(entries)
	log.Infof("kvstore: replica loaded %d keys from leader full resync (replid %s)", len(entries), result.ReplID)

	peer := result.Conn.RemoteAddr()
	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		v, n, err := resp.Decode(buf)
		if err == nil {
			buf = buf[n:]

			elems := v.Elems
			if v.Kind != resp.Array {
				elems = []resp.Value{v}
			}
			cmd, err := command.Parse(elems)
			if err != nil {
				log.Warnf("kvstore: replica: %s", err.Error())
				follower.AddProcessed(n)
				continue
			}
			// Dispatch before advancing the processed counter: a GETACK
			// reply must report the offset as it stood before this very
			// frame's bytes were applied, so it folds in only on the
			// next GETACK.
			reply := disp.Dispatch(ctx, cmd, peer)
			for _, f := range reply.Frames {
				if f.Raw != nil {
					if err := resp.EncodeRawFrame(result.Conn, f.Raw); err != nil {
						return fmt.Errorf("ack write: %w", err)
					}
					continue
				}
				if err := resp.Encode(result.Conn, f.Value); err != nil {
					return fmt.Errorf("ack write: %w", err)
				}
			}
			follower.AddProcessed(n)
			continue
		}
		if !errors.Is(err, resp.ErrIncomplete) {
			return fmt.Errorf("protocol error: %w", err)
		}

		n, err = result.Conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			continue
		}
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
	}
}
