// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics runs the optional admin/metrics HTTP sidecar:
// /healthz and a Prometheus /metrics endpoint, wrapped in the same
// gorilla/mux + gorilla/handlers access-logging shape a full web
// application router would use, generalized here to a two-route admin
// surface. Disabled unless --admin-addr is set.
package metrics

import (
	"net/http"

	"github.com/NHR-FAU/kvstore/pkg/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus metric the server updates as it
// processes commands and manages replicas.
type Collector struct {
	CommandsTotal    *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
	ConnectedSlaves  prometheus.Gauge
	ReplicaBacklog   *prometheus.GaugeVec
	StreamWaiters    prometheus.Gauge
}

// NewCollector registers every metric on a fresh registry and returns
// both the Collector and the registry.
func NewCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kvstore_commands_total",
			Help: "Total write commands propagated by a leader, by verb.",
		}, []string{"verb"}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_connected_clients",
			Help: "Currently open client connections.",
		}),
		ConnectedSlaves: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_connected_slaves",
			Help: "Currently registered replicas.",
		}),
		ReplicaBacklog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvstore_replica_backlog_bytes",
			Help: "bytes_propagated - bytes_acked per replica.",
		}, []string{"replica"}),
		StreamWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_stream_waiters",
			Help: "Connections currently blocked in XREAD BLOCK.",
		}),
	}, reg
}

// Serve starts the admin HTTP sidecar on addr and runs until
// http.ListenAndServe returns an error; it has no shutdown hook of its
// own.
func Serve(addr string, reg *prometheus.Registry) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	logged := handlers.CombinedLoggingHandler(log.InfoWriter, r)
	log.Infof("metrics: admin sidecar listening on %s", addr)
	return http.ListenAndServe(addr, logged)
}
