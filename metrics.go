package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ConcordMetrics struct {
	Gossip *GossipMetrics
}

type GossipMetrics struct {
	Rounds metrics.Counter
	Failed metrics.Counter
}

func NewConcordMetrics(prometheusAddr string) *ConcordMetrics {

	m := &ConcordMetrics{}

	if prometheusAddr == "" {
		m.Gossip = &GossipMetrics{
			Rounds: discard.NewCounter(),
			Failed: discard.NewCounter(),
		}
	} else {
		m.Gossip = &GossipMetrics{
			Rounds: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "concord",
				Subsystem: "gossip",
				Name:      "rounds_total",
				Help:      "Number of synchronization rounds",
			}, nil),
			Failed: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "concord",
				Subsystem: "gossip",
				Name:      "rounds_failed_total",
				Help:      "Number of failed synchronization rounds",
			}, nil),
		}
	}

	return m
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
