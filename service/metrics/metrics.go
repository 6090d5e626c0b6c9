// Package metrics exposes relay counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ppchat", Name: "ws_connections",
		Help: "Live websocket connections on this process.",
	})
	Topics = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ppchat", Name: "broker_topics",
		Help: "Chat topics this process is subscribed to.",
	})
	Frames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ppchat", Name: "ws_frames_total",
		Help: "Inbound frames by type and outcome.",
	}, []string{"type", "outcome"})
	Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ppchat", Name: "ws_dropped_total",
		Help: "Outbound frames dropped because the send queue was full.",
	})
	PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ppchat", Name: "broker_publish_errors_total",
		Help: "Broker publish failures.",
	})
)

func init() {
	prometheus.MustRegister(Connections, Topics, Frames, Dropped, PublishErrors)
}

func Handler() http.Handler { return promhttp.Handler() }
