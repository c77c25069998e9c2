package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections   atomic.Int64 // lifetime connections accepted (TCP and WebSocket)
	ActiveConnections  atomic.Int64 // current live connections
	TotalDisconnects   atomic.Int64 // total disconnects, any cause
	HeartbeatEvictions atomic.Int64 // connections dropped for inactivity
	SlowConsumerCloses atomic.Int64 // connections dropped for outbound backlog
	DecodeErrors       atomic.Int64 // connections dropped for malformed frames

	// Auth counters
	Registrations   atomic.Int64
	SuccessfulAuths atomic.Int64
	FailedAuths     atomic.Int64
	ThrottledAuths  atomic.Int64

	// Room traffic
	PacketsIn            atomic.Int64 // decoded inbound packets
	PacketsForwarded     atomic.Int64 // frames queued by room broadcasts
	PacketsDropped       atomic.Int64 // passthrough packets from connections outside a room
	MediaFramesDropped   atomic.Int64 // media frames skipped for backlogged recipients
	CongestionAdvisories atomic.Int64

	// Work orders
	OrdersCreated   atomic.Int64
	OrdersAccepted  atomic.Int64
	OrderUpdates    atomic.Int64
	PersistFailures atomic.Int64

	// Media relay counters
	RelayPacketsIn      atomic.Int64
	RelayPacketsOut     atomic.Int64
	RelayPacketsDropped atomic.Int64
	RelayBytesIn        atomic.Int64
	RelayBytesOut       atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections  int64 `json:"active_connections"`
	TotalConnections   int64 `json:"total_connections"`
	TotalDisconnects   int64 `json:"total_disconnects"`
	HeartbeatEvictions int64 `json:"heartbeat_evictions"`
	SlowConsumerCloses int64 `json:"slow_consumer_closes"`
	DecodeErrors       int64 `json:"decode_errors"`

	Registrations   int64 `json:"registrations"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`
	ThrottledAuths  int64 `json:"throttled_auths"`

	PacketsIn            int64 `json:"packets_in"`
	PacketsForwarded     int64 `json:"packets_forwarded"`
	PacketsDropped       int64 `json:"packets_dropped"`
	MediaFramesDropped   int64 `json:"media_frames_dropped"`
	CongestionAdvisories int64 `json:"congestion_advisories"`

	OrdersCreated   int64 `json:"orders_created"`
	OrdersAccepted  int64 `json:"orders_accepted"`
	OrderUpdates    int64 `json:"order_updates"`
	PersistFailures int64 `json:"persist_failures"`

	RelayPacketsIn      int64 `json:"relay_packets_in"`
	RelayPacketsOut     int64 `json:"relay_packets_out"`
	RelayPacketsDropped int64 `json:"relay_packets_dropped"`
	RelayBytesIn        int64 `json:"relay_bytes_in"`
	RelayBytesOut       int64 `json:"relay_bytes_out"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:               uptime.Truncate(time.Second).String(),
		UptimeSeconds:        int64(uptime.Seconds()),
		ActiveConnections:    m.ActiveConnections.Load(),
		TotalConnections:     m.TotalConnections.Load(),
		TotalDisconnects:     m.TotalDisconnects.Load(),
		HeartbeatEvictions:   m.HeartbeatEvictions.Load(),
		SlowConsumerCloses:   m.SlowConsumerCloses.Load(),
		DecodeErrors:         m.DecodeErrors.Load(),
		Registrations:        m.Registrations.Load(),
		SuccessfulAuths:      m.SuccessfulAuths.Load(),
		FailedAuths:          m.FailedAuths.Load(),
		ThrottledAuths:       m.ThrottledAuths.Load(),
		PacketsIn:            m.PacketsIn.Load(),
		PacketsForwarded:     m.PacketsForwarded.Load(),
		PacketsDropped:       m.PacketsDropped.Load(),
		MediaFramesDropped:   m.MediaFramesDropped.Load(),
		CongestionAdvisories: m.CongestionAdvisories.Load(),
		OrdersCreated:        m.OrdersCreated.Load(),
		OrdersAccepted:       m.OrdersAccepted.Load(),
		OrderUpdates:         m.OrderUpdates.Load(),
		PersistFailures:      m.PersistFailures.Load(),
		RelayPacketsIn:       m.RelayPacketsIn.Load(),
		RelayPacketsOut:      m.RelayPacketsOut.Load(),
		RelayPacketsDropped:  m.RelayPacketsDropped.Load(),
		RelayBytesIn:         m.RelayBytesIn.Load(),
		RelayBytesOut:        m.RelayBytesOut.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"packets_in", s.PacketsIn,
		"packets_forwarded", s.PacketsForwarded,
		"media_dropped", s.MediaFramesDropped,
		"relay_in", s.RelayPacketsIn,
		"relay_out", s.RelayPacketsOut,
		"persist_failures", s.PersistFailures,
	)
}

// Register exposes every counter on reg. Values are read at scrape time.
func (m *Metrics) Register(reg prometheus.Registerer, gauges func() (rooms, sessions int)) error {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "orderhub", Name: name, Help: help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "orderhub", Name: name, Help: help,
		}, f)
	}

	collectors := []prometheus.Collector{
		gauge("uptime_seconds", "Server uptime in seconds.", func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
		gauge("connections_active", "Current live connections.", func() float64 {
			return float64(m.ActiveConnections.Load())
		}),
		gauge("rooms_active", "Rooms with at least one member.", func() float64 {
			rooms, _ := gauges()
			return float64(rooms)
		}),
		gauge("sessions_active", "Authenticated sessions.", func() float64 {
			_, sessions := gauges()
			return float64(sessions)
		}),
		counter("connections_total", "Connections accepted.", &m.TotalConnections),
		counter("disconnects_total", "Connections closed, any cause.", &m.TotalDisconnects),
		counter("heartbeat_evictions_total", "Connections dropped for inactivity.", &m.HeartbeatEvictions),
		counter("slow_consumer_closes_total", "Connections dropped for outbound backlog.", &m.SlowConsumerCloses),
		counter("decode_errors_total", "Connections dropped for malformed frames.", &m.DecodeErrors),
		counter("registrations_total", "Accounts registered.", &m.Registrations),
		counter("auth_success_total", "Successful logins.", &m.SuccessfulAuths),
		counter("auth_failed_total", "Failed logins.", &m.FailedAuths),
		counter("auth_throttled_total", "Auth requests rejected by rate limit.", &m.ThrottledAuths),
		counter("packets_in_total", "Decoded inbound packets.", &m.PacketsIn),
		counter("packets_forwarded_total", "Frames queued by room broadcasts.", &m.PacketsForwarded),
		counter("packets_dropped_total", "Passthrough packets with no room.", &m.PacketsDropped),
		counter("media_frames_dropped_total", "Media frames skipped for backlogged recipients.", &m.MediaFramesDropped),
		counter("congestion_advisories_total", "Congestion advisories sent.", &m.CongestionAdvisories),
		counter("orders_created_total", "Work orders created.", &m.OrdersCreated),
		counter("orders_accepted_total", "Work orders accepted.", &m.OrdersAccepted),
		counter("order_updates_total", "Work order status changes.", &m.OrderUpdates),
		counter("persist_failures_total", "Failed document writes.", &m.PersistFailures),
		counter("relay_packets_in_total", "UDP media packets received.", &m.RelayPacketsIn),
		counter("relay_packets_out_total", "UDP media packets forwarded.", &m.RelayPacketsOut),
		counter("relay_packets_dropped_total", "UDP media packets dropped.", &m.RelayPacketsDropped),
		counter("relay_bytes_in_total", "UDP media bytes received.", &m.RelayBytesIn),
		counter("relay_bytes_out_total", "UDP media bytes forwarded.", &m.RelayBytesOut),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
