package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics tracks server runtime statistics.
// Counters are atomics so the periodic log can read them cheaply; the same
// values are exported to Prometheus through func collectors.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current live sessions
	TotalDisconnects  atomic.Int64 // sessions torn down (clean + unclean)
	Evictions         atomic.Int64 // peers removed after a failed send

	// Account counters
	SuccessfulLogins atomic.Int64
	FailedLogins     atomic.Int64
	Signups          atomic.Int64
	Activations      atomic.Int64
	PasswordResets   atomic.Int64

	// Room counters
	ChatMessagesSent atomic.Int64 // chat messages relayed (one per send_message)
	PresenceEvents   atomic.Int64 // client_entered events broadcast

	// Email counters
	EmailsSent   atomic.Int64
	EmailsFailed atomic.Int64

	commands *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_commands_total",
			Help: "Commands dispatched, by command name.",
		}, []string{"command"}),
	}

	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.commands,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomchat_uptime_seconds",
			Help: "Server uptime in seconds.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomchat_connections_active",
			Help: "Current live sessions.",
		}, func() float64 { return float64(m.ActiveConnections.Load()) }),
		counter("roomchat_connections_total", "Lifetime TCP connections accepted.", &m.TotalConnections),
		counter("roomchat_disconnects_total", "Sessions torn down.", &m.TotalDisconnects),
		counter("roomchat_evictions_total", "Peers removed after a failed send.", &m.Evictions),
		counter("roomchat_login_success_total", "Successful logins.", &m.SuccessfulLogins),
		counter("roomchat_login_failed_total", "Rejected logins.", &m.FailedLogins),
		counter("roomchat_signups_total", "Accounts created.", &m.Signups),
		counter("roomchat_activations_total", "Accounts activated.", &m.Activations),
		counter("roomchat_password_resets_total", "Passwords reset.", &m.PasswordResets),
		counter("roomchat_chat_messages_total", "Chat messages relayed.", &m.ChatMessagesSent),
		counter("roomchat_presence_events_total", "Presence events broadcast.", &m.PresenceEvents),
		counter("roomchat_emails_sent_total", "Validation emails delivered.", &m.EmailsSent),
		counter("roomchat_emails_failed_total", "Validation emails that failed.", &m.EmailsFailed),
	)
	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandDispatched counts one dispatched command.
func (m *Metrics) CommandDispatched(command string) {
	m.commands.WithLabelValues(command).Inc()
}

// MetricsSnapshot is a point-in-time view of all counters.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	Evictions         int64 `json:"evictions"`

	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`
	Signups          int64 `json:"signups"`
	Activations      int64 `json:"activations"`
	PasswordResets   int64 `json:"password_resets"`

	ChatMessagesSent int64 `json:"chat_messages_sent"`
	PresenceEvents   int64 `json:"presence_events"`

	EmailsSent   int64 `json:"emails_sent"`
	EmailsFailed int64 `json:"emails_failed"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Evictions:         m.Evictions.Load(),
		SuccessfulLogins:  m.SuccessfulLogins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		Signups:           m.Signups.Load(),
		Activations:       m.Activations.Load(),
		PasswordResets:    m.PasswordResets.Load(),
		ChatMessagesSent:  m.ChatMessagesSent.Load(),
		PresenceEvents:    m.PresenceEvents.Load(),
		EmailsSent:        m.EmailsSent.Load(),
		EmailsFailed:      m.EmailsFailed.Load(),
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
		"evictions", s.Evictions,
		"logins", s.SuccessfulLogins,
		"chat_msgs", s.ChatMessagesSent,
		"emails_failed", s.EmailsFailed,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
