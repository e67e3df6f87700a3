package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks engine runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Enforcement
	Sweeps         atomic.Int64 // ticks processed
	TicksDropped   atomic.Int64 // ticks rejected because every worker was busy
	KicksScheduled atomic.Int64
	TimersCleared  atomic.Int64 // penalty timers cleared for served mutes
	MutesExpired   atomic.Int64 // wall-clock expiries
	FailOpen       atomic.Int64 // connect checks let through on store failure

	// Commands
	BansCreated    atomic.Int64
	BansRemoved    atomic.Int64
	MutesCreated   atomic.Int64
	MutesRemoved   atomic.Int64
	AdminsAdded    atomic.Int64
	CommandsFailed atomic.Int64

	StoreErrors atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Sweeps         int64 `json:"sweeps"`
	TicksDropped   int64 `json:"ticks_dropped"`
	KicksScheduled int64 `json:"kicks_scheduled"`
	TimersCleared  int64 `json:"timers_cleared"`
	MutesExpired   int64 `json:"mutes_expired"`
	FailOpen       int64 `json:"fail_open"`

	BansCreated    int64 `json:"bans_created"`
	BansRemoved    int64 `json:"bans_removed"`
	MutesCreated   int64 `json:"mutes_created"`
	MutesRemoved   int64 `json:"mutes_removed"`
	AdminsAdded    int64 `json:"admins_added"`
	CommandsFailed int64 `json:"commands_failed"`

	StoreErrors int64 `json:"store_errors"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:         uptime.Truncate(time.Second).String(),
		UptimeSeconds:  int64(uptime.Seconds()),
		Sweeps:         m.Sweeps.Load(),
		TicksDropped:   m.TicksDropped.Load(),
		KicksScheduled: m.KicksScheduled.Load(),
		TimersCleared:  m.TimersCleared.Load(),
		MutesExpired:   m.MutesExpired.Load(),
		FailOpen:       m.FailOpen.Load(),
		BansCreated:    m.BansCreated.Load(),
		BansRemoved:    m.BansRemoved.Load(),
		MutesCreated:   m.MutesCreated.Load(),
		MutesRemoved:   m.MutesRemoved.Load(),
		AdminsAdded:    m.AdminsAdded.Load(),
		CommandsFailed: m.CommandsFailed.Load(),
		StoreErrors:    m.StoreErrors.Load(),
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
		"sweeps", s.Sweeps,
		"ticks_dropped", s.TicksDropped,
		"kicks", s.KicksScheduled,
		"timers_cleared", s.TimersCleared,
		"mutes_expired", s.MutesExpired,
		"store_errors", s.StoreErrors,
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
