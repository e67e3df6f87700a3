package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("simpleadmin_uptime_seconds", "Engine uptime in seconds.", "gauge", uptime)

	write("simpleadmin_sweeps_total", "Enforcement ticks processed.", "counter",
		m.Sweeps.Load())
	write("simpleadmin_ticks_dropped_total", "Ticks dropped because all workers were busy.", "counter",
		m.TicksDropped.Load())
	write("simpleadmin_kicks_scheduled_total", "Kicks handed to the host.", "counter",
		m.KicksScheduled.Load())
	write("simpleadmin_penalty_timers_cleared_total", "Penalty timers cleared for served mutes.", "counter",
		m.TimersCleared.Load())
	write("simpleadmin_mutes_expired_total", "Mutes expired by wall clock.", "counter",
		m.MutesExpired.Load())
	write("simpleadmin_connect_fail_open_total", "Connect checks allowed on store failure.", "counter",
		m.FailOpen.Load())

	write("simpleadmin_bans_total", "Bans created.", "counter",
		m.BansCreated.Load())
	write("simpleadmin_unbans_total", "Bans removed.", "counter",
		m.BansRemoved.Load())
	write("simpleadmin_mutes_total", "Mutes created.", "counter",
		m.MutesCreated.Load())
	write("simpleadmin_unmutes_total", "Mutes removed.", "counter",
		m.MutesRemoved.Load())
	write("simpleadmin_admins_added_total", "Admins created or updated.", "counter",
		m.AdminsAdded.Load())
	write("simpleadmin_commands_failed_total", "Admin commands that returned an error.", "counter",
		m.CommandsFailed.Load())

	write("simpleadmin_store_errors_total", "Store operations that failed.", "counter",
		m.StoreErrors.Load())
}
