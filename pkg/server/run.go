package server

import (
	"context"
	"time"
)

// Run seeds groups, publishes the initial snapshots and starts background
// work. It blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	// Load groups from YAML config if provided
	if s.cfg.GroupsFile != "" {
		if _, err := s.perms.LoadGroupsFromYAML(ctx, s.cfg.GroupsFile); err != nil {
			s.log.Error("failed to load groups config", "file", s.cfg.GroupsFile, "err", err)
		}
	}

	if _, _, err := s.perms.Refresh(ctx); err != nil {
		s.countStoreError(err)
		s.log.Error("initial snapshot refresh failed", "err", err)
	}

	s.expireMutes(ctx)
	go s.expireLoop(ctx)

	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	s.log.Info("simpleadmin engine running",
		"driver", s.cfg.Database.Driver,
		"match_ip", s.cfg.MatchIP,
		"workers", s.pool.Cap(),
	)

	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	s.log.Info("shutting down...")
	return nil
}

func (s *Server) expireLoop(ctx context.Context) {
	interval := s.cfg.ExpireInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.expireMutes(ctx)
		}
	}
}

// expireMutes runs one wall-clock expiry pass.
func (s *Server) expireMutes(ctx context.Context) int64 {
	n, err := s.mutes.ExpireOldMutes(ctx)
	if err != nil {
		s.countStoreError(err)
		return 0
	}
	s.metrics.MutesExpired.Add(n)
	return n
}
