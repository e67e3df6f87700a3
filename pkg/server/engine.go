package server

import (
	"context"
	"errors"
	"slices"

	"github.com/panjf2000/ants/v2"

	"github.com/NicolasHaas/simpleadmin/pkg/ban"
	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/mute"
	"github.com/NicolasHaas/simpleadmin/pkg/steamid"
)

// TickResult is the outcome of one enforcement tick.
type TickResult struct {
	Sweep   ban.SweepResult
	Advance mute.AdvanceResult
}

// NotifySessionsTick hands the current session list to the worker pool and
// returns immediately. When every worker is busy the tick is dropped; the
// next tick carries the same sessions again.
func (s *Server) NotifySessionsTick(sessions []model.LiveSession) bool {
	batch := slices.Clone(sessions)
	err := s.pool.Submit(func() {
		_, _ = s.SweepNow(s.ctx, batch)
	})
	if err != nil {
		s.metrics.TicksDropped.Add(1)
		if errors.Is(err, ants.ErrPoolOverload) {
			s.log.Warn("tick dropped, workers busy", "sessions", len(batch))
		} else {
			s.log.Debug("tick dropped", "err", err)
		}
		return false
	}
	return true
}

// SweepNow runs the ban sweep and the mute pass over sessions
// synchronously. The mute pass runs even when the sweep fails.
func (s *Server) SweepNow(ctx context.Context, sessions []model.LiveSession) (TickResult, error) {
	var res TickResult
	s.metrics.Sweeps.Add(1)

	sweep, sweepErr := s.bans.SweepLiveSessions(ctx, sessions)
	res.Sweep = sweep
	s.metrics.KicksScheduled.Add(int64(len(sweep.Kicked)))
	s.countStoreError(sweepErr)

	adv, advErr := s.mutes.AdvanceAndExpire(ctx, sessions)
	res.Advance = adv
	s.metrics.TimersCleared.Add(int64(len(adv.Cleared)))
	s.countStoreError(advErr)

	return res, errors.Join(sweepErr, advErr)
}

// CheckConnect decides whether a joining session is banned. A banned
// session with a handle is kicked. When the store cannot answer the
// player is let in.
func (s *Server) CheckConnect(ctx context.Context, session model.LiveSession) bool {
	banned, err := s.bans.IsBanned(ctx, session.Identity, session.IP)
	switch {
	case errors.Is(err, steamid.ErrMalformedIdentity):
		s.log.Debug("connect check skipped", "identity", session.Identity, "err", err)
		return false
	case err != nil:
		s.countStoreError(err)
		s.metrics.FailOpen.Add(1)
		s.log.Warn("connect check failed, allowing player", "identity", session.Identity, "err", err)
		return false
	case !banned:
		return false
	}

	if session.HasHandle() {
		s.host.ScheduleKick(session.Handle, ban.KickReason)
		s.metrics.KicksScheduled.Add(1)
	}
	s.log.Info("banned player rejected", "identity", session.Identity, "handle", session.Handle)
	return true
}

func (s *Server) countStoreError(err error) {
	if errors.Is(err, datastore.ErrStoreUnavailable) {
		s.metrics.StoreErrors.Add(1)
	}
}
