// Package host describes the game server runtime the moderation engine
// drives. Effects are never executed inline: they are scheduled and run on
// the host's next safe execution point.
package host

import (
	"log/slog"
	"sync"
	"time"
)

// Host receives enforcement effects. Implementations must not block.
type Host interface {
	ScheduleKick(handle int, reason string)
	ScheduleClearPenaltyTimer(slot int, asOf time.Time)
	ScheduleReloadAuthorization()
}

// EffectKind enumerates scheduled effects.
type EffectKind int

const (
	EffectKick EffectKind = iota + 1
	EffectClearPenaltyTimer
	EffectReloadAuthorization
)

func (k EffectKind) String() string {
	switch k {
	case EffectKick:
		return "kick"
	case EffectClearPenaltyTimer:
		return "clear_penalty_timer"
	case EffectReloadAuthorization:
		return "reload_authorization"
	default:
		return "unknown"
	}
}

// Effect is one scheduled action.
type Effect struct {
	Kind   EffectKind
	Handle int       // kick
	Reason string    // kick
	Slot   int       // clear penalty timer
	AsOf   time.Time // clear penalty timer
}

// Executor runs effects on the host thread. A target session that is no
// longer present must be a silent no-op.
type Executor interface {
	Kick(handle int, reason string)
	ClearPenaltyTimer(slot int, asOf time.Time)
	ReloadAuthorization()
}

// Queue buffers effects until Drain is called from the host loop. It is
// safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []Effect
}

var _ Host = (*Queue)(nil)

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) push(e Effect) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()
}

func (q *Queue) ScheduleKick(handle int, reason string) {
	q.push(Effect{Kind: EffectKick, Handle: handle, Reason: reason})
}

func (q *Queue) ScheduleClearPenaltyTimer(slot int, asOf time.Time) {
	q.push(Effect{Kind: EffectClearPenaltyTimer, Slot: slot, AsOf: asOf})
}

func (q *Queue) ScheduleReloadAuthorization() {
	q.push(Effect{Kind: EffectReloadAuthorization})
}

// Len returns the number of pending effects.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Effects returns a copy of the pending effects without draining them.
func (q *Queue) Effects() []Effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Effect, len(q.pending))
	copy(out, q.pending)
	return out
}

// Drain runs every pending effect in scheduling order and returns the
// number executed. Effects scheduled while draining wait for the next call.
func (q *Queue) Drain(exec Executor) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range batch {
		switch e.Kind {
		case EffectKick:
			exec.Kick(e.Handle, e.Reason)
		case EffectClearPenaltyTimer:
			exec.ClearPenaltyTimer(e.Slot, e.AsOf)
		case EffectReloadAuthorization:
			exec.ReloadAuthorization()
		}
	}
	return len(batch)
}

// LogExecutor logs effects instead of executing them. Used where no game
// server is attached.
type LogExecutor struct {
	Logger *slog.Logger
}

func (l LogExecutor) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LogExecutor) Kick(handle int, reason string) {
	l.logger().Info("kick", "handle", handle, "reason", reason)
}

func (l LogExecutor) ClearPenaltyTimer(slot int, asOf time.Time) {
	l.logger().Info("clear penalty timer", "slot", slot, "as_of", asOf)
}

func (l LogExecutor) ReloadAuthorization() {
	l.logger().Info("reload authorization")
}
