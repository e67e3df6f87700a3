package host_test

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/simpleadmin/pkg/host"
)

type recorder struct {
	calls []string
}

func (r *recorder) Kick(handle int, reason string) {
	r.calls = append(r.calls, "kick:"+reason)
}

func (r *recorder) ClearPenaltyTimer(slot int, asOf time.Time) {
	r.calls = append(r.calls, "clear:"+asOf.Format(time.RFC3339))
}

func (r *recorder) ReloadAuthorization() {
	r.calls = append(r.calls, "reload")
}

func TestQueueDrainOrder(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := host.NewQueue()
	q.ScheduleKick(3, "Banned")
	q.ScheduleClearPenaltyTimer(1, at)
	q.ScheduleReloadAuthorization()

	want := []host.Effect{
		{Kind: host.EffectKick, Handle: 3, Reason: "Banned"},
		{Kind: host.EffectClearPenaltyTimer, Slot: 1, AsOf: at},
		{Kind: host.EffectReloadAuthorization},
	}
	if diff := cmp.Diff(want, q.Effects()); diff != "" {
		t.Errorf("Effects mismatch (-want +got):\n%s", diff)
	}

	rec := &recorder{}
	if n := q.Drain(rec); n != 3 {
		t.Fatalf("Drain = %d, want 3", n)
	}
	if diff := cmp.Diff([]string{"kick:Banned", "clear:2026-01-01T00:00:00Z", "reload"}, rec.calls); diff != "" {
		t.Errorf("executed mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.Len())
	}
	if n := q.Drain(rec); n != 0 {
		t.Errorf("second Drain = %d, want 0", n)
	}
}

func TestQueueConcurrentSchedule(t *testing.T) {
	q := host.NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.ScheduleKick(i, "Banned")
		}(i)
	}
	wg.Wait()
	if q.Len() != 50 {
		t.Fatalf("Len = %d, want 50", q.Len())
	}
}

func TestLogExecutor(t *testing.T) {
	var buf bytes.Buffer
	q := host.NewQueue()
	q.ScheduleKick(7, "Banned")
	q.Drain(host.LogExecutor{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	if !strings.Contains(buf.String(), "handle=7") {
		t.Errorf("log output missing handle: %q", buf.String())
	}
}

func TestEffectKindString(t *testing.T) {
	if got := host.EffectKick.String(); got != "kick" {
		t.Errorf("EffectKick.String() = %q", got)
	}
	if got := host.EffectKind(0).String(); got != "unknown" {
		t.Errorf("EffectKind(0).String() = %q", got)
	}
}
