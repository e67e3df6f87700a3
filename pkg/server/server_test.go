package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/permission"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

const (
	adminIdentity = "STEAM_0:0:100"
	playerSteam64 = "76561197960265748" // STEAM_0:0:10
	otherSteam64  = "76561197960265750" // STEAM_0:0:11
)

var issuer = model.Issuer{Identity: adminIdentity, Name: "A", IP: "10.0.0.1"}

type testServer struct {
	*Server
	store   *datastore.ProviderFactory
	queue   *host.Queue
	dataDir string
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "test.db")
	cfg.DataDir = t.TempDir()
	cfg.MetricsAddr = ""
	cfg.ExpireInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := datastore.NewProviderFactory(cfg.Database)
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := st.Acquire(ctx)
	require.NoError(t, err)
	immunity := 50
	require.NoError(t, conn.InsertAdmin(ctx, &model.Admin{
		Identity: adminIdentity, Name: "A", Group: "admin", Immunity: &immunity, Email: "e", Password: "p",
	}))
	require.NoError(t, conn.Close())

	q := host.NewQueue()
	srv, err := New(cfg, Dependencies{
		Store: st,
		Host:  q,
		Clock: func() time.Time { return t0 },
	})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	return &testServer{Server: srv, store: st, queue: q, dataDir: cfg.DataDir}
}

func (ts *testServer) insertMute(t *testing.T, m model.Mute) int64 {
	t.Helper()
	ctx := context.Background()
	conn, err := ts.store.Acquire(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.InsertMute(ctx, &m))
	return m.ID
}

func kinds(effects []host.Effect) []host.EffectKind {
	out := make([]host.EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(DefaultConfig(), Dependencies{Host: host.NewQueue()})
	require.Error(t, err)

	st, err := datastore.NewProviderFactory(datastore.Config{Driver: datastore.DriverSQLite, DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	_, err = New(DefaultConfig(), Dependencies{Store: st})
	require.Error(t, err)
}

func TestBanCommandKicksConnectedTarget(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	target := model.LiveSession{Identity: playerSteam64, Name: "P", IP: "10.0.0.9", Handle: 4, Slot: 2}
	res, err := ts.OnAdminCommand(ctx, Command{Kind: CmdBan, Issuer: issuer, Target: target, Reason: "cheating", Minutes: 10})
	require.NoError(t, err)
	require.True(t, res.Kicked)
	require.NotNil(t, res.Ban)
	require.Equal(t, "STEAM_0:0:10", res.Ban.Identity)

	effects := ts.queue.Effects()
	require.Len(t, effects, 1)
	require.Equal(t, host.EffectKick, effects[0].Kind)
	require.Equal(t, 4, effects[0].Handle)
	require.EqualValues(t, 1, ts.Metrics().BansCreated.Load())
}

func TestSweepNowKicksAndClearsTimers(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	_, err := ts.OnAdminCommand(ctx, Command{Kind: CmdAddBan, Issuer: issuer, Identity: "STEAM_0:0:10", Minutes: 0})
	require.NoError(t, err)
	ts.insertMute(t, model.Mute{
		Identity: "STEAM_0:0:11", Reason: "spam", IssuerID: 1, Created: t0,
		Length: 1, Ends: t0.Add(time.Hour), Type: model.MuteVoice,
	})

	sessions := []model.LiveSession{
		{Identity: playerSteam64, Handle: 3, Slot: 1},
		{Identity: otherSteam64, Handle: 5, Slot: 7},
		{Identity: "garbage", Handle: 6, Slot: 8},
	}
	res, err := ts.SweepNow(ctx, sessions)
	require.NoError(t, err)
	require.Equal(t, []int{3}, res.Sweep.Kicked)
	require.Len(t, res.Advance.Cleared, 1)
	require.Equal(t, 7, res.Advance.Cleared[0].Slot)

	require.ElementsMatch(t, []host.EffectKind{host.EffectKick, host.EffectClearPenaltyTimer}, kinds(ts.queue.Effects()))
	snap := ts.Metrics().Snapshot()
	require.EqualValues(t, 1, snap.Sweeps)
	require.EqualValues(t, 1, snap.KicksScheduled)
	require.EqualValues(t, 1, snap.TimersCleared)
}

func TestNotifySessionsTickRunsInBackground(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	_, err := ts.OnAdminCommand(ctx, Command{Kind: CmdAddBan, Issuer: issuer, Identity: playerSteam64})
	require.NoError(t, err)

	require.True(t, ts.NotifySessionsTick([]model.LiveSession{{Identity: playerSteam64, Handle: 9}}))
	require.Eventually(t, func() bool {
		return ts.Metrics().KicksScheduled.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	effects := ts.queue.Effects()
	require.Len(t, effects, 1)
	require.Equal(t, 9, effects[0].Handle)
}

func TestNotifySessionsTickDropsWhenBusy(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.WorkerPoolSize = 1 })

	block := make(chan struct{})
	require.NoError(t, ts.pool.Submit(func() { <-block }))

	require.False(t, ts.NotifySessionsTick([]model.LiveSession{{Identity: playerSteam64, Handle: 1}}))
	require.EqualValues(t, 1, ts.Metrics().TicksDropped.Load())
	require.EqualValues(t, 0, ts.Metrics().Sweeps.Load())
	close(block)
}

func TestCheckConnect(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	_, err := ts.OnAdminCommand(ctx, Command{Kind: CmdAddBan, Issuer: issuer, Identity: playerSteam64, Minutes: 5})
	require.NoError(t, err)

	require.True(t, ts.CheckConnect(ctx, model.LiveSession{Identity: playerSteam64, Handle: 2}))
	require.False(t, ts.CheckConnect(ctx, model.LiveSession{Identity: otherSteam64, Handle: 3}))
	require.False(t, ts.CheckConnect(ctx, model.LiveSession{Identity: "not-an-id", Handle: 4}))
	// still connecting: banned, but nothing to kick yet
	require.True(t, ts.CheckConnect(ctx, model.LiveSession{Identity: playerSteam64}))

	effects := ts.queue.Effects()
	require.Len(t, effects, 1)
	require.Equal(t, 2, effects[0].Handle)
}

func TestCheckConnectFailsOpen(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.Close())

	require.False(t, ts.CheckConnect(context.Background(), model.LiveSession{Identity: playerSteam64, Handle: 2}))
	require.Zero(t, ts.queue.Len())
	require.EqualValues(t, 1, ts.Metrics().FailOpen.Load())
	require.EqualValues(t, 1, ts.Metrics().StoreErrors.Load())
}

func TestRemovalCommands(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	res, err := ts.OnAdminCommand(ctx, Command{Kind: CmdUnban, Issuer: issuer, Pattern: "x"})
	require.NoError(t, err, "a short pattern is a no-op")
	require.Empty(t, res.Removal.Matched)

	_, err = ts.OnAdminCommand(ctx, Command{Kind: CmdAddBan, Issuer: issuer, Identity: playerSteam64})
	require.NoError(t, err)
	res, err = ts.OnAdminCommand(ctx, Command{Kind: CmdUnban, Issuer: issuer, Pattern: "STEAM_0:0:10", Reason: "appeal"})
	require.NoError(t, err)
	require.Len(t, res.Removal.Removed, 1)

	_, err = ts.OnAdminCommand(ctx, Command{Kind: CmdAddMute, Issuer: issuer, Identity: otherSteam64, Minutes: 5, MuteType: model.MuteText})
	require.NoError(t, err)
	res, err = ts.OnAdminCommand(ctx, Command{Kind: CmdUnmute, Issuer: issuer, Pattern: "STEAM_0:0:11", MuteType: model.MuteVoice})
	require.NoError(t, err)
	require.Empty(t, res.Removal.Removed, "voice unmute must not lift a text mute")
	res, err = ts.OnAdminCommand(ctx, Command{Kind: CmdUnmute, Issuer: issuer, Pattern: "STEAM_0:0:11", MuteType: model.MuteText})
	require.NoError(t, err)
	require.Len(t, res.Removal.Removed, 1)

	snap := ts.Metrics().Snapshot()
	require.EqualValues(t, 1, snap.BansRemoved)
	require.EqualValues(t, 1, snap.MutesRemoved)
}

func TestCommandErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	_, err := ts.OnAdminCommand(ctx, Command{Kind: "slap"})
	require.ErrorIs(t, err, ErrUnknownCommand)

	_, err = ts.OnAdminCommand(ctx, Command{Kind: CmdAddBan, Issuer: model.Console, Identity: playerSteam64})
	require.ErrorIs(t, err, model.ErrAdminNotFound)

	_, err = ts.OnAdminCommand(ctx, Command{Kind: CmdAddMute, Issuer: issuer, Identity: playerSteam64, Minutes: -1})
	require.ErrorIs(t, err, model.ErrNegativeLength)

	require.EqualValues(t, 2, ts.Metrics().CommandsFailed.Load())
	require.Zero(t, ts.Metrics().StoreErrors.Load())
}

func TestAdminCommandsPublishSnapshots(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	_, err := ts.OnAdminCommand(ctx, Command{Kind: CmdAddGroup, Name: "Moderator", Flags: "c f", Immunity: 20})
	require.NoError(t, err)
	res, err := ts.OnAdminCommand(ctx, Command{Kind: CmdAddAdmin, Identity: playerSteam64, Name: "Mod Bob", Group: "Moderator", Immunity: 10})
	require.NoError(t, err)
	require.Equal(t, "STEAM_0:0:10", res.Admin.Identity)
	require.Equal(t, []host.EffectKind{host.EffectReloadAuthorization}, kinds(ts.queue.Effects()))

	data, err := os.ReadFile(filepath.Join(ts.dataDir, permission.AdminsFileName))
	require.NoError(t, err)
	var admins permission.AdminSnapshot
	require.NoError(t, json.Unmarshal(data, &admins))
	require.Contains(t, admins, "mod bob")
	require.Equal(t, 20, admins["mod bob"].Immunity)
	require.Equal(t, playerSteam64, admins["mod bob"].Identity)

	res, err = ts.OnAdminCommand(ctx, Command{Kind: CmdDelAdmin, Identity: playerSteam64})
	require.NoError(t, err)
	require.True(t, res.Removed)
	res, err = ts.OnAdminCommand(ctx, Command{Kind: CmdDelGroup, Name: "Moderator"})
	require.NoError(t, err)
	require.True(t, res.Removed)

	data, err = os.ReadFile(filepath.Join(ts.dataDir, permission.GroupsFileName))
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(data))
}

func TestRunSeedsAndExpires(t *testing.T) {
	groups := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(groups, []byte("groups:\n  - name: Full\n    flags: z\n    immunity: 99\n"), 0o600))
	ts := newTestServer(t, func(c *Config) { c.GroupsFile = groups })

	ts.insertMute(t, model.Mute{
		Identity: "STEAM_0:0:11", IssuerID: 1, Created: t0.Add(-2 * time.Hour),
		Length: 3600, Ends: t0.Add(-time.Hour), Type: model.MuteText,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ts.Metrics().MutesExpired.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.FileExists(t, filepath.Join(ts.dataDir, permission.GroupsFileName))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	data, err := os.ReadFile(filepath.Join(ts.dataDir, permission.GroupsFileName))
	require.NoError(t, err)
	require.Contains(t, string(data), "\"#Full\"")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := ts.OnAdminCommand(context.Background(), Command{Kind: CmdAddBan, Issuer: issuer, Identity: playerSteam64})
	require.NoError(t, err)

	mux := ts.metricsMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "simpleadmin_bans_total 1\n")
	require.Contains(t, body, "# TYPE simpleadmin_ticks_dropped_total counter")
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "ok\n", rec.Body.String())

	var snap MetricsSnapshot
	require.NoError(t, json.Unmarshal([]byte(ts.Metrics().JSON()), &snap))
	require.EqualValues(t, 1, snap.BansCreated)
}
