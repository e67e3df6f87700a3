package mute_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/mute"
	"github.com/NicolasHaas/simpleadmin/pkg/steamid"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

var admin = model.Issuer{Identity: "STEAM_0:0:100", Name: "A"}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// countingFactory records how many increment statements reach the store.
// failRemove and raceRemove name mute ids whose removal errors or is beaten
// by a concurrent removal.
type countingFactory struct {
	inner *datastore.ProviderFactory
	mu    sync.Mutex
	calls [][]string

	failRemove int64
	raceRemove int64
}

func (f *countingFactory) Acquire(ctx context.Context) (datastore.DataStore, error) {
	ds, err := f.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &countingStore{DataStore: ds, f: f}, nil
}

type countingStore struct {
	datastore.DataStore
	f *countingFactory
}

func (s *countingStore) IncrementPassed(ctx context.Context, identities []string, now time.Time) (int64, error) {
	s.f.mu.Lock()
	s.f.calls = append(s.f.calls, append([]string(nil), identities...))
	s.f.mu.Unlock()
	return s.DataStore.IncrementPassed(ctx, identities, now)
}

func (s *countingStore) MarkMuteRemoved(ctx context.Context, id int64, removal model.Removal) (bool, error) {
	switch id {
	case s.f.failRemove:
		return false, &datastore.StoreError{Op: "remove mute", Err: errors.New("connection reset")}
	case s.f.raceRemove:
		if _, err := s.DataStore.MarkMuteRemoved(ctx, id, model.Removal{Type: model.RemovalManual, At: removal.At}); err != nil {
			return false, err
		}
	}
	return s.DataStore.MarkMuteRemoved(ctx, id, removal)
}

type fixture struct {
	store   *countingFactory
	queue   *host.Queue
	clock   *clock
	manager *mute.Manager
}

func newFixture(t *testing.T, opts ...mute.Option) *fixture {
	t.Helper()

	cfg := datastore.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")
	st, err := datastore.NewProviderFactory(cfg)
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	conn, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	immunity := 50
	if err := conn.InsertAdmin(ctx, &model.Admin{Identity: admin.Identity, Name: "A", Immunity: &immunity, Email: "e", Password: "p"}); err != nil {
		t.Fatalf("InsertAdmin: %v", err)
	}
	_ = conn.Close()

	f := &fixture{store: &countingFactory{inner: st}, queue: host.NewQueue(), clock: &clock{t: t0}}
	f.manager = mute.NewManager(f.store, f.queue, append([]mute.Option{mute.WithClock(f.clock.Now)}, opts...)...)
	return f
}

func (f *fixture) getMute(t *testing.T, id int64) *model.Mute {
	t.Helper()
	conn, err := f.store.inner.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = conn.Close() }()
	m, err := conn.GetMute(context.Background(), id)
	if err != nil || m == nil {
		t.Fatalf("GetMute(%d) = (%v, %v)", id, m, err)
	}
	return m
}

func steam64(n int) string {
	s, _ := steamid.ToSteam64("STEAM_0:0:" + strconv.Itoa(n))
	return s
}

func TestRemoveMutesFiltersByType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := model.LiveSession{Identity: steam64(1), Name: "loud", Handle: 1, Slot: 0}

	voice, err := f.manager.CreateMute(ctx, target, admin, "mic spam", 30, model.MuteVoice)
	if err != nil {
		t.Fatalf("CreateMute voice: %v", err)
	}
	if _, err := f.manager.CreateMute(ctx, target, admin, "chat spam", 0, model.MuteText); err != nil {
		t.Fatalf("CreateMute text: %v", err)
	}

	res, err := f.manager.RemoveMutes(ctx, "loud", admin, "", model.MuteVoice)
	if err != nil {
		t.Fatalf("RemoveMutes: %v", err)
	}
	if diff := cmp.Diff([]int64{voice.ID}, res.Removed); diff != "" {
		t.Errorf("Removed mismatch (-want +got):\n%s", diff)
	}

	for _, tt := range []struct {
		typ  model.MuteType
		want bool
	}{{model.MuteVoice, false}, {model.MuteText, true}} {
		got, err := f.manager.IsMuted(ctx, target.Identity, tt.typ)
		if err != nil {
			t.Fatalf("IsMuted(%s): %v", tt.typ, err)
		}
		if got != tt.want {
			t.Errorf("IsMuted(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}

	n, err := f.manager.CountMutes(ctx, target.Identity)
	if err != nil || n != 2 {
		t.Errorf("CountMutes = (%d, %v), want 2", n, err)
	}
}

func TestRemoveMutesPatternRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.RemoveMutes(ctx, "x", admin, "", model.MuteText); !errors.Is(err, model.ErrInvalidPattern) {
		t.Errorf("short pattern err = %v, want ErrInvalidPattern", err)
	}
	res, err := f.manager.RemoveMutes(ctx, "nobody", model.Console, "", model.MuteText)
	if err != nil || len(res.Matched) != 0 {
		t.Errorf("no-match removal = (%+v, %v), want empty and nil", res, err)
	}
}

func TestRemoveMutesRejectsSingleRunePattern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := model.LiveSession{Identity: steam64(3), Name: "é", Handle: 3}

	if _, err := f.manager.CreateMute(ctx, target, admin, "", 0, model.MuteText); err != nil {
		t.Fatalf("CreateMute: %v", err)
	}
	res, err := f.manager.RemoveMutes(ctx, "é", admin, "", model.MuteText)
	if !errors.Is(err, model.ErrInvalidPattern) {
		t.Fatalf("RemoveMutes(%q) err = %v, want ErrInvalidPattern", "é", err)
	}
	if len(res.Matched) != 0 {
		t.Errorf("RemoveMutes(%q) matched %v", "é", res.Matched)
	}
	got, err := f.manager.IsMuted(ctx, target.Identity, model.MuteText)
	if err != nil || !got {
		t.Fatalf("IsMuted after rejected pattern = (%v, %v), want true", got, err)
	}
}

func TestRemoveMutesPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for n := 1; n <= 3; n++ {
		m, err := f.manager.CreateMute(ctx, model.LiveSession{Identity: steam64(n), Name: "loud", Handle: n}, admin, "", 30, model.MuteVoice)
		if err != nil {
			t.Fatalf("CreateMute %d: %v", n, err)
		}
		ids = append(ids, m.ID)
	}
	f.store.failRemove = ids[1]
	f.store.raceRemove = ids[2]

	res, err := f.manager.RemoveMutes(ctx, "loud", admin, "appeal", model.MuteVoice)
	if !errors.Is(err, datastore.ErrStoreUnavailable) {
		t.Fatalf("RemoveMutes err = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(res.Err(), datastore.ErrStoreUnavailable) {
		t.Errorf("res.Err() = %v, want ErrStoreUnavailable", res.Err())
	}
	if diff := cmp.Diff(ids, res.Matched); diff != "" {
		t.Errorf("Matched mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{ids[0]}, res.Removed); diff != "" {
		t.Errorf("Removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{ids[2]}, res.AlreadyRemoved); diff != "" {
		t.Errorf("AlreadyRemoved mismatch (-want +got):\n%s", diff)
	}
	if _, ok := res.Failed[ids[1]]; !ok || len(res.Failed) != 1 {
		t.Errorf("Failed = %v, want only %d", res.Failed, ids[1])
	}

	got, err := f.manager.IsMuted(ctx, steam64(2), model.MuteVoice)
	if err != nil || !got {
		t.Errorf("failed row lost its mute: (%v, %v)", got, err)
	}
	if m := f.getMute(t, ids[0]); m.Removal == nil || m.Removal.Reason != "appeal" {
		t.Errorf("removed row = %+v", m.Removal)
	}
}

func TestCreateMuteRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.AddMuteByIdentity(context.Background(), "STEAM_0:1:9", model.Console, "", 5, model.MuteVoice)
	if !errors.Is(err, model.ErrAdminNotFound) {
		t.Fatalf("AddMuteByIdentity by console err = %v, want ErrAdminNotFound", err)
	}
}

func TestPassedOnlyIncreasesWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessions := []model.LiveSession{{Identity: steam64(2), Handle: 2, Slot: 4}}

	mu, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:2", admin, "", 5, model.MuteVoice)
	if err != nil {
		t.Fatalf("AddMuteByIdentity: %v", err)
	}
	perm, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:2", admin, "", 0, model.MuteText)
	if err != nil {
		t.Fatalf("AddMuteByIdentity perm: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := f.manager.AdvanceAndExpire(ctx, sessions)
		if err != nil {
			t.Fatalf("AdvanceAndExpire: %v", err)
		}
		if res.Incremented != 1 {
			t.Fatalf("pass %d incremented %d rows, want 1", i, res.Incremented)
		}
	}
	if got := f.getMute(t, mu.ID).Passed; got != 3 {
		t.Fatalf("Passed = %d, want 3", got)
	}
	if got := f.getMute(t, perm.ID).Passed; got != 0 {
		t.Errorf("permanent mute counted passes: %d", got)
	}

	if _, err := f.manager.RemoveMutes(ctx, "STEAM_0:0:2", admin, "", model.MuteVoice); err != nil {
		t.Fatalf("RemoveMutes: %v", err)
	}
	res, err := f.manager.AdvanceAndExpire(ctx, sessions)
	if err != nil {
		t.Fatalf("AdvanceAndExpire after removal: %v", err)
	}
	if res.Incremented != 0 {
		t.Errorf("removed mute still incremented")
	}
	if got := f.getMute(t, mu.ID).Passed; got != 3 {
		t.Errorf("Passed after removal = %d, want 3", got)
	}

	// Disconnected subjects are not observed.
	if _, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:3", admin, "", 5, model.MuteVoice); err != nil {
		t.Fatalf("AddMuteByIdentity: %v", err)
	}
	res, err = f.manager.AdvanceAndExpire(ctx, sessions)
	if err != nil || res.Incremented != 0 {
		t.Errorf("AdvanceAndExpire touched an absent subject: (%+v, %v)", res, err)
	}
}

func TestServedMuteClearsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A two second mute is served after two observed passes.
	conn, err := f.store.inner.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	short := &model.Mute{Identity: "STEAM_0:0:5", Created: t0, Length: 2, Ends: t0.Add(2 * time.Second), Type: model.MuteVoice, IssuerID: 1}
	if err := conn.InsertMute(ctx, short); err != nil {
		t.Fatalf("InsertMute: %v", err)
	}
	_ = conn.Close()

	sessions := []model.LiveSession{
		{Identity: steam64(5), Handle: 9, Slot: 3},
		{Identity: steam64(6), Handle: 10, Slot: 4},
	}

	res, err := f.manager.AdvanceAndExpire(ctx, sessions)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(res.Cleared) != 0 || f.queue.Len() != 0 {
		t.Fatalf("timer cleared before the mute was served: %+v", res.Cleared)
	}

	res, err = f.manager.AdvanceAndExpire(ctx, sessions)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	want := []mute.PenaltyClear{{MuteID: short.ID, Slot: 3, AsOf: short.Ends}}
	if diff := cmp.Diff(want, res.Cleared); diff != "" {
		t.Errorf("Cleared mismatch (-want +got):\n%s", diff)
	}
	wantEffects := []host.Effect{{Kind: host.EffectClearPenaltyTimer, Slot: 3, AsOf: short.Ends}}
	if diff := cmp.Diff(wantEffects, f.queue.Effects()); diff != "" {
		t.Errorf("effects mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvanceBatchesIncrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sessions []model.LiveSession
	for i := 0; i < 25; i++ {
		if _, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:"+strconv.Itoa(i), admin, "", 10, model.MuteText); err != nil {
			t.Fatalf("AddMuteByIdentity(%d): %v", i, err)
		}
		sessions = append(sessions, model.LiveSession{Identity: steam64(i), Handle: i + 1, Slot: i})
	}
	// Same identity twice must be counted once.
	sessions = append(sessions, model.LiveSession{Identity: steam64(0), Handle: 99, Slot: 30})

	res, err := f.manager.AdvanceAndExpire(ctx, sessions)
	if err != nil {
		t.Fatalf("AdvanceAndExpire: %v", err)
	}
	if res.Identities != 25 || res.Incremented != 25 {
		t.Errorf("AdvanceAndExpire = %+v, want 25 identities and 25 increments", res)
	}

	var sizes []int
	for _, c := range f.store.calls {
		sizes = append(sizes, len(c))
	}
	if diff := cmp.Diff([]int{10, 10, 5}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestExpireOldMutesIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	timed, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:7", admin, "", 1, model.MuteVoice)
	if err != nil {
		t.Fatalf("AddMuteByIdentity: %v", err)
	}
	if _, err := f.manager.AddMuteByIdentity(ctx, "STEAM_0:0:7", admin, "", 0, model.MuteText); err != nil {
		t.Fatalf("AddMuteByIdentity perm: %v", err)
	}

	n, err := f.manager.ExpireOldMutes(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ExpireOldMutes before end = (%d, %v), want 0", n, err)
	}

	f.clock.Set(t0.Add(2 * time.Minute))
	n, err = f.manager.ExpireOldMutes(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireOldMutes = (%d, %v), want 1", n, err)
	}
	first := f.getMute(t, timed.ID)

	n, err = f.manager.ExpireOldMutes(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second ExpireOldMutes = (%d, %v), want 0", n, err)
	}
	if diff := cmp.Diff(first, f.getMute(t, timed.ID)); diff != "" {
		t.Errorf("second expiry changed the row (-want +got):\n%s", diff)
	}
	if first.Removal == nil || first.Removal.Type != model.RemovalExpired {
		t.Errorf("Removal = %+v, want auto-expired", first.Removal)
	}

	active, err := f.manager.ActiveMutes(ctx, "STEAM_0:0:7")
	if err != nil || len(active) != 1 || active[0].Type != model.MuteText {
		t.Errorf("ActiveMutes = (%+v, %v), want the permanent text mute", active, err)
	}
}

func TestImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	records := []mute.ImportRecord{
		{Identity: "STEAM_0:0:11", Minutes: 10, Type: model.MuteVoice},
		{Identity: "garbage", Minutes: 10},
		{Identity: steam64(12), Reason: "spam", Type: model.MuteText},
	}
	res, err := f.manager.Import(ctx, admin, records)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(res.Imported) != 2 {
		t.Errorf("Imported = %v, want 2 ids", res.Imported)
	}
	if !errors.Is(res.Skipped[1], steamid.ErrMalformedIdentity) || len(res.Skipped) != 1 {
		t.Errorf("Skipped = %v, want index 1 malformed", res.Skipped)
	}

	// Unknown issuer rolls back the whole batch.
	_, err = f.manager.Import(ctx, model.Issuer{Identity: "STEAM_0:1:404"}, []mute.ImportRecord{{Identity: "STEAM_0:0:13"}})
	if !errors.Is(err, model.ErrAdminNotFound) {
		t.Fatalf("Import by stranger err = %v, want ErrAdminNotFound", err)
	}
	n, err := f.manager.CountMutes(ctx, "STEAM_0:0:13")
	if err != nil || n != 0 {
		t.Errorf("CountMutes after rollback = (%d, %v), want 0", n, err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	_ = f.store.inner.Close()

	_, err := f.manager.AdvanceAndExpire(context.Background(), []model.LiveSession{{Identity: steam64(1), Handle: 1}})
	if !errors.Is(err, datastore.ErrStoreUnavailable) {
		t.Fatalf("AdvanceAndExpire err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := f.manager.ExpireOldMutes(context.Background()); !errors.Is(err, datastore.ErrStoreUnavailable) {
		t.Fatalf("ExpireOldMutes err = %v, want ErrStoreUnavailable", err)
	}
}
