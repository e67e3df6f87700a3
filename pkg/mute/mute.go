// Package mute manages communication restrictions. Besides wall-clock
// expiry, timed mutes decay by enforcement passes: every sweep that still
// sees the subject connected bumps the mute's passed counter.
package mute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/logging"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/steamid"
)

// DefaultBatchSize bounds how many identities one increment statement
// carries.
const DefaultBatchSize = 10

// Manager owns mute records.
type Manager struct {
	store     datastore.DataProviderFactory
	host      host.Host
	now       func() time.Time
	log       *slog.Logger
	batchSize int
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithBatchSize sets the increment chunk size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// NewManager creates a mute manager.
func NewManager(store datastore.DataProviderFactory, h host.Host, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		host:      h,
		now:       time.Now,
		log:       slog.Default(),
		batchSize: DefaultBatchSize,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logging.Component(m.log, "mute")
	return m
}

// CreateMute mutes a connected session.
func (m *Manager) CreateMute(ctx context.Context, target model.LiveSession, issuer model.Issuer, reason string, minutes int, typ model.MuteType) (*model.Mute, error) {
	return m.create(ctx, target.Identity, target.Name, issuer, reason, minutes, typ)
}

// AddMuteByIdentity mutes an identity that need not be connected.
func (m *Manager) AddMuteByIdentity(ctx context.Context, identity string, issuer model.Issuer, reason string, minutes int, typ model.MuteType) (*model.Mute, error) {
	return m.create(ctx, identity, "", issuer, reason, minutes, typ)
}

func (m *Manager) build(identity, name, reason string, minutes int, typ model.MuteType, issuerID int64, now time.Time) (*model.Mute, error) {
	if err := model.ValidateReason(reason); err != nil {
		return nil, err
	}
	if err := model.ValidateDuration(minutes); err != nil {
		return nil, err
	}
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return nil, err
	}
	length, ends := model.Expiry(now, minutes)
	return &model.Mute{
		Identity: canonical,
		Name:     name,
		Reason:   reason,
		IssuerID: issuerID,
		Created:  time.Unix(now.Unix(), 0).UTC(),
		Length:   length,
		Ends:     ends,
		Type:     model.ParseMuteType(int(typ)),
	}, nil
}

func (m *Manager) create(ctx context.Context, identity, name string, issuer model.Issuer, reason string, minutes int, typ model.MuteType) (*model.Mute, error) {
	now := m.now()
	mu, err := m.build(identity, name, reason, minutes, typ, 0, now)
	if err != nil {
		return nil, err
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("create mute: acquire", "err", err)
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	mu.IssuerID, err = datastore.ResolveAdminID(ctx, ds, issuer.Identity)
	if err != nil {
		if !errors.Is(err, model.ErrAdminNotFound) {
			m.log.Error("create mute: resolve issuer", "issuer", issuer.Identity, "err", err)
		}
		return nil, err
	}
	if err := ds.InsertMute(ctx, mu); err != nil {
		m.log.Error("create mute: insert", "identity", mu.Identity, "err", err)
		return nil, err
	}

	m.log.Info("mute created", "id", mu.ID, "identity", mu.Identity, "type", mu.Type, "length", mu.Length)
	return mu, nil
}

// ActiveMutes returns every enforced mute of identity.
func (m *Manager) ActiveMutes(ctx context.Context, identity string) ([]model.Mute, error) {
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return nil, err
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("active mutes: acquire", "err", err)
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	mutes, err := ds.ListActiveMutes(ctx, canonical, m.now())
	if err != nil {
		m.log.Error("active mutes", "identity", canonical, "err", err)
		return nil, err
	}
	return mutes, nil
}

// IsMuted reports whether identity carries an active mute of typ.
func (m *Manager) IsMuted(ctx context.Context, identity string, typ model.MuteType) (bool, error) {
	mutes, err := m.ActiveMutes(ctx, identity)
	if err != nil {
		return false, err
	}
	for _, mu := range mutes {
		if mu.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

// CountMutes returns the historical mute count of identity.
func (m *Manager) CountMutes(ctx context.Context, identity string) (int, error) {
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return 0, err
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("count mutes: acquire", "err", err)
		return 0, err
	}
	defer func() { _ = ds.Close() }()

	n, err := ds.CountMutes(ctx, canonical)
	if err != nil {
		m.log.Error("count mutes", "identity", canonical, "err", err)
		return 0, err
	}
	return n, nil
}

// RemoveMutes soft-removes active mutes of typ whose identity or name
// equals pattern. A voice unmute never touches a text mute.
func (m *Manager) RemoveMutes(ctx context.Context, pattern string, issuer model.Issuer, reason string, typ model.MuteType) (model.RemovalResult, error) {
	var res model.RemovalResult
	if utf8.RuneCountInString(pattern) <= 1 {
		return res, model.ErrInvalidPattern
	}
	if err := model.ValidateReason(reason); err != nil {
		return res, err
	}
	identity, _ := steamid.Normalize(pattern)

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("remove mutes: acquire", "err", err)
		return res, err
	}
	defer func() { _ = ds.Close() }()

	now := m.now()
	res.Matched, err = ds.FindActiveMuteIDs(ctx, identity, pattern, model.ParseMuteType(int(typ)), now)
	if err != nil {
		m.log.Error("remove mutes: find", "pattern", pattern, "err", err)
		return res, err
	}
	if len(res.Matched) == 0 {
		return res, nil
	}

	issuerID, err := datastore.ResolveAdminID(ctx, ds, issuer.Identity)
	if err != nil {
		return res, err
	}

	removal := model.Removal{By: issuerID, Type: model.RemovalManual, At: now, Reason: reason}
	for _, id := range res.Matched {
		updated, err := ds.MarkMuteRemoved(ctx, id, removal)
		switch {
		case err != nil:
			m.log.Error("remove mute", "id", id, "err", err)
			if res.Failed == nil {
				res.Failed = make(map[int64]error)
			}
			res.Failed[id] = err
		case !updated:
			m.log.Debug("mute already removed", "id", id)
			res.AlreadyRemoved = append(res.AlreadyRemoved, id)
		default:
			res.Removed = append(res.Removed, id)
		}
	}

	m.log.Info("mutes removed", "pattern", pattern, "type", typ, "removed", len(res.Removed), "already", len(res.AlreadyRemoved), "failed", len(res.Failed))
	return res, res.Err()
}

// PenaltyClear is one scheduled timer clear.
type PenaltyClear struct {
	MuteID int64
	Slot   int
	AsOf   time.Time
}

// AdvanceResult summarises one pass-based sweep.
type AdvanceResult struct {
	ID          string
	Identities  int
	Incremented int64
	Cleared     []PenaltyClear
}

// AdvanceAndExpire counts one enforcement pass for every connected subject
// with an active timed mute, then tells the host to clear the local
// penalty timer of every session whose mute has been served.
func (m *Manager) AdvanceAndExpire(ctx context.Context, sessions []model.LiveSession) (AdvanceResult, error) {
	res := AdvanceResult{ID: uuid.NewString()}
	log := m.log.With("sweep", res.ID)

	slots := make(map[string][]int)
	var identities []string
	for _, s := range sessions {
		if !s.HasHandle() {
			continue
		}
		canonical, err := steamid.Normalize(s.Identity)
		if err != nil {
			log.Debug("skipping session with malformed identity", "identity", s.Identity, "err", err)
			continue
		}
		if _, ok := slots[canonical]; !ok {
			identities = append(identities, canonical)
		}
		slots[canonical] = append(slots[canonical], s.Slot)
	}
	res.Identities = len(identities)
	if len(identities) == 0 {
		return res, nil
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		log.Error("advance: acquire", "err", err)
		return res, err
	}
	defer func() { _ = ds.Close() }()

	now := m.now()
	for start := 0; start < len(identities); start += m.batchSize {
		end := min(start+m.batchSize, len(identities))
		n, err := ds.IncrementPassed(ctx, identities[start:end], now)
		if err != nil {
			log.Error("advance: increment", "err", err)
			return res, err
		}
		res.Incremented += n
	}

	served, err := ds.ListServedMutes(ctx, identities)
	if err != nil {
		log.Error("advance: served", "err", err)
		return res, err
	}
	for _, mu := range served {
		for _, slot := range slots[mu.Identity] {
			m.host.ScheduleClearPenaltyTimer(slot, mu.Ends)
			res.Cleared = append(res.Cleared, PenaltyClear{MuteID: mu.ID, Slot: slot, AsOf: mu.Ends})
		}
	}

	log.Debug("advance complete", "identities", res.Identities, "incremented", res.Incremented, "cleared", len(res.Cleared))
	return res, nil
}

// ExpireOldMutes marks every timed mute past its end as auto-expired.
// A second call at the same instant changes nothing.
func (m *Manager) ExpireOldMutes(ctx context.Context) (int64, error) {
	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("expire mutes: acquire", "err", err)
		return 0, err
	}
	defer func() { _ = ds.Close() }()

	n, err := ds.ExpireMutes(ctx, m.now())
	if err != nil {
		m.log.Error("expire mutes", "err", err)
		return 0, err
	}
	if n > 0 {
		m.log.Info("mutes expired", "count", n)
	}
	return n, nil
}

// ImportRecord is one entry of an offline mute list.
type ImportRecord struct {
	Identity string         `yaml:"identity" json:"identity"`
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Reason   string         `yaml:"reason,omitempty" json:"reason,omitempty"`
	Minutes  int            `yaml:"minutes" json:"minutes"`
	Type     model.MuteType `yaml:"type" json:"type"`
}

// ImportResult reports an import. Invalid records are skipped; a store
// failure rolls the whole batch back.
type ImportResult struct {
	Imported []int64
	Skipped  map[int]error // record index
}

// Import inserts records attributed to issuer inside one transaction.
func (m *Manager) Import(ctx context.Context, issuer model.Issuer, records []ImportRecord) (ImportResult, error) {
	var res ImportResult
	now := m.now()

	mutes := make([]*model.Mute, 0, len(records))
	for i, r := range records {
		mu, err := m.build(r.Identity, r.Name, r.Reason, r.Minutes, r.Type, 0, now)
		if err != nil {
			if res.Skipped == nil {
				res.Skipped = make(map[int]error)
			}
			res.Skipped[i] = err
			continue
		}
		mutes = append(mutes, mu)
	}
	if len(mutes) == 0 {
		return res, nil
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("import mutes: acquire", "err", err)
		return res, err
	}
	defer func() { _ = ds.Close() }()

	err = ds.Tx(ctx, func(tx datastore.DataStore) error {
		issuerID, err := datastore.ResolveAdminID(ctx, tx, issuer.Identity)
		if err != nil {
			return err
		}
		for _, mu := range mutes {
			mu.IssuerID = issuerID
			if err := tx.InsertMute(ctx, mu); err != nil {
				return fmt.Errorf("mute: import %s: %w", mu.Identity, err)
			}
		}
		return nil
	})
	if err != nil {
		m.log.Error("import mutes", "records", len(records), "err", err)
		return res, err
	}

	for _, mu := range mutes {
		res.Imported = append(res.Imported, mu.ID)
	}
	m.log.Info("mutes imported", "imported", len(res.Imported), "skipped", len(res.Skipped))
	return res, nil
}
