// Package ban manages the ban lifecycle: creation, lookup, removal by
// pattern and enforcement sweeps over connected sessions.
package ban

import (
	"context"
	"errors"
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

// KickReason is sent with every enforcement kick.
const KickReason = "Banned"

var ErrAdminNotFound = model.ErrAdminNotFound

// Config selects ban matching behaviour.
type Config struct {
	MatchIP  bool `mapstructure:"match_ip"`
	ServerID int  `mapstructure:"server_id"`
}

// Manager owns ban records.
type Manager struct {
	store datastore.DataProviderFactory
	host  host.Host
	cfg   Config
	now   func() time.Time
	log   *slog.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a ban manager.
func NewManager(store datastore.DataProviderFactory, h host.Host, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		host:  h,
		cfg:   cfg,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logging.Component(m.log, "ban")
	return m
}

// CreateBan bans a connected session, capturing its name and IP.
func (m *Manager) CreateBan(ctx context.Context, target model.LiveSession, issuer model.Issuer, reason string, minutes int) (*model.Ban, error) {
	return m.create(ctx, target.Identity, target.Name, target.IP, issuer, reason, minutes)
}

// AddBanByIdentity bans an identity that need not be connected.
func (m *Manager) AddBanByIdentity(ctx context.Context, identity string, issuer model.Issuer, reason string, minutes int) (*model.Ban, error) {
	return m.create(ctx, identity, "", "", issuer, reason, minutes)
}

func (m *Manager) create(ctx context.Context, identity, name, ip string, issuer model.Issuer, reason string, minutes int) (*model.Ban, error) {
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

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("create ban: acquire", "err", err)
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	issuerID, err := datastore.ResolveAdminID(ctx, ds, issuer.Identity)
	if err != nil {
		if !errors.Is(err, ErrAdminNotFound) {
			m.log.Error("create ban: resolve issuer", "issuer", issuer.Identity, "err", err)
		}
		return nil, err
	}

	now := m.now()
	length, ends := model.Expiry(now, minutes)
	b := &model.Ban{
		Identity: canonical,
		Name:     name,
		IP:       ip,
		Reason:   reason,
		IssuerID: issuerID,
		IssuerIP: issuer.IP,
		ServerID: m.cfg.ServerID,
		Created:  time.Unix(now.Unix(), 0).UTC(),
		Length:   length,
		Ends:     ends,
	}
	if err := ds.InsertBan(ctx, b); err != nil {
		m.log.Error("create ban: insert", "identity", canonical, "err", err)
		return nil, err
	}

	m.log.Info("ban created", "id", b.ID, "identity", canonical, "issuer", issuerID, "length", length)
	return b, nil
}

// ipFilter returns ip when IP matching is enabled, "" otherwise.
func (m *Manager) ipFilter(ip string) string {
	if !m.cfg.MatchIP {
		return ""
	}
	return ip
}

// canonicalOrEmpty normalises identity; empty input stays empty so IP-only
// lookups are possible.
func canonicalOrEmpty(identity string) (string, error) {
	if identity == "" {
		return "", nil
	}
	return steamid.Normalize(identity)
}

// IsBanned reports whether an active ban matches identity, or ip when IP
// matching is enabled. Callers on the enforcement path decide what a
// returned error means.
func (m *Manager) IsBanned(ctx context.Context, identity, ip string) (bool, error) {
	canonical, err := canonicalOrEmpty(identity)
	if err != nil {
		return false, err
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("is banned: acquire", "err", err)
		return false, err
	}
	defer func() { _ = ds.Close() }()

	n, err := ds.CountActiveBans(ctx, canonical, m.ipFilter(ip), m.now())
	if err != nil {
		m.log.Error("is banned", "identity", canonical, "err", err)
		return false, err
	}
	return n > 0, nil
}

// CountBans returns the historical ban count, removed rows included.
func (m *Manager) CountBans(ctx context.Context, identity, ip string) (int, error) {
	canonical, err := canonicalOrEmpty(identity)
	if err != nil {
		return 0, err
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		m.log.Error("count bans: acquire", "err", err)
		return 0, err
	}
	defer func() { _ = ds.Close() }()

	n, err := ds.CountBans(ctx, canonical, m.ipFilter(ip))
	if err != nil {
		m.log.Error("count bans", "identity", canonical, "err", err)
		return 0, err
	}
	return n, nil
}

// RemoveBans soft-removes every active ban whose identity, name or IP
// equals pattern. Patterns of one character or less are rejected with
// model.ErrInvalidPattern before any store access. When nothing matches
// the issuer is not resolved and the result is empty.
func (m *Manager) RemoveBans(ctx context.Context, pattern string, issuer model.Issuer, reason string) (model.RemovalResult, error) {
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
		m.log.Error("remove bans: acquire", "err", err)
		return res, err
	}
	defer func() { _ = ds.Close() }()

	now := m.now()
	res.Matched, err = ds.FindActiveBanIDs(ctx, identity, pattern, now)
	if err != nil {
		m.log.Error("remove bans: find", "pattern", pattern, "err", err)
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
		updated, err := ds.MarkBanRemoved(ctx, id, removal)
		switch {
		case err != nil:
			m.log.Error("remove ban", "id", id, "err", err)
			if res.Failed == nil {
				res.Failed = make(map[int64]error)
			}
			res.Failed[id] = err
		case !updated:
			m.log.Debug("ban already removed", "id", id)
			res.AlreadyRemoved = append(res.AlreadyRemoved, id)
		default:
			res.Removed = append(res.Removed, id)
		}
	}

	m.log.Info("bans removed", "pattern", pattern, "removed", len(res.Removed), "already", len(res.AlreadyRemoved), "failed", len(res.Failed))
	return res, res.Err()
}

// SweepResult summarises one enforcement sweep.
type SweepResult struct {
	ID      string
	Checked int
	Skipped int
	Kicked  []int // session handles
}

// SweepLiveSessions kicks every connected session that matches an active
// ban. All sessions are checked with a single query.
func (m *Manager) SweepLiveSessions(ctx context.Context, sessions []model.LiveSession) (SweepResult, error) {
	res := SweepResult{ID: uuid.NewString()}
	log := m.log.With("sweep", res.ID)

	type candidate struct {
		session  model.LiveSession
		identity string
	}
	var (
		candidates []candidate
		identities []string
		ips        []string
		seenID     = make(map[string]struct{})
		seenIP     = make(map[string]struct{})
	)
	for _, s := range sessions {
		if !s.HasHandle() {
			res.Skipped++
			continue
		}
		canonical, err := steamid.Normalize(s.Identity)
		if err != nil {
			log.Debug("skipping session with malformed identity", "identity", s.Identity, "err", err)
			res.Skipped++
			continue
		}
		candidates = append(candidates, candidate{session: s, identity: canonical})
		if _, ok := seenID[canonical]; !ok {
			seenID[canonical] = struct{}{}
			identities = append(identities, canonical)
		}
		if ip := m.ipFilter(s.IP); ip != "" {
			if _, ok := seenIP[ip]; !ok {
				seenIP[ip] = struct{}{}
				ips = append(ips, ip)
			}
		}
	}
	res.Checked = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	ds, err := m.store.Acquire(ctx)
	if err != nil {
		log.Error("sweep: acquire", "err", err)
		return res, err
	}
	defer func() { _ = ds.Close() }()

	bans, err := ds.FindActiveBansFor(ctx, identities, ips, m.now())
	if err != nil {
		log.Error("sweep: query", "err", err)
		return res, err
	}

	bannedID := make(map[string]struct{}, len(bans))
	bannedIP := make(map[string]struct{})
	for _, b := range bans {
		if b.Identity != "" {
			bannedID[b.Identity] = struct{}{}
		}
		if b.IP != "" {
			bannedIP[b.IP] = struct{}{}
		}
	}

	kicked := make(map[int]struct{})
	for _, c := range candidates {
		_, byID := bannedID[c.identity]
		_, byIP := bannedIP[m.ipFilter(c.session.IP)]
		if !byID && !byIP {
			continue
		}
		if _, done := kicked[c.session.Handle]; done {
			continue
		}
		kicked[c.session.Handle] = struct{}{}
		m.host.ScheduleKick(c.session.Handle, KickReason)
		res.Kicked = append(res.Kicked, c.session.Handle)
	}

	if len(res.Kicked) > 0 {
		log.Info("sweep scheduled kicks", "checked", res.Checked, "kicked", len(res.Kicked))
	}
	return res, nil
}
