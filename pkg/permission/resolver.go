// Package permission resolves groups and admin assignments into the
// capability snapshots consumed by the host's authorization evaluator.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/simpleadmin/pkg/crypto"
	"github.com/NicolasHaas/simpleadmin/pkg/datastore"
	"github.com/NicolasHaas/simpleadmin/pkg/host"
	"github.com/NicolasHaas/simpleadmin/pkg/logging"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/rbac"
	"github.com/NicolasHaas/simpleadmin/pkg/steamid"
)

var (
	ErrGroupRequired = errors.New("permission: group name required")
	ErrNameRequired  = errors.New("permission: name required")
)

// Assignment is an admin joined to its group. Identity is the stored Steam2
// form, Steam64 the form exported to the host.
type Assignment struct {
	Identity string
	Steam64  string
	Name     string
	Group    string
	Flags    []model.Capability
	Immunity int
}

// Credentials produces the placeholder email and password stored with a
// new admin row.
type Credentials func() (email, password string, err error)

func placeholderCredentials() (string, string, error) {
	email, err := crypto.PlaceholderEmail()
	if err != nil {
		return "", "", err
	}
	password, err := crypto.PlaceholderPassword()
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

// Resolver loads, exports and mutates permissions.
type Resolver struct {
	store       datastore.DataProviderFactory
	host        host.Host
	cache       *AdminCache
	writer      SnapshotWriter
	credentials Credentials
	log         *slog.Logger
}

type Option func(*Resolver)

// WithSnapshotWriter publishes snapshots after every mutation.
func WithSnapshotWriter(w SnapshotWriter) Option {
	return func(r *Resolver) { r.writer = w }
}

func WithCredentials(c Credentials) Option {
	return func(r *Resolver) {
		if c != nil {
			r.credentials = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// NewResolver creates a resolver. A nil cache gets a fresh one.
func NewResolver(store datastore.DataProviderFactory, h host.Host, cache *AdminCache, opts ...Option) *Resolver {
	if cache == nil {
		cache = NewAdminCache()
	}
	r := &Resolver{
		store:       store,
		host:        h,
		cache:       cache,
		credentials: placeholderCredentials,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = logging.Component(r.log, "permission")
	return r
}

// Cache returns the admin identity cache.
func (r *Resolver) Cache() *AdminCache {
	return r.cache
}

func (r *Resolver) withStore(ctx context.Context, fn func(datastore.DataStore) error) error {
	ds, err := r.store.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()
	return fn(ds)
}

// LoadGroupDefinitions returns every group with at least one mapped
// capability, keyed by group name.
func (r *Resolver) LoadGroupDefinitions(ctx context.Context) (map[string]GroupDefinition, error) {
	var defs map[string]GroupDefinition
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		defs, err = loadGroups(ctx, ds)
		return err
	})
	if err != nil {
		r.log.Error("load groups", "err", err)
		return nil, err
	}
	return defs, nil
}

func loadGroups(ctx context.Context, ds datastore.GroupReadProvider) (map[string]GroupDefinition, error) {
	groups, err := ds.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	defs := make(map[string]GroupDefinition, len(groups))
	for _, g := range groups {
		caps := rbac.MapFlags(g.Flags)
		if len(caps) == 0 {
			continue
		}
		defs[g.Name] = GroupDefinition{Flags: caps, Immunity: g.Immunity}
	}
	return defs, nil
}

// LoadAdminAssignments returns every provisioned admin joined to its group
// and registers each identity in the cache. Immunity is the larger of the
// admin's own and its group's. Rows whose identity cannot be converted to
// Steam64 are logged and skipped.
func (r *Resolver) LoadAdminAssignments(ctx context.Context) ([]Assignment, error) {
	var out []Assignment
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		out, err = r.loadAssignments(ctx, ds)
		return err
	})
	if err != nil {
		r.log.Error("load admin assignments", "err", err)
		return nil, err
	}
	return out, nil
}

func (r *Resolver) loadAssignments(ctx context.Context, ds datastore.AdminReadProvider) ([]Assignment, error) {
	rows, err := ds.ListAdminAssignments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		if !row.Immunity.Valid {
			continue
		}
		s64, err := steamid.ToSteam64(row.Identity)
		if err != nil {
			r.log.Warn("skipping admin with malformed identity", "identity", row.Identity, "name", row.Name, "err", err)
			continue
		}
		if id, err := steamid.ID64(row.Identity); err == nil {
			r.cache.Observe(id)
		}
		out = append(out, Assignment{
			Identity: row.Identity,
			Steam64:  s64,
			Name:     row.Name,
			Group:    row.GroupName,
			Flags:    rbac.MapFlags(row.GroupFlags),
			Immunity: max(int(row.Immunity.Int64), row.GroupImmunity),
		})
	}
	return out, nil
}

func groupSnapshot(defs map[string]GroupDefinition) GroupSnapshot {
	snap := make(GroupSnapshot, len(defs))
	for name, def := range defs {
		snap[model.GroupKey(name)] = def
	}
	return snap
}

func adminSnapshot(assignments []Assignment) AdminSnapshot {
	snap := make(AdminSnapshot, len(assignments))
	for _, a := range assignments {
		if len(a.Flags) == 0 {
			continue
		}
		snap[model.AdminKey(a.Name)] = AdminEntry{
			Identity: a.Steam64,
			Immunity: a.Immunity,
			Flags:    a.Flags,
			Groups:   []string{model.GroupKey(a.Group)},
		}
	}
	return snap
}

// ExportGroupSnapshot builds the group snapshot keyed by "#<name>".
func (r *Resolver) ExportGroupSnapshot(ctx context.Context) (GroupSnapshot, error) {
	defs, err := r.LoadGroupDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	return groupSnapshot(defs), nil
}

// ExportAdminSnapshot builds the admin snapshot keyed by lower-cased
// display name. Entries carry the Steam64 identity and the larger of the
// admin's and the group's immunity. Admins without capabilities are left
// out.
func (r *Resolver) ExportAdminSnapshot(ctx context.Context) (AdminSnapshot, error) {
	assignments, err := r.LoadAdminAssignments(ctx)
	if err != nil {
		return nil, err
	}
	return adminSnapshot(assignments), nil
}

// Refresh regenerates both snapshots from the store and hands them to the
// snapshot writer, if any.
func (r *Resolver) Refresh(ctx context.Context) (GroupSnapshot, AdminSnapshot, error) {
	var (
		defs        map[string]GroupDefinition
		assignments []Assignment
	)
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		if defs, err = loadGroups(ctx, ds); err != nil {
			return err
		}
		assignments, err = r.loadAssignments(ctx, ds)
		return err
	})
	if err != nil {
		r.log.Error("refresh snapshots", "err", err)
		return nil, nil, err
	}

	groups, admins := groupSnapshot(defs), adminSnapshot(assignments)
	if r.writer != nil {
		if err := r.writer.WriteSnapshots(groups, admins); err != nil {
			r.log.Error("write snapshots", "err", err)
			return groups, admins, err
		}
	}
	r.log.Debug("snapshots refreshed", "groups", len(groups), "admins", len(admins))
	return groups, admins, nil
}

// refreshAfterMutation republishes snapshots once a write is durable. A
// failure here does not undo the write, so it is only logged.
func (r *Resolver) refreshAfterMutation(ctx context.Context) {
	if r.writer == nil {
		return
	}
	_, _, _ = r.Refresh(ctx)
}

// AddAdmin creates the admin row for identity, or updates name, group and
// immunity when one exists. On success the host is asked to reload its
// authorization state exactly once.
func (r *Resolver) AddAdmin(ctx context.Context, identity, name, group string, immunity int) (*model.Admin, error) {
	if group == "" {
		return nil, ErrGroupRequired
	}
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return nil, err
	}
	id64, _ := steamid.ID64(canonical)

	var admin *model.Admin
	created := false
	err = r.withStore(ctx, func(ds datastore.DataStore) error {
		existing, err := ds.GetAdminByIdentity(ctx, canonical)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Name = name
			existing.Group = group
			existing.Immunity = &immunity
			admin = existing
			return ds.UpdateAdmin(ctx, existing)
		}

		email, password, err := r.credentials()
		if err != nil {
			return fmt.Errorf("permission: placeholder credentials: %w", err)
		}
		admin = &model.Admin{
			Identity: canonical,
			Name:     name,
			Group:    group,
			Immunity: &immunity,
			Email:    email,
			Password: password,
		}
		created = true
		return ds.InsertAdmin(ctx, admin)
	})
	if err != nil {
		r.log.Error("add admin", "identity", canonical, "err", err)
		return nil, err
	}

	r.cache.Observe(id64)
	r.host.ScheduleReloadAuthorization()
	r.log.Info("admin saved", "identity", canonical, "group", group, "immunity", immunity, "created", created)
	r.refreshAfterMutation(ctx)
	return admin, nil
}

// RemoveAdmin deletes the admin rows of identity and evicts it from the
// cache. It reports whether a row existed.
func (r *Resolver) RemoveAdmin(ctx context.Context, identity string) (bool, error) {
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return false, err
	}

	var n int64
	err = r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		n, err = ds.DeleteAdminByIdentity(ctx, canonical)
		return err
	})
	if err != nil {
		r.log.Error("remove admin", "identity", canonical, "err", err)
		return false, err
	}

	if id64, err := steamid.ID64(canonical); err == nil {
		r.cache.Remove(id64)
	}
	r.log.Info("admin removed", "identity", canonical, "rows", n)
	r.refreshAfterMutation(ctx)
	return n > 0, nil
}

// RemoveGroup deletes a group by name. Admins keep their dangling group
// reference and drop out of the admin snapshot.
func (r *Resolver) RemoveGroup(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, ErrNameRequired
	}

	var n int64
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		n, err = ds.DeleteGroup(ctx, name)
		return err
	})
	if err != nil {
		r.log.Error("remove group", "group", name, "err", err)
		return false, err
	}

	r.log.Info("group removed", "group", name, "rows", n)
	r.refreshAfterMutation(ctx)
	return n > 0, nil
}

// AddGroup creates a group or rewrites the flags and immunity of an
// existing one.
func (r *Resolver) AddGroup(ctx context.Context, name, flags string, immunity int) (*model.Group, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	var group *model.Group
	err := r.withStore(ctx, func(ds datastore.DataStore) error {
		var err error
		group, err = upsertGroup(ctx, ds, model.Group{Name: name, Flags: flags, Immunity: immunity})
		return err
	})
	if err != nil {
		r.log.Error("add group", "group", name, "err", err)
		return nil, err
	}

	r.log.Info("group saved", "group", name, "flags", flags, "immunity", immunity)
	r.refreshAfterMutation(ctx)
	return group, nil
}

type groupStore interface {
	datastore.GroupReadProvider
	datastore.GroupWriteProvider
}

func upsertGroup(ctx context.Context, ds groupStore, g model.Group) (*model.Group, error) {
	existing, err := ds.GetGroupByName(ctx, g.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Flags = g.Flags
		existing.Immunity = g.Immunity
		return existing, ds.UpdateGroup(ctx, existing)
	}
	return &g, ds.InsertGroup(ctx, &g)
}
