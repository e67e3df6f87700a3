package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

// DataProviderFactory hands out scoped connections. Every logical operation
// acquires one DataStore and must Close it on every exit path.
type DataProviderFactory interface {
	Acquire(ctx context.Context) (DataStore, error)
}

// DataStore defines the persistence interface for admins, groups, bans and
// mutes over a single pooled connection.
type DataStore interface {
	AdminReadProvider
	AdminWriteProvider

	GroupReadProvider
	GroupWriteProvider

	BanReadProvider
	BanWriteProvider

	MuteReadProvider
	MuteWriteProvider

	// Tx runs fn inside a transaction on this connection. fn's error rolls
	// the transaction back.
	Tx(ctx context.Context, fn func(DataStore) error) error

	// Close releases the connection back to the pool. Safe to call twice.
	Close() error
}

// Compile-time check.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type AdminReadProvider interface {
	// GetAdminIDByIdentity returns (0, false, nil) when no admin row exists.
	GetAdminIDByIdentity(ctx context.Context, identity string) (int64, bool, error)
	// GetAdminByIdentity returns (nil, nil) when not found.
	GetAdminByIdentity(ctx context.Context, identity string) (*model.Admin, error)
	ListAdminAssignments(ctx context.Context) ([]AdminGroupRow, error)
}

type AdminWriteProvider interface {
	InsertAdmin(ctx context.Context, admin *model.Admin) error
	UpdateAdmin(ctx context.Context, admin *model.Admin) error
	DeleteAdminByIdentity(ctx context.Context, identity string) (int64, error)
}

type GroupReadProvider interface {
	ListGroups(ctx context.Context) ([]model.Group, error)
	// GetGroupByName returns (nil, nil) when not found.
	GetGroupByName(ctx context.Context, name string) (*model.Group, error)
}

type GroupWriteProvider interface {
	InsertGroup(ctx context.Context, group *model.Group) error
	UpdateGroup(ctx context.Context, group *model.Group) error
	DeleteGroup(ctx context.Context, name string) (int64, error)
}

type BanReadProvider interface {
	// CountActiveBans counts enforced bans on identity or ip. Empty
	// arguments are never compared.
	CountActiveBans(ctx context.Context, identity, ip string, now time.Time) (int, error)
	// CountBans counts every ban ever recorded for identity or ip.
	CountBans(ctx context.Context, identity, ip string) (int, error)
	FindActiveBanIDs(ctx context.Context, identity, pattern string, now time.Time) ([]int64, error)
	FindActiveBansFor(ctx context.Context, identities, ips []string, now time.Time) ([]model.Ban, error)
	// GetBan returns (nil, nil) when not found.
	GetBan(ctx context.Context, id int64) (*model.Ban, error)
}

type BanWriteProvider interface {
	InsertBan(ctx context.Context, ban *model.Ban) error
	MarkBanRemoved(ctx context.Context, id int64, removal model.Removal) (bool, error)
}

type MuteReadProvider interface {
	ListActiveMutes(ctx context.Context, identity string, now time.Time) ([]model.Mute, error)
	CountMutes(ctx context.Context, identity string) (int, error)
	FindActiveMuteIDs(ctx context.Context, identity, pattern string, muteType model.MuteType, now time.Time) ([]int64, error)
	// ListServedMutes returns non-removed timed mutes whose passed counter
	// reached their length.
	ListServedMutes(ctx context.Context, identities []string) ([]model.Mute, error)
	// GetMute returns (nil, nil) when not found.
	GetMute(ctx context.Context, id int64) (*model.Mute, error)
}

type MuteWriteProvider interface {
	InsertMute(ctx context.Context, mute *model.Mute) error
	MarkMuteRemoved(ctx context.Context, id int64, removal model.Removal) (bool, error)
	// IncrementPassed bumps the passed counter of active timed mutes.
	IncrementPassed(ctx context.Context, identities []string, now time.Time) (int64, error)
	// ExpireMutes soft-removes timed mutes past their end.
	ExpireMutes(ctx context.Context, now time.Time) (int64, error)
}
