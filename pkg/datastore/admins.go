package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/steamid"
)

type adminRow struct {
	ID       int64          `db:"aid"`
	Name     string         `db:"user"`
	Identity string         `db:"authid"`
	Group    sql.NullString `db:"srv_group"`
	Immunity sql.NullInt64  `db:"immunity"`
	Email    string         `db:"email"`
	Password string         `db:"password"`
}

func (r adminRow) toModel() *model.Admin {
	a := &model.Admin{
		ID:       r.ID,
		Name:     r.Name,
		Identity: r.Identity,
		Group:    r.Group.String,
		Email:    r.Email,
		Password: r.Password,
	}
	if r.Immunity.Valid {
		v := int(r.Immunity.Int64)
		a.Immunity = &v
	}
	return a
}

// AdminGroupRow is one admin joined to its server group.
type AdminGroupRow struct {
	Identity      string        `db:"authid"`
	Name          string        `db:"user"`
	Immunity      sql.NullInt64 `db:"immunity"`
	GroupName     string        `db:"group_name"`
	GroupFlags    string        `db:"group_flags"`
	GroupImmunity int           `db:"group_immunity"`
}

func immunityArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// GetAdminIDByIdentity resolves the internal admin id of an identity.
func (p *baseProvider) GetAdminIDByIdentity(ctx context.Context, identity string) (int64, bool, error) {
	if identity == "" {
		return 0, false, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var id int64
	err := sqlxGet(ctx, p.q, &id, "SELECT aid FROM sb_admins WHERE authid = ?", identity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("get admin id", err)
	}
	return id, true, nil
}

// GetAdminByIdentity loads a full admin row.
func (p *baseProvider) GetAdminByIdentity(ctx context.Context, identity string) (*model.Admin, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var row adminRow
	err := sqlxGet(ctx, p.q, &row,
		"SELECT aid, user, authid, srv_group, immunity, email, password FROM sb_admins WHERE authid = ?", identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get admin", err)
	}
	return row.toModel(), nil
}

// ListAdminAssignments joins provisioned admins to their group.
func (p *baseProvider) ListAdminAssignments(ctx context.Context) ([]AdminGroupRow, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	const q = `
		SELECT sb_admins.authid AS authid,
		       sb_admins.user AS user,
		       sb_admins.immunity AS immunity,
		       sb_srvgroups.name AS group_name,
		       sb_srvgroups.flags AS group_flags,
		       sb_srvgroups.immunity AS group_immunity
		FROM sb_admins
		JOIN sb_srvgroups ON sb_admins.srv_group = sb_srvgroups.name
		WHERE sb_admins.immunity IS NOT NULL
		ORDER BY sb_admins.aid`

	var rows []AdminGroupRow
	if err := sqlxSelect(ctx, p.q, &rows, q); err != nil {
		return nil, storeErr("list admin assignments", err)
	}
	return rows, nil
}

// InsertAdmin creates an admin row and sets admin.ID.
func (p *baseProvider) InsertAdmin(ctx context.Context, admin *model.Admin) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"INSERT INTO sb_admins (authid, user, srv_group, immunity, gid, email, password) VALUES (?, ?, ?, ?, ?, ?, ?)",
		admin.Identity, admin.Name, nullString(admin.Group), immunityArg(admin.Immunity), -1, admin.Email, admin.Password)
	if err != nil {
		return storeErr("insert admin", err)
	}
	admin.ID, _ = res.LastInsertId()
	return nil
}

// UpdateAdmin rewrites name, group and immunity of an existing admin.
func (p *baseProvider) UpdateAdmin(ctx context.Context, admin *model.Admin) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.q.ExecContext(ctx,
		"UPDATE sb_admins SET user = ?, srv_group = ?, immunity = ? WHERE aid = ?",
		admin.Name, nullString(admin.Group), immunityArg(admin.Immunity), admin.ID)
	if err != nil {
		return storeErr("update admin", err)
	}
	return nil
}

// DeleteAdminByIdentity hard-deletes admin rows for identity.
func (p *baseProvider) DeleteAdminByIdentity(ctx context.Context, identity string) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx, "DELETE FROM sb_admins WHERE authid = ?", identity)
	if err != nil {
		return 0, storeErr("delete admin", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResolveAdminID maps an issuer identity in any supported encoding to its
// admin id. An empty identity (the console) or a missing row yields
// model.ErrAdminNotFound.
func ResolveAdminID(ctx context.Context, p AdminReadProvider, identity string) (int64, error) {
	if identity == "" {
		return 0, model.ErrAdminNotFound
	}
	canonical, err := steamid.Normalize(identity)
	if err != nil {
		return 0, err
	}
	id, ok, err := p.GetAdminIDByIdentity(ctx, canonical)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrAdminNotFound, canonical)
	}
	return id, nil
}
