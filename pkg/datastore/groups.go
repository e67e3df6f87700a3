package datastore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

type groupRow struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Flags    string `db:"flags"`
	Immunity int    `db:"immunity"`
}

func (r groupRow) toModel() model.Group {
	return model.Group{ID: r.ID, Name: r.Name, Flags: r.Flags, Immunity: r.Immunity}
}

// ListGroups returns every server group.
func (p *baseProvider) ListGroups(ctx context.Context) ([]model.Group, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var rows []groupRow
	if err := sqlxSelect(ctx, p.q, &rows, "SELECT id, name, flags, immunity FROM sb_srvgroups ORDER BY id"); err != nil {
		return nil, storeErr("list groups", err)
	}
	groups := make([]model.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.toModel())
	}
	return groups, nil
}

// GetGroupByName retrieves a group by its unique name.
func (p *baseProvider) GetGroupByName(ctx context.Context, name string) (*model.Group, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var row groupRow
	err := sqlxGet(ctx, p.q, &row, "SELECT id, name, flags, immunity FROM sb_srvgroups WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get group", err)
	}
	g := row.toModel()
	return &g, nil
}

// InsertGroup creates a group and sets group.ID.
func (p *baseProvider) InsertGroup(ctx context.Context, group *model.Group) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"INSERT INTO sb_srvgroups (name, flags, immunity) VALUES (?, ?, ?)",
		group.Name, group.Flags, group.Immunity)
	if err != nil {
		return storeErr("insert group", err)
	}
	group.ID, _ = res.LastInsertId()
	return nil
}

// UpdateGroup rewrites flags and immunity by name.
func (p *baseProvider) UpdateGroup(ctx context.Context, group *model.Group) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.q.ExecContext(ctx,
		"UPDATE sb_srvgroups SET flags = ?, immunity = ? WHERE name = ?",
		group.Flags, group.Immunity, group.Name)
	if err != nil {
		return storeErr("update group", err)
	}
	return nil
}

// DeleteGroup removes a group by name.
func (p *baseProvider) DeleteGroup(ctx context.Context, name string) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx, "DELETE FROM sb_srvgroups WHERE name = ?", name)
	if err != nil {
		return 0, storeErr("delete group", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
