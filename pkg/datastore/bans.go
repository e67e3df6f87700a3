package datastore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

const banColumns = "bid, authid, name, ip, reason, aid, adminIp, sid, created, length, ends, RemovedBy, RemoveType, RemovedOn, ureason"

// activeClause is the shared active predicate; it takes one "now" argument.
const activeClause = "RemoveType IS NULL AND (length = 0 OR ends > ?)"

type removalColumns struct {
	RemovedBy    sql.NullInt64  `db:"RemovedBy"`
	RemoveType   sql.NullString `db:"RemoveType"`
	RemovedOn    sql.NullInt64  `db:"RemovedOn"`
	RemoveReason sql.NullString `db:"ureason"`
}

func (r removalColumns) toModel() *model.Removal {
	if !r.RemoveType.Valid {
		return nil
	}
	return &model.Removal{
		By:     r.RemovedBy.Int64,
		Type:   model.RemovalType(r.RemoveType.String),
		At:     fromUnix(r.RemovedOn.Int64),
		Reason: r.RemoveReason.String,
	}
}

type banRow struct {
	ID       int64          `db:"bid"`
	Identity string         `db:"authid"`
	Name     string         `db:"name"`
	IP       sql.NullString `db:"ip"`
	Reason   string         `db:"reason"`
	IssuerID int64          `db:"aid"`
	IssuerIP string         `db:"adminIp"`
	ServerID int            `db:"sid"`
	Created  int64          `db:"created"`
	Length   int64          `db:"length"`
	Ends     int64          `db:"ends"`
	removalColumns
}

func (r banRow) toModel() model.Ban {
	return model.Ban{
		ID:       r.ID,
		Identity: r.Identity,
		Name:     r.Name,
		IP:       r.IP.String,
		Reason:   r.Reason,
		IssuerID: r.IssuerID,
		IssuerIP: r.IssuerIP,
		ServerID: r.ServerID,
		Created:  fromUnix(r.Created),
		Length:   r.Length,
		Ends:     fromUnix(r.Ends),
		Removal:  r.removalColumns.toModel(),
	}
}

// InsertBan stores a new ban and sets ban.ID.
func (p *baseProvider) InsertBan(ctx context.Context, ban *model.Ban) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"INSERT INTO sb_bans (authid, name, ip, reason, length, ends, created, aid, sid, adminIp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ban.Identity, ban.Name, nullString(ban.IP), ban.Reason, ban.Length, ban.Ends.Unix(), ban.Created.Unix(),
		ban.IssuerID, ban.ServerID, ban.IssuerIP)
	if err != nil {
		return storeErr("insert ban", err)
	}
	ban.ID, _ = res.LastInsertId()
	return nil
}

// CountActiveBans counts enforced bans matching identity or ip.
func (p *baseProvider) CountActiveBans(ctx context.Context, identity, ip string, now time.Time) (int, error) {
	if identity == "" && ip == "" {
		return 0, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n int
	err := sqlxGet(ctx, p.q, &n,
		"SELECT COUNT(*) FROM sb_bans WHERE (authid = ? OR ip = ?) AND "+activeClause,
		optional(identity), optional(ip), now.Unix())
	if err != nil {
		return 0, storeErr("count active bans", err)
	}
	return n, nil
}

// CountBans counts every ban recorded against identity or ip.
func (p *baseProvider) CountBans(ctx context.Context, identity, ip string) (int, error) {
	if identity == "" && ip == "" {
		return 0, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n int
	err := sqlxGet(ctx, p.q, &n,
		"SELECT COUNT(*) FROM sb_bans WHERE (authid = ? OR ip = ?)",
		optional(identity), optional(ip))
	if err != nil {
		return 0, storeErr("count bans", err)
	}
	return n, nil
}

// FindActiveBanIDs returns active bans whose authid equals identity or whose
// name or ip equals pattern.
func (p *baseProvider) FindActiveBanIDs(ctx context.Context, identity, pattern string, now time.Time) ([]int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var ids []int64
	err := sqlxSelect(ctx, p.q, &ids,
		"SELECT bid FROM sb_bans WHERE (authid = ? OR name = ? OR ip = ?) AND "+activeClause+" ORDER BY bid",
		optional(identity), pattern, pattern, now.Unix())
	if err != nil {
		return nil, storeErr("find active bans", err)
	}
	return ids, nil
}

// FindActiveBansFor returns active bans on any of the identities or ips in
// a single round trip.
func (p *baseProvider) FindActiveBansFor(ctx context.Context, identities, ips []string, now time.Time) ([]model.Ban, error) {
	var where []string
	var args []any
	if len(identities) > 0 {
		where = append(where, "authid IN (?)")
		args = append(args, identities)
	}
	if len(ips) > 0 {
		where = append(where, "ip IN (?)")
		args = append(args, ips)
	}
	if len(where) == 0 {
		return nil, nil
	}
	args = append(args, now.Unix())

	query, bound, err := p.in(
		"SELECT "+banColumns+" FROM sb_bans WHERE ("+strings.Join(where, " OR ")+") AND "+activeClause, args...)
	if err != nil {
		return nil, storeErr("find bans for sessions", err)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var rows []banRow
	if err := sqlxSelect(ctx, p.q, &rows, query, bound...); err != nil {
		return nil, storeErr("find bans for sessions", err)
	}
	bans := make([]model.Ban, 0, len(rows))
	for _, r := range rows {
		bans = append(bans, r.toModel())
	}
	return bans, nil
}

// GetBan loads a single ban.
func (p *baseProvider) GetBan(ctx context.Context, id int64) (*model.Ban, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var row banRow
	err := sqlxGet(ctx, p.q, &row, "SELECT "+banColumns+" FROM sb_bans WHERE bid = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get ban", err)
	}
	b := row.toModel()
	return &b, nil
}

// MarkBanRemoved soft-deletes one ban. Rows already removed are left alone
// and reported as not updated.
func (p *baseProvider) MarkBanRemoved(ctx context.Context, id int64, removal model.Removal) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"UPDATE sb_bans SET RemovedBy = ?, RemoveType = ?, RemovedOn = ?, ureason = ? WHERE bid = ? AND RemoveType IS NULL",
		removal.By, string(removal.Type), removal.At.Unix(), removal.Reason, id)
	if err != nil {
		return false, storeErr("remove ban", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("remove ban", err)
	}
	return n > 0, nil
}
