package datastore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

const muteColumns = "bid, authid, name, reason, aid, created, length, ends, passed, type, RemovedBy, RemoveType, RemovedOn, ureason"

type muteRow struct {
	ID       int64         `db:"bid"`
	Identity string        `db:"authid"`
	Name     string        `db:"name"`
	Reason   string        `db:"reason"`
	IssuerID int64         `db:"aid"`
	Created  int64         `db:"created"`
	Length   int64         `db:"length"`
	Ends     int64         `db:"ends"`
	Passed   sql.NullInt64 `db:"passed"`
	Type     int           `db:"type"`
	removalColumns
}

func (r muteRow) toModel() model.Mute {
	return model.Mute{
		ID:       r.ID,
		Identity: r.Identity,
		Name:     r.Name,
		Reason:   r.Reason,
		IssuerID: r.IssuerID,
		Created:  fromUnix(r.Created),
		Length:   r.Length,
		Ends:     fromUnix(r.Ends),
		Passed:   r.Passed.Int64,
		Type:     model.ParseMuteType(r.Type),
		Removal:  r.removalColumns.toModel(),
	}
}

func toMutes(rows []muteRow) []model.Mute {
	mutes := make([]model.Mute, 0, len(rows))
	for _, r := range rows {
		mutes = append(mutes, r.toModel())
	}
	return mutes
}

// InsertMute stores a new mute and sets mute.ID.
func (p *baseProvider) InsertMute(ctx context.Context, mute *model.Mute) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"INSERT INTO sb_comms (authid, name, reason, length, ends, created, aid, type, passed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)",
		mute.Identity, mute.Name, mute.Reason, mute.Length, mute.Ends.Unix(), mute.Created.Unix(), mute.IssuerID, int(mute.Type))
	if err != nil {
		return storeErr("insert mute", err)
	}
	mute.ID, _ = res.LastInsertId()
	return nil
}

// ListActiveMutes returns the enforced mutes of identity.
func (p *baseProvider) ListActiveMutes(ctx context.Context, identity string, now time.Time) ([]model.Mute, error) {
	if identity == "" {
		return nil, nil
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var rows []muteRow
	err := sqlxSelect(ctx, p.q, &rows,
		"SELECT "+muteColumns+" FROM sb_comms WHERE authid = ? AND "+activeClause+" ORDER BY bid",
		identity, now.Unix())
	if err != nil {
		return nil, storeErr("list active mutes", err)
	}
	return toMutes(rows), nil
}

// CountMutes counts every mute ever recorded for identity.
func (p *baseProvider) CountMutes(ctx context.Context, identity string) (int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n int
	if err := sqlxGet(ctx, p.q, &n, "SELECT COUNT(*) FROM sb_comms WHERE authid = ?", identity); err != nil {
		return 0, storeErr("count mutes", err)
	}
	return n, nil
}

// FindActiveMuteIDs returns active mutes of one type matching identity or
// display name.
func (p *baseProvider) FindActiveMuteIDs(ctx context.Context, identity, pattern string, muteType model.MuteType, now time.Time) ([]int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var ids []int64
	err := sqlxSelect(ctx, p.q, &ids,
		"SELECT bid FROM sb_comms WHERE (authid = ? OR name = ?) AND type = ? AND "+activeClause+" ORDER BY bid",
		optional(identity), pattern, int(muteType), now.Unix())
	if err != nil {
		return nil, storeErr("find active mutes", err)
	}
	return ids, nil
}

// ListServedMutes returns timed mutes, not yet removed, whose passed
// counter reached their length.
func (p *baseProvider) ListServedMutes(ctx context.Context, identities []string) ([]model.Mute, error) {
	if len(identities) == 0 {
		return nil, nil
	}
	query, args, err := p.in(
		"SELECT "+muteColumns+" FROM sb_comms WHERE authid IN (?) AND passed >= length AND length > 0 AND RemoveType IS NULL ORDER BY bid",
		identities)
	if err != nil {
		return nil, storeErr("list served mutes", err)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var rows []muteRow
	if err := sqlxSelect(ctx, p.q, &rows, query, args...); err != nil {
		return nil, storeErr("list served mutes", err)
	}
	return toMutes(rows), nil
}

// GetMute loads a single mute.
func (p *baseProvider) GetMute(ctx context.Context, id int64) (*model.Mute, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var row muteRow
	err := sqlxGet(ctx, p.q, &row, "SELECT "+muteColumns+" FROM sb_comms WHERE bid = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get mute", err)
	}
	m := row.toModel()
	return &m, nil
}

// MarkMuteRemoved soft-deletes one mute. Rows already removed are left
// alone and reported as not updated.
func (p *baseProvider) MarkMuteRemoved(ctx context.Context, id int64, removal model.Removal) (bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"UPDATE sb_comms SET RemovedBy = ?, RemoveType = ?, RemovedOn = ?, ureason = ? WHERE bid = ? AND RemoveType IS NULL",
		removal.By, string(removal.Type), removal.At.Unix(), removal.Reason, id)
	if err != nil {
		return false, storeErr("remove mute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("remove mute", err)
	}
	return n > 0, nil
}

// IncrementPassed adds one observed sweep to every active timed mute of the
// given identities in a single statement.
func (p *baseProvider) IncrementPassed(ctx context.Context, identities []string, now time.Time) (int64, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	query, args, err := p.in(
		"UPDATE sb_comms SET passed = COALESCE(passed, 0) + 1 WHERE authid IN (?) AND length > 0 AND ends > ? AND RemoveType IS NULL",
		identities, now.Unix())
	if err != nil {
		return 0, storeErr("increment passed", err)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr("increment passed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExpireMutes marks timed mutes past their end as auto-expired.
func (p *baseProvider) ExpireMutes(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	res, err := p.q.ExecContext(ctx,
		"UPDATE sb_comms SET RemoveType = ?, RemovedOn = ? WHERE length > 0 AND ends <= ? AND RemoveType IS NULL",
		string(model.RemovalExpired), now.Unix(), now.Unix())
	if err != nil {
		return 0, storeErr("expire mutes", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
