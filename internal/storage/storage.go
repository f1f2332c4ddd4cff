// Package storage is the sqlite-backed access store: user access expiry,
// reusable access codes with a redemption log, and the photo-attachment
// index keyed by content path.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"house-concierge-bot/internal/models"
)

//go:embed schema.sql
var ddl embed.FS

// ErrUnknownCode is returned by RedeemCode for codes not present in the
// codes table.
var ErrUnknownCode = errors.New("unknown access code")

type DB struct{ *sql.DB }

func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	if err = migrate(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	b, err := ddl.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}

// ---------- users -----------------------------------------------------------

// EnsureUser creates the user row on first contact. Existing rows are left
// untouched.
func (d *DB) EnsureUser(ctx context.Context, userID int64) error {
	_, err := d.ExecContext(ctx, `
        INSERT OR IGNORE INTO users (user_id, first_seen) VALUES (?, ?)
    `, userID, time.Now().Unix())
	return err
}

func (d *DB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var (
		u     models.User
		seen  int64
		until sql.NullInt64
	)
	err := d.QueryRowContext(ctx, `
        SELECT user_id, first_seen, access_until FROM users WHERE user_id=?
    `, userID).Scan(&u.ID, &seen, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.FirstSeen = time.Unix(seen, 0)
	if until.Valid {
		t := time.Unix(until.Int64, 0)
		u.AccessUntil = &t
	}
	return &u, nil
}

// GetAccessStatus reports whether the user is currently authorized and, if
// known, until when. Side-effect-free.
func (d *DB) GetAccessStatus(ctx context.Context, userID int64) (bool, *time.Time, error) {
	u, err := d.GetUser(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	if u == nil {
		return false, nil, nil
	}
	return u.Authorized(time.Now()), u.AccessUntil, nil
}

// ListUserIDs returns every known user id, for admin broadcasts.
func (d *DB) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.QueryContext(ctx, `SELECT user_id FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrantAccess resets the user's access expiry to now + days. The expiry is
// always reset, never extended from a still-valid one.
func (d *DB) GrantAccess(ctx context.Context, userID int64, days int) error {
	now := time.Now()
	until := now.AddDate(0, 0, days)
	_, err := d.ExecContext(ctx, `
        INSERT INTO users (user_id, first_seen, access_until) VALUES (?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET access_until=excluded.access_until
    `, userID, now.Unix(), until.Unix())
	return err
}

// ---------- codes -----------------------------------------------------------

// RedeemCode checks the code, appends a usage-log row and grants access for
// grantDays. Codes are reusable: redemption never consumes them, so the same
// code can be redeemed again by the same or another guest. Returns the
// house id the code belongs to, or ErrUnknownCode.
func (d *DB) RedeemCode(ctx context.Context, code int64, userID int64, grantDays int) (string, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var houseID string
	err = tx.QueryRowContext(ctx, `SELECT house_id FROM codes WHERE code=?`, code).Scan(&houseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownCode
	}
	if err != nil {
		return "", err
	}

	now := time.Now()
	if _, err = tx.ExecContext(ctx, `
        INSERT INTO code_usages (code, user_id, used_at) VALUES (?,?,?)
    `, code, userID, now.Unix()); err != nil {
		return "", err
	}

	until := now.AddDate(0, 0, grantDays)
	if _, err = tx.ExecContext(ctx, `
        INSERT INTO users (user_id, first_seen, access_until) VALUES (?,?,?)
        ON CONFLICT(user_id) DO UPDATE SET access_until=excluded.access_until
    `, userID, now.Unix(), until.Unix()); err != nil {
		return "", err
	}

	return houseID, tx.Commit()
}

// CodeRow is one line of a bulk code import.
type CodeRow struct {
	Code    int64
	HouseID string
}

// BulkLoadCodes inserts codes that are not present yet. Duplicates in the
// input or the table are ignored, first wins. Returns the number inserted.
func (d *DB) BulkLoadCodes(ctx context.Context, rows []CodeRow) (int, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, r := range rows {
		res, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO codes (code, house_id) VALUES (?,?)
        `, r.Code, r.HouseID)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// ListCodeUsages returns the redemption log for one code, oldest first.
func (d *DB) ListCodeUsages(ctx context.Context, code int64) ([]models.CodeUsage, error) {
	rows, err := d.QueryContext(ctx, `
        SELECT id, code, user_id, used_at FROM code_usages WHERE code=? ORDER BY id
    `, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []models.CodeUsage
	for rows.Next() {
		var (
			u  models.CodeUsage
			ts int64
		)
		if err := rows.Scan(&u.ID, &u.Code, &u.UserID, &ts); err != nil {
			return nil, err
		}
		u.UsedAt = time.Unix(ts, 0)
		res = append(res, u)
	}
	return res, rows.Err()
}

// CountCodeUsages returns the total number of redemptions logged.
func (d *DB) CountCodeUsages(ctx context.Context) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_usages`).Scan(&n)
	return n, err
}

// ---------- photo attachments ----------------------------------------------

// SetAttachment records the photo file for a content path, replacing any
// previous mapping. At most one attachment per path.
func (d *DB) SetAttachment(ctx context.Context, contentPath, fileName string) error {
	_, err := d.ExecContext(ctx, `
        INSERT INTO attachments (content_path, file_name) VALUES (?,?)
        ON CONFLICT(content_path) DO UPDATE SET file_name=excluded.file_name
    `, contentPath, fileName)
	return err
}

// GetAttachment returns the photo file name for a content path, or "" when
// the path has no attachment.
func (d *DB) GetAttachment(ctx context.Context, contentPath string) (string, error) {
	var name string
	err := d.QueryRowContext(ctx, `
        SELECT file_name FROM attachments WHERE content_path=?
    `, contentPath).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// DeleteAttachment removes the index entry. Reports whether a row existed.
func (d *DB) DeleteAttachment(ctx context.Context, contentPath string) (bool, error) {
	res, err := d.ExecContext(ctx, `DELETE FROM attachments WHERE content_path=?`, contentPath)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
