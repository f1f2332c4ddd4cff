package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureUser(ctx, 7))
	u, err := db.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Nil(t, u.AccessUntil)
	assert.False(t, u.Authorized(time.Now()))

	// second call leaves the row untouched
	require.NoError(t, db.EnsureUser(ctx, 7))

	missing, err := db.GetUser(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedeemCode(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.BulkLoadCodes(ctx, []CodeRow{{Code: 1000, HouseID: "h1"}})
	require.NoError(t, err)

	houseID, err := db.RedeemCode(ctx, 1000, 7, 30)
	require.NoError(t, err)
	assert.Equal(t, "h1", houseID)

	ok, until, err := db.GetAccessStatus(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, until)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *until, time.Minute)
}

func TestRedeemCode_Unknown(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.RedeemCode(ctx, 4242, 7, 30)
	assert.ErrorIs(t, err, ErrUnknownCode)

	// a failed redemption mutates nothing
	ok, _, err := db.GetAccessStatus(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	usages, err := db.ListCodeUsages(ctx, 4242)
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestRedeemCode_Reusable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.BulkLoadCodes(ctx, []CodeRow{{Code: 1000, HouseID: "h1"}})
	require.NoError(t, err)

	// same code, two guests, then the first guest again
	for _, userID := range []int64{7, 8, 7} {
		houseID, err := db.RedeemCode(ctx, 1000, userID, 30)
		require.NoError(t, err)
		assert.Equal(t, "h1", houseID)
	}

	usages, err := db.ListCodeUsages(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, usages, 3)
	assert.Equal(t, int64(7), usages[0].UserID)
	assert.Equal(t, int64(8), usages[1].UserID)
	assert.Equal(t, int64(7), usages[2].UserID)

	n, err := db.CountCodeUsages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRedeemCode_ResetsExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.BulkLoadCodes(ctx, []CodeRow{{Code: 1000, HouseID: "h1"}})
	require.NoError(t, err)

	_, err = db.RedeemCode(ctx, 1000, 7, 60)
	require.NoError(t, err)
	_, err = db.RedeemCode(ctx, 1000, 7, 30)
	require.NoError(t, err)

	// expiry is reset to now + 30d, not extended from the earlier 60d grant
	_, until, err := db.GetAccessStatus(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *until, time.Minute)
}

func TestBulkLoadCodes_IgnoresDuplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.BulkLoadCodes(ctx, []CodeRow{
		{Code: 1000, HouseID: "h1"},
		{Code: 1000, HouseID: "h2"}, // duplicate, first wins
		{Code: 2000, HouseID: "h1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	houseID, err := db.RedeemCode(ctx, 1000, 7, 30)
	require.NoError(t, err)
	assert.Equal(t, "h1", houseID)

	// reloading is idempotent
	n, err = db.BulkLoadCodes(ctx, []CodeRow{{Code: 1000, HouseID: "h3"}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGrantAccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.GrantAccess(ctx, 7, 14))
	ok, until, err := db.GetAccessStatus(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), *until, time.Minute)
}

func TestListUserIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ids, err := db.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, db.EnsureUser(ctx, 7))
	require.NoError(t, db.EnsureUser(ctx, 8))
	ids, err = db.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 8}, ids)
}

func TestAttachments(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	name, err := db.GetAttachment(ctx, "texts/about.md")
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, db.SetAttachment(ctx, "texts/about.md", "texts_about.md.jpg"))
	name, err = db.GetAttachment(ctx, "texts/about.md")
	require.NoError(t, err)
	assert.Equal(t, "texts_about.md.jpg", name)

	// replacing overwrites, never appends
	require.NoError(t, db.SetAttachment(ctx, "texts/about.md", "other.jpg"))
	name, err = db.GetAttachment(ctx, "texts/about.md")
	require.NoError(t, err)
	assert.Equal(t, "other.jpg", name)

	deleted, err := db.DeleteAttachment(ctx, "texts/about.md")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = db.DeleteAttachment(ctx, "texts/about.md")
	require.NoError(t, err)
	assert.False(t, deleted)
}
