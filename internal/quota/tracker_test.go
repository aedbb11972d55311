package quota

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zadahmed/everwith-entitlements/internal/repositories/metadata"

	_ "modernc.org/sqlite"
)

func setupRepo(t *testing.T) metadata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return metadata.NewSQLiteRepository(db)
}

func newTracker(t *testing.T, now time.Time) *tracker {
	t.Helper()
	return &tracker{repo: setupRepo(t), now: func() time.Time { return now }}
}

func TestCurrentQuota_FirstRun_GrantsDailyAllowance(t *testing.T) {
	tr := newTracker(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local))

	st, err := tr.CurrentQuota(context.Background())
	require.NoError(t, err)
	require.Equal(t, DailyFreeUses, st.FreeUsesRemaining)
	require.Nil(t, st.LastFreeUseDate)
}

func TestConsume_DecrementsAndStamps(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	tr := newTracker(t, now)
	ctx := context.Background()

	st, err := tr.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.FreeUsesRemaining)
	require.NotNil(t, st.LastFreeUseDate)

	// Same day: no allowance left.
	st, err = tr.CurrentQuota(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.FreeUsesRemaining)
}

func TestConsume_FlooredAtZero(t *testing.T) {
	tr := newTracker(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local))
	ctx := context.Background()

	_, err := tr.Consume(ctx)
	require.NoError(t, err)
	st, err := tr.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.FreeUsesRemaining)
}

func TestCurrentQuota_NewDay_ResetsAllowance(t *testing.T) {
	yesterday := time.Date(2026, 3, 13, 23, 50, 0, 0, time.Local)
	tr := newTracker(t, yesterday)
	ctx := context.Background()

	_, err := tr.Consume(ctx)
	require.NoError(t, err)

	// Advance the clock past midnight.
	tr.now = func() time.Time { return time.Date(2026, 3, 14, 0, 10, 0, 0, time.Local) }

	st, err := tr.CurrentQuota(ctx)
	require.NoError(t, err)
	require.Equal(t, DailyFreeUses, st.FreeUsesRemaining)
	require.Nil(t, st.LastFreeUseDate)
}

func TestReset_ClearsState(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	tr := newTracker(t, now)
	ctx := context.Background()

	_, err := tr.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Reset(ctx))

	st, err := tr.CurrentQuota(ctx)
	require.NoError(t, err)
	require.Equal(t, DailyFreeUses, st.FreeUsesRemaining)
}

// failingRepo simulates storage failure; the tracker must surface the error
// so callers can fail closed.
type failingRepo struct{}

var errDisk = errors.New("disk failure")

func (failingRepo) Get(ctx context.Context, key string) ([]byte, error) { return nil, errDisk }
func (failingRepo) Set(ctx context.Context, key string, v []byte) error { return errDisk }
func (failingRepo) Delete(ctx context.Context, key string) error        { return errDisk }
func (failingRepo) List(ctx context.Context) (map[string][]byte, error) { return nil, errDisk }
func (failingRepo) Clear(ctx context.Context) error                     { return errDisk }

func TestCurrentQuota_StorageError_ReportsZero(t *testing.T) {
	tr := &tracker{repo: failingRepo{}, now: time.Now}

	st, err := tr.CurrentQuota(context.Background())
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, 0, st.FreeUsesRemaining)
}
