package credits

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "credits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := openTestSQLite(t)

	_, err := l.CheckBalance(ctx, "alice")
	assert.ErrorIs(t, err, ErrUnknownCaller)

	require.NoError(t, l.TopUp(ctx, "alice", 10))
	require.NoError(t, l.TopUp(ctx, "alice", 5))

	balance, err := l.CheckBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
}

func TestSQLiteLedger_DeductIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := openTestSQLite(t)
	require.NoError(t, l.TopUp(ctx, "alice", 10))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Deduct(ctx, "alice", 4, "inv-1"))
	}

	balance, err := l.CheckBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)

	n, err := l.Deductions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteLedger_DeductUnknownCallerRollsBack(t *testing.T) {
	ctx := context.Background()
	l := openTestSQLite(t)

	err := l.Deduct(ctx, "ghost", 1, "inv-1")
	assert.ErrorIs(t, err, ErrUnknownCaller)

	n, err := l.Deductions(ctx, "ghost")
	require.NoError(t, err)
	assert.Zero(t, n)

	// The id was not consumed by the failed attempt.
	require.NoError(t, l.TopUp(ctx, "ghost", 3))
	require.NoError(t, l.Deduct(ctx, "ghost", 1, "inv-1"))
	balance, _ := l.CheckBalance(ctx, "ghost")
	assert.Equal(t, int64(2), balance)
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credits.db")

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, l.TopUp(ctx, "alice", 10))
	require.NoError(t, l.Deduct(ctx, "alice", 2, "inv-1"))
	require.NoError(t, l.Close())

	l, err = OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Deduct(ctx, "alice", 2, "inv-1"))
	balance, err := l.CheckBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
