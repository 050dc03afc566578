package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewMigratesAndIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	db, err := New(ctx, path, zap.NewNop())
	require.NoError(t, err)

	var version int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	assert.Equal(t, len(migrations), version)

	var status string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT last_status FROM sync_state WHERE id = 1`).Scan(&status))
	assert.Equal(t, "never", status)
	require.NoError(t, db.Close())

	db, err = New(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_state`).Scan(&rows))
	assert.Equal(t, 1, rows)
}
