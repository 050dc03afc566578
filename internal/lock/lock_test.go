package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")

	first, err := TryAcquire(path)
	require.NoError(t, err)

	_, err = TryAcquire(path)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, first.Release())

	again, err := TryAcquire(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, err := TryAcquire(filepath.Join(t.TempDir(), "sync.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.NoError(t, l.Release())
}
