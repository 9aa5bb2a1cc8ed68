package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "uploads/tenant-1/orders.csv", strings.NewReader("id\n1\n")))

	rc, err := store.Fetch(ctx, "uploads/tenant-1/orders.csv")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(content))

	size, err := store.Size(ctx, "uploads/tenant-1/orders.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestLocalStore_ContentHash(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	payload := []byte("some,file\ncontent,here\n")
	require.NoError(t, store.Put(ctx, "f.csv", strings.NewReader(string(payload))))

	hash, err := store.ContentHash(ctx, "f.csv")
	require.NoError(t, err)
	assert.Equal(t, fingerprint.HashBytes(payload), hash)
}

func TestLocalStore_MissingObject(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, err := store.Fetch(ctx, "nope.csv")
	assert.Error(t, err)

	_, err = store.Size(ctx, "nope.csv")
	assert.Error(t, err)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, err := store.Fetch(ctx, "../outside.csv")
	assert.Error(t, err)

	err = store.Put(ctx, "../../etc/passwd", strings.NewReader("x"))
	assert.Error(t, err)
}
