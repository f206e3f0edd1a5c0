package kv

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whatsapp-ai/wabot/test/testutil"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := testutil.TestContext(t)

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "contract:missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "contract:a", "1", time.Hour))
		v, err := s.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, "1", v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "contract:a", "2", time.Hour))
		v, err := s.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.Equal(t, "2", v)
	})

	t.Run("no ttl", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "contract:forever", "x", 0))
		v, err := s.Get(ctx, "contract:forever")
		require.NoError(t, err)
		assert.Equal(t, "x", v)
	})

	t.Run("list by prefix", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "contract:list:1", "a", time.Hour))
		require.NoError(t, s.Put(ctx, "contract:list:2", "b", time.Hour))
		require.NoError(t, s.Put(ctx, "contract:other", "c", time.Hour))

		keys, err := s.List(ctx, "contract:list:")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"contract:list:1", "contract:list:2"}, keys)
	})

	t.Run("list with special characters", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "contract:+1_5%:0", "a", time.Hour))
		require.NoError(t, s.Put(ctx, "contract:+1x5y:0", "b", time.Hour))

		keys, err := s.List(ctx, "contract:+1_5%:")
		require.NoError(t, err)
		assert.Equal(t, []string{"contract:+1_5%:0"}, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "contract:a"))
		_, err := s.Get(ctx, "contract:a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing key", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "contract:never-existed"))
	})
}

func TestMemory_Contract(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()
	ctx := testutil.TestContext(t)
	s := NewMemory()

	require.NoError(t, s.Put(ctx, "short", "v", 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.List(ctx, "sh")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func newTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := NewBolt(filepath.Join(t.TempDir(), "nested", "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBolt_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, newTestBolt(t))
}

func TestBolt_ExpiryAndSweep(t *testing.T) {
	t.Parallel()
	ctx := testutil.TestContext(t)
	b := newTestBolt(t)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Put(ctx, "session:+1", "a", time.Hour))
	require.NoError(t, b.Put(ctx, "session:+2", "b", 3*time.Hour))
	require.NoError(t, b.Put(ctx, "session:+3", "c", 0))

	now = now.Add(2 * time.Hour)

	_, err := b.Get(ctx, "session:+1")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := b.List(ctx, "session:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"session:+2", "session:+3"}, keys)

	removed, err := b.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestBolt_Persists(t *testing.T) {
	t.Parallel()
	ctx := testutil.TestContext(t)
	path := filepath.Join(t.TempDir(), "persist.bolt")

	b, err := NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "metadata:+1", `{"totalMessages":1}`, time.Hour))
	require.NoError(t, b.Close())

	b, err = NewBolt(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	v, err := b.Get(ctx, "metadata:+1")
	require.NoError(t, err)
	assert.Equal(t, `{"totalMessages":1}`, v)
}

func TestRedis_Contract(t *testing.T) {
	s := NewRedis(testutil.SetupTestRedis(t))

	require.NoError(t, s.Ping(testutil.TestContext(t)))
	runStoreContract(t, s)
}

func TestPostgres_Contract(t *testing.T) {
	db := testutil.SetupTestDB(t)
	require.NoError(t, db.Exec("DELETE FROM kv_entries WHERE entry_key LIKE 'contract:%'").Error)

	s := NewPostgres(db)
	require.NoError(t, s.Ping(testutil.TestContext(t)))
	runStoreContract(t, s)
}

func TestEscapeHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `chunk:\*:`, escapeGlob("chunk:*:"))
	assert.Equal(t, `a\[1\]\?`, escapeGlob("a[1]?"))
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}

func TestPing_NonPinger(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Ping(context.Background(), NewMemory()))
}
