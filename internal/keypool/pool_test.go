package keypool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, keys ...string) (*Pool, *fakeClock) {
	t.Helper()

	pool, err := New(keys, time.Minute)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)}
	pool.now = clock.Now

	return pool, clock
}

func TestNew_RejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := New([]string{"", "  "}, 0)
	require.ErrorIs(t, err, ErrNoKeys)
}

func TestNew_DefaultCooldown(t *testing.T) {
	t.Parallel()

	pool, err := New([]string{"a"}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCooldown, pool.cooldown)
}

func TestRotate_IsCyclic(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, "k0", "k1", "k2")

	index, key := pool.Current()
	assert.Equal(t, 0, index)
	assert.Equal(t, "k0", key)

	for range pool.Len() - 1 {
		pool.Rotate()
	}

	index, _ = pool.Current()
	assert.Equal(t, 2, index)

	index, key = pool.Rotate()
	assert.Equal(t, 0, index, "the (N+1)-th attempt reuses key 0")
	assert.Equal(t, "k0", key)
}

func TestAvailable_SkipsCoolingKey(t *testing.T) {
	t.Parallel()

	pool, clock := newTestPool(t, "k0", "k1", "k2")
	pool.MarkFailed(0)
	pool.MarkFailed(1)

	index, key := pool.Available()
	assert.Equal(t, 2, index)
	assert.Equal(t, "k2", key)

	clock.Advance(2 * time.Minute)
	assert.False(t, pool.CoolingDown(0))
}

func TestAvailable_StaysWhenAllCooling(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, "k0", "k1")
	pool.MarkFailed(0)
	pool.MarkFailed(1)

	index, _ := pool.Available()
	assert.Equal(t, 0, index)
}

func TestAvailable_SingleKeyNeverSkips(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, "only")
	pool.MarkFailed(0)

	index, key := pool.Available()
	assert.Equal(t, 0, index)
	assert.Equal(t, "only", key)
}

func TestRecordUse_ResetsEachHour(t *testing.T) {
	t.Parallel()

	pool, clock := newTestPool(t, "k0", "k1")
	pool.RecordUse(1)
	pool.RecordUse(1)
	pool.RecordUse(7)

	stats := pool.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 0, stats[0].HourlyUses)
	assert.Equal(t, 2, stats[1].HourlyUses)

	clock.Advance(time.Hour)
	pool.RecordUse(1)

	stats = pool.Stats()
	assert.Equal(t, 1, stats[1].HourlyUses)
}

func TestStats_MasksKeys(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, "AIzaSecretValue1234")

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "***************1234", stats[0].Masked)
	assert.True(t, stats[0].Current)
	assert.NotContains(t, stats[0].Masked, "Secret")
}

func TestParseKeys(t *testing.T) {
	t.Parallel()

	keys := ParseKeys(" a, b ,,a;c\nd ")
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
	assert.Empty(t, ParseKeys(""))
}

func TestPool_ConcurrentRotation(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, "k0", "k1", "k2", "k3")

	var wg sync.WaitGroup

	for range 40 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			index, _ := pool.Rotate()
			pool.MarkFailed(index)
			pool.RecordUse(index)
			pool.Available()
		}()
	}

	wg.Wait()

	index, _ := pool.Current()
	assert.GreaterOrEqual(t, index, 0)
	assert.Less(t, index, 4)
}
