package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrineai/vitrine/assist/backend"
)

// slowBootstrapper counts backend calls and can delay or fail them.
type slowBootstrapper struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (b *slowBootstrapper) CreateSession(_ context.Context, userID string) (*backend.Bootstrap, error) {
	n := b.calls.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return nil, b.err
	}
	return &backend.Bootstrap{
		Session:  backend.Session{ID: "sess-" + userID + "-" + string(rune('0'+n)), CreatedAt: time.Now()},
		Greeting: "oi",
	}, nil
}

func TestManager_CacheHitSkipsNetwork(t *testing.T) {
	b := &slowBootstrapper{}
	m := NewManager(b, time.Hour)

	first, err := m.Acquire(context.Background(), "u1")
	require.NoError(t, err)

	second, err := m.Acquire(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), b.calls.Load(), "cache hit still called the backend")
}

func TestManager_ConcurrentFirstUseBootstrapsOnce(t *testing.T) {
	b := &slowBootstrapper{delay: 30 * time.Millisecond}
	m := NewManager(b, time.Hour)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(context.Background(), "u1")
			if err == nil {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load(), "concurrent first uses did not collapse")
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestManager_DistinctUsersGetDistinctSessions(t *testing.T) {
	b := &slowBootstrapper{}
	m := NewManager(b, time.Hour)

	s1, err := m.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	s2, err := m.Acquire(context.Background(), "u2")
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestManager_ErrorIsNotCached(t *testing.T) {
	b := &slowBootstrapper{err: errors.New("backend down")}
	m := NewManager(b, time.Hour)

	_, err := m.Acquire(context.Background(), "u1")
	require.Error(t, err)

	// Recovery: next Acquire tries again.
	b.err = nil
	s, err := m.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestManager_TTLExpiryRebootstraps(t *testing.T) {
	b := &slowBootstrapper{}
	m := NewManager(b, 15*time.Millisecond)

	_, err := m.Acquire(context.Background(), "u1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = m.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.calls.Load(), "expired session was not re-bootstrapped")
}

func TestManager_InvalidateForcesRebootstrap(t *testing.T) {
	b := &slowBootstrapper{}
	m := NewManager(b, time.Hour)

	_, _ = m.Acquire(context.Background(), "u1")
	m.Invalidate("u1")
	_, _ = m.Acquire(context.Background(), "u1")

	assert.Equal(t, int32(2), b.calls.Load())
}

func TestManager_OnBootstrapHook(t *testing.T) {
	b := &slowBootstrapper{}
	m := NewManager(b, time.Hour)

	var mu sync.Mutex
	var seen []string
	m.OnBootstrap(func(userID string, bs *backend.Bootstrap) {
		mu.Lock()
		seen = append(seen, userID+":"+bs.Greeting)
		mu.Unlock()
	})

	_, _ = m.Acquire(context.Background(), "u1")
	_, _ = m.Acquire(context.Background(), "u1") // cache hit: no second callback

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"u1:oi"}, seen)
}
