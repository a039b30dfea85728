package convo

import (
	"fmt"
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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory() (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(0, 0, 0, WithClock(clock.Now)), clock
}

func TestRecordAndRecent(t *testing.T) {
	m, clock := newTestMemory()
	m.Record("u1", RoleUser, "hello")
	clock.Advance(time.Second)
	m.Record("u1", RoleAssistant, "hi there")

	got := m.Recent("u1")
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, RoleAssistant, got[1].Role)
	assert.Empty(t, m.Recent("nobody"))
}

func TestRecent_BoundedAndLatest(t *testing.T) {
	m, clock := newTestMemory()
	for i := 0; i < 12; i++ {
		m.Record("u1", RoleUser, fmt.Sprintf("msg-%d", i))
		clock.Advance(time.Second)
	}

	m.mu.Lock()
	stored := len(m.users["u1"])
	m.mu.Unlock()
	assert.Equal(t, DefaultLimit, stored)

	got := m.Recent("u1")
	require.Len(t, got, DefaultContextSize)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("msg-%d", 7+i), e.Text)
	}
}

func TestRecent_ExpiresAfterTTL(t *testing.T) {
	m, clock := newTestMemory()
	m.Record("u1", RoleUser, "old")
	clock.Advance(DefaultTTL + time.Second)

	assert.Empty(t, m.Recent("u1"))
	assert.Equal(t, 0, m.Len(), "backing entry should be removed")
}

func TestRecent_PartialExpiry(t *testing.T) {
	m, clock := newTestMemory()
	m.Record("u1", RoleUser, "old")
	clock.Advance(200 * time.Second)
	m.Record("u1", RoleUser, "new")
	clock.Advance(150 * time.Second)

	got := m.Recent("u1")
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Text)
}

func TestSweep(t *testing.T) {
	m, clock := newTestMemory()
	m.Record("stale", RoleUser, "a")
	clock.Advance(DefaultTTL)
	m.Record("fresh", RoleUser, "b")
	clock.Advance(time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.Recent("fresh"), 1)
}

func TestForget(t *testing.T) {
	m, _ := newTestMemory()
	m.Record("u1", RoleUser, "a")
	m.Forget("u1")
	assert.Equal(t, 0, m.Len())
}

func TestFreshMemoryIsEmpty(t *testing.T) {
	m := New(DefaultLimit, DefaultTTL, DefaultContextSize)
	assert.Equal(t, 0, m.Len())
}

func TestConcurrentRecord(t *testing.T) {
	m := New(DefaultLimit, DefaultTTL, DefaultContextSize)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			for j := 0; j < 10; j++ {
				m.Record(user, RoleUser, "x")
				_ = m.Recent(user)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, m.Len())
}
