package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// TestLeakyBucketCapacityThenReject verifies that C zero-interval admits
// succeed, the next is rejected, and one more fits after C/R seconds.
func TestLeakyBucketCapacityThenReject(t *testing.T) {
	cases := []struct {
		capacity int
		leakRate float64
	}{
		{5, 1},
		{3, 0.5},
		{10, 4},
	}

	for _, tc := range cases {
		clock := newFakeClock()
		b := newLeakyBucketWithClock(tc.capacity, tc.leakRate, clock.Now)

		for i := 0; i < tc.capacity; i++ {
			ok, _ := b.Admit(1)
			assert.Truef(t, ok, "admit %d of %d should succeed", i+1, tc.capacity)
		}

		ok, wait := b.Admit(1)
		assert.False(t, ok)
		assert.Greater(t, wait, time.Duration(0))

		clock.Advance(time.Duration(float64(tc.capacity) / tc.leakRate * float64(time.Second)))
		ok, _ = b.Admit(1)
		assert.True(t, ok, "admit after draining should succeed")
	}
}

func TestLeakyBucketWaitEstimate(t *testing.T) {
	clock := newFakeClock()
	b := newLeakyBucketWithClock(5, 1, clock.Now)

	for i := 0; i < 5; i++ {
		b.Admit(1)
	}

	// level 5, cost 1, capacity 5 -> ceil(1/1) = 1s
	ok, wait := b.Admit(1)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// cost 3 -> ceil((5+3-5)/1) = 3s
	ok, wait = b.Admit(3)
	assert.False(t, ok)
	assert.Equal(t, 3*time.Second, wait)

	slow := newLeakyBucketWithClock(2, 0.25, clock.Now)
	slow.Admit(1)
	slow.Admit(1)
	// ceil(1/0.25) = 4s
	_, wait = slow.Admit(1)
	assert.Equal(t, 4*time.Second, wait)
}

func TestLeakyBucketRejectDoesNotMutateLevel(t *testing.T) {
	clock := newFakeClock()
	b := newLeakyBucketWithClock(2, 1, clock.Now)

	b.Admit(2)
	before := b.Level()
	ok, _ := b.Admit(1)
	assert.False(t, ok)
	assert.InDelta(t, before, b.Level(), 1e-9)
}

// TestLeakyBucketLevelBounds drives an irregular admit sequence and checks
// that the level never leaves [0, capacity].
func TestLeakyBucketLevelBounds(t *testing.T) {
	clock := newFakeClock()
	b := newLeakyBucketWithClock(4, 2, clock.Now)

	steps := []time.Duration{0, 0, 100 * time.Millisecond, 0, 0, 0, 3 * time.Second, 0, 10 * time.Millisecond, 0, 0, 0, 0}
	for _, step := range steps {
		clock.Advance(step)
		b.Admit(1)
		level := b.Level()
		assert.GreaterOrEqual(t, level, 0.0)
		assert.LessOrEqual(t, level, float64(b.Capacity()))
	}

	clock.Advance(time.Hour)
	assert.InDelta(t, 0.0, b.Level(), 1e-9)
}

func TestLeakyBucketPartialDrain(t *testing.T) {
	clock := newFakeClock()
	b := newLeakyBucketWithClock(5, 1, clock.Now)

	for i := 0; i < 5; i++ {
		b.Admit(1)
	}
	clock.Advance(500 * time.Millisecond)
	ok, _ := b.Admit(1)
	assert.False(t, ok, "half a unit drained is not enough room")

	clock.Advance(500 * time.Millisecond)
	ok, _ = b.Admit(1)
	assert.True(t, ok)
}

func TestNewLeakyBucketSanitizesInput(t *testing.T) {
	b := NewLeakyBucket(0, -1)
	assert.Equal(t, 1, b.Capacity())

	ok, _ := b.Admit(0)
	assert.True(t, ok)
}
