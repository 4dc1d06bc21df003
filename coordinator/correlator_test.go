package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/dair/core"
)

func job(place string, session core.SessionID, at time.Time) core.ValidationJob {
	return core.ValidationJob{PlaceID: place, Session: session, CreatedAt: at}
}

func TestCorrelator_ResolveOnce(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	now := time.Now()

	for i := range 10 {
		id := fmt.Sprintf("c%d", i)
		require.NoError(t, c.Register(id, job(fmt.Sprintf("p%d", i), "s", now)))
	}
	for i := range 10 {
		id := fmt.Sprintf("c%d", i)
		got, err := c.Resolve(id)
		require.NoError(t, err)
		assert.Equal(t, id, got.CorrelationID)
		assert.Equal(t, fmt.Sprintf("p%d", i), got.PlaceID)

		_, err = c.Resolve(id)
		require.ErrorIs(t, err, core.ErrNotFound)
	}
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_ConcurrentResolveHasOneWinner(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	require.NoError(t, c.Register("c1", job("p1", "s", time.Now())))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve("c1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCorrelator_RegisterConflicts(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	now := time.Now()

	require.NoError(t, c.Register("c1", job("p1", "s", now)))
	require.ErrorIs(t, c.Register("c1", job("p2", "s", now)), core.ErrDuplicateCorrelation)
	require.ErrorIs(t, c.Register("c2", job("p1", "s", now)), core.ErrPlaceBusy)
	require.ErrorIs(t, c.Register("", job("p3", "s", now)), core.ErrMalformedMessage)

	held, ok := c.Outstanding("p1")
	require.True(t, ok)
	assert.Equal(t, "c1", held.CorrelationID)

	_, err := c.Resolve("c1")
	require.NoError(t, err)
	_, ok = c.Outstanding("p1")
	assert.False(t, ok)
	require.NoError(t, c.Register("c2", job("p1", "s", now)))
}

func TestCorrelator_Expire(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, c.Register("old", job("p1", "s", base)))
	require.NoError(t, c.Register("older", job("p2", "s", base.Add(-time.Minute))))
	require.NoError(t, c.Register("fresh", job("p3", "s", base.Add(time.Hour))))

	var got []string
	for j := range c.Expire(base.Add(time.Second)) {
		got = append(got, j.CorrelationID)
	}
	assert.Equal(t, []string{"older", "old"}, got)
	assert.Equal(t, 1, c.Len())

	// nothing left to yield, ranging again is a no-op
	for range c.Expire(base.Add(time.Second)) {
		t.Fatal("unexpected job")
	}

	_, err := c.Resolve("old")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, ok := c.Lookup("fresh")
	assert.True(t, ok)
}

func TestCorrelator_ExpireStopsEarly(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	base := time.Unix(1_700_000_000, 0)
	for i := range 3 {
		require.NoError(t, c.Register(fmt.Sprintf("c%d", i), job(fmt.Sprintf("p%d", i), "s", base.Add(time.Duration(i)*time.Second))))
	}

	for j := range c.Expire(base.Add(time.Hour)) {
		assert.Equal(t, "c0", j.CorrelationID)
		break
	}
	assert.Equal(t, 2, c.Len())

	n := 0
	for range c.Expire(base.Add(time.Hour)) {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_CancelSession(t *testing.T) {
	t.Parallel()
	c := NewCorrelator()
	now := time.Now()
	require.NoError(t, c.Register("a1", job("p1", "A", now)))
	require.NoError(t, c.Register("a2", job("p2", "A", now)))
	require.NoError(t, c.Register("b1", job("p3", "B", now)))

	assert.Equal(t, 2, c.Count("A"))
	cancelled := c.CancelSession("A")
	assert.Len(t, cancelled, 2)
	assert.Equal(t, 0, c.Count("A"))
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.CancelSession("A"))

	_, ok := c.Outstanding("p1")
	assert.False(t, ok)
	_, ok = c.Outstanding("p3")
	assert.True(t, ok)
}
