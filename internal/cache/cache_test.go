package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)

	_, ok := c.Get("hello")
	require.False(t, ok)

	c.Put("hello", "hi there")
	got, ok := c.Get("hello")
	require.True(t, ok)
	require.Equal(t, "hi there", got)
}

func TestEntriesExpire(t *testing.T) {
	c := NewResponseCache(50*time.Millisecond, 10)

	c.Put("hello", "hi there")
	_, ok := c.Get("hello")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get("hello")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCapacityEvictsSoonestExpiring(t *testing.T) {
	c := NewResponseCache(time.Minute, 3)

	for i := 0; i < 3; i++ {
		c.Put("m"+strconv.Itoa(i), "r")
		time.Sleep(2 * time.Millisecond)
	}
	c.Put("m3", "r")

	require.Equal(t, 3, c.Len())
	_, ok := c.Get("m0")
	require.False(t, ok, "oldest entry should be evicted")
	for _, key := range []string{"m1", "m2", "m3"} {
		_, ok := c.Get(key)
		require.True(t, ok, key)
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := NewResponseCache(time.Minute, 2)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("a", "3")

	require.Equal(t, 2, c.Len())
	got, _ := c.Get("a")
	require.Equal(t, "3", got)
	_, ok := c.Get("b")
	require.True(t, ok)
}

func TestExpiredEntriesMakeRoomFirst(t *testing.T) {
	c := NewResponseCache(30*time.Millisecond, 2)

	c.Put("a", "1")
	c.Put("b", "2")
	time.Sleep(50 * time.Millisecond)
	c.Put("c", "3")

	require.Equal(t, 1, c.Len())
}

func TestConcurrentPutsRespectCapacity(t *testing.T) {
	c := NewResponseCache(time.Minute, 20)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put("m"+strconv.Itoa(i), "r")
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 20)
}

func TestClear(t *testing.T) {
	c := NewResponseCache(time.Minute, 2)
	c.Put("a", "1")
	c.Clear()
	require.Zero(t, c.Len())
}
