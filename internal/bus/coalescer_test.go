package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushed struct {
	key   string
	parts []string
}

func newTestCoalescer(window time.Duration) (*Coalescer, chan flushed) {
	out := make(chan flushed, 16)
	c := NewCoalescer(CoalescerConfig{
		Window: window,
		Flush:  func(key string, parts []string) { out <- flushed{key, parts} },
		Logger: testEBLogger(),
	})
	return c, out
}

func waitFlush(t *testing.T, ch chan flushed) flushed {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no flush")
		return flushed{}
	}
}

func TestCoalescer_MergesBurst(t *testing.T) {
	c, out := newTestCoalescer(50 * time.Millisecond)

	c.Add("k", "hi")
	c.Add("k", "is pickup included?")
	c.Add("k", "thanks")

	f := waitFlush(t, out)
	assert.Equal(t, "k", f.key)
	assert.Equal(t, []string{"hi", "is pickup included?", "thanks"}, f.parts)
	assert.Equal(t, 0, c.Pending())
}

func TestCoalescer_KeysAreIndependent(t *testing.T) {
	c, out := newTestCoalescer(30 * time.Millisecond)
	c.Add("a", "one")
	c.Add("b", "two")

	got := map[string][]string{}
	for i := 0; i < 2; i++ {
		f := waitFlush(t, out)
		got[f.key] = f.parts
	}
	assert.Equal(t, []string{"one"}, got["a"])
	assert.Equal(t, []string{"two"}, got["b"])
}

func TestCoalescer_WindowRestarts(t *testing.T) {
	c, out := newTestCoalescer(80 * time.Millisecond)
	c.Add("k", "a")
	time.Sleep(40 * time.Millisecond)
	c.Add("k", "b")

	f := waitFlush(t, out)
	assert.Equal(t, []string{"a", "b"}, f.parts)
}

func TestCoalescer_CloseFlushesAndPassesThrough(t *testing.T) {
	c, out := newTestCoalescer(time.Hour)
	c.Add("k", "pending")
	require.Equal(t, 1, c.Pending())

	c.Close()
	assert.Equal(t, []string{"pending"}, waitFlush(t, out).parts)

	c.Add("k", "late")
	assert.Equal(t, []string{"late"}, waitFlush(t, out).parts)
}

func TestCoalescer_ConcurrentAdds(t *testing.T) {
	c, out := newTestCoalescer(50 * time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add("k", "x")
		}()
	}
	wg.Wait()

	total := 0
	deadline := time.After(time.Second)
	for total < 10 {
		select {
		case f := <-out:
			total += len(f.parts)
		case <-deadline:
			t.Fatalf("only %d parts flushed", total)
		}
	}
}
