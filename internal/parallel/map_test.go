package parallel_test

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pemexe/pem/internal/parallel"
)

func TestMapCollect(t *testing.T) {
	t.Parallel()

	input := []int{1, 2, 3, 4, 5, 6, 7, 8}
	m := parallel.NewMap(context.Background(), 3, func(_ context.Context, e int) (int, error) {
		return e * 10, nil
	})

	out := parallel.Collect(m, input)
	sort.Ints(out)
	require.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80}, out)
}

func TestMapLimit(t *testing.T) {
	t.Parallel()

	const limit = 2
	var inFlight, peak atomic.Int64

	m := parallel.NewMap(context.Background(), limit, func(_ context.Context, e int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return e, nil
	})

	out := parallel.Collect(m, []int{1, 2, 3, 4, 5, 6})
	require.Len(t, out, 6)
	require.LessOrEqual(t, peak.Load(), int64(limit))
}

func TestMapYieldsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := parallel.NewMap(context.Background(), 2, func(_ context.Context, e int) (int, error) {
		if e%2 == 0 {
			return 0, boom
		}
		return e, nil
	})

	seq := func(yield func(int, error) bool) {
		for _, e := range []int{1, 2, 3, 4} {
			if !yield(e, nil) {
				return
			}
		}
	}

	var oks, fails int
	for _, err := range m.Iter(seq) {
		if err != nil {
			require.ErrorIs(t, err, boom)
			fails++
			continue
		}
		oks++
	}
	require.Equal(t, 2, oks)
	require.Equal(t, 2, fails)
}

func TestMapCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	m := parallel.NewMap(ctx, 2, func(ctx context.Context, e int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return e, nil
		}
	})

	seq := func(yield func(int, error) bool) {
		for e := range 100 {
			if !yield(e, nil) {
				return
			}
		}
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	var got int
	for range m.Iter(seq) {
		got++
	}
	require.Less(t, got, 100)
}
