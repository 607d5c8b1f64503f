package puzzle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"git.sr.ht/~kvothe/crosscollab/internal/crossword"
	"git.sr.ht/~kvothe/crosscollab/internal/store"
	"git.sr.ht/~kvothe/crosscollab/internal/workerpool"
)

// countingPersister counts how many times LoadCrossword actually runs,
// so the test can assert on Testable Property #8 (pool lookup
// exclusivity): concurrent creation requests for the same missing id
// produce exactly one channel instance.
type countingPersister struct {
	loads atomic.Int64
}

func (c *countingPersister) LoadCrossword(context.Context, int64) (*crossword.Crossword, error) {
	c.loads.Add(1)
	return crossword.New(), nil
}

func (c *countingPersister) PersistCrossword(context.Context, int64, *crossword.Crossword) error {
	return nil
}

func TestPoolLookupExclusivity(t *testing.T) {
	persister := &countingPersister{}
	wp := workerpool.New(8, 64, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer wp.Close(0)

	pool := NewPool(persister, wp, slog.New(slog.NewTextHandler(io.Discard, nil)))

	const n = 20
	channels := make([]*Channel, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ch, err := pool.getOrCreate(context.Background(), 42)
			if err != nil {
				t.Errorf("getOrCreate: %v", err)
				return
			}
			channels[i] = ch
		}(i)
	}
	wg.Wait()

	if persister.loads.Load() != 1 {
		t.Fatalf("expected exactly 1 load, got %d", persister.loads.Load())
	}
	first := channels[0]
	for i, ch := range channels {
		if ch != first {
			t.Fatalf("channel %d differs from channel 0; exactly one instance expected", i)
		}
	}
}

func TestGetOrCreateNotFound(t *testing.T) {
	persister := missingPersister{}
	wp := workerpool.New(4, 16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer wp.Close(0)
	pool := NewPool(persister, wp, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := pool.getOrCreate(context.Background(), 7)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type missingPersister struct{}

func (missingPersister) LoadCrossword(context.Context, int64) (*crossword.Crossword, error) {
	return nil, store.ErrNoRow
}

func (missingPersister) PersistCrossword(context.Context, int64, *crossword.Crossword) error {
	return nil
}
