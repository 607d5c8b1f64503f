package puzzle

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"git.sr.ht/~kvothe/crosscollab/internal/crossword"
	"git.sr.ht/~kvothe/crosscollab/internal/store"
	"git.sr.ht/~kvothe/crosscollab/internal/workerpool"
)

// Persister is the storage contract the pool and its channels depend
// on: loading a puzzle's grid to seed a new channel, and persisting it
// back on that channel's teardown edge (spec.md §3, §4.5). *store.Store
// satisfies this; tests can supply a lighter fake.
type Persister interface {
	LoadCrossword(ctx context.Context, id int64) (*crossword.Crossword, error)
	PersistCrossword(ctx context.Context, id int64, cw *crossword.Crossword) error
}

// ErrNotFound means storage has no such puzzle (spec.md §4.6); the
// caller writes a Close frame (for a live upgrade) or a 404 (for
// /data).
var ErrNotFound = errors.New("puzzle: no such puzzle")

type poolEntry struct {
	channel  *Channel
	draining bool
}

// Pool is C6: the process-global, exclusively-accessed map from
// puzzle id to puzzle channel.
type Pool struct {
	log   *slog.Logger
	store Persister
	wp    *workerpool.Pool

	mu      sync.Mutex
	entries map[int64]*poolEntry
	loaders singleflight.Group
}

// NewPool builds an empty, process-global pool.
func NewPool(st Persister, wp *workerpool.Pool, log *slog.Logger) *Pool {
	return &Pool{
		log:     log.With("component", "puzzle-pool"),
		store:   st,
		wp:      wp,
		entries: make(map[int64]*poolEntry),
	}
}

// markDraining flags id's current entry as draining, under the pool
// lock, as the very first step of the owning broker's teardown
// sequence (SPEC_FULL.md §4.6.E).
func (p *Pool) markDraining(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		e.draining = true
	}
}

// removeChannel deletes id's entry, but only if it still points at
// ch — guarding against deleting a fresh channel that a racing
// connect_client already installed while the old one was draining.
func (p *Pool) removeChannel(id int64, ch *Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok && e.channel == ch {
		delete(p.entries, id)
	}
}

// getOrCreate finds-or-creates the channel for id. Lookup and the
// draining check happen under the pool's exclusive lock; the
// potentially slow storage load happens outside it, collapsed across
// concurrent callers by singleflight so exactly one loader runs per
// id (Testable Property #8).
func (p *Pool) getOrCreate(ctx context.Context, id int64) (*Channel, error) {
	if ch, ok := p.liveChannel(id); ok {
		return ch, nil
	}

	key := strconv.FormatInt(id, 10)
	v, err, _ := p.loaders.Do(key, func() (interface{}, error) {
		if ch, ok := p.liveChannel(id); ok {
			return ch, nil
		}

		cw, err := p.store.LoadCrossword(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNoRow) {
				return nil, ErrNotFound
			}
			return nil, err
		}

		ch := newChannel(id, cw, p, p.log)

		p.mu.Lock()
		p.entries[id] = &poolEntry{channel: ch}
		p.mu.Unlock()

		p.wp.Submit("broker-"+key, ch.Run)
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Channel), nil
}

// liveChannel returns the current channel for id if present and not
// draining.
func (p *Pool) liveChannel(id int64) (*Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || e.draining {
		return nil, false
	}
	return e.channel, true
}

// Snapshot returns a channel's in-memory grid if one is live, without
// creating a new one.
func (p *Pool) Snapshot(id int64) (*crossword.Crossword, bool) {
	ch, ok := p.liveChannel(id)
	if !ok {
		return nil, false
	}
	return ch.Snapshot(), true
}
