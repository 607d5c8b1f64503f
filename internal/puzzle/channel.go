// Package puzzle implements C5 (puzzle channel) and C6 (puzzle pool):
// the per-puzzle broker that fans cell edits out to every subscribed
// client while keeping an authoritative Crossword durable, and the
// process-wide registry of those brokers.
package puzzle

import (
	"context"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"git.sr.ht/~kvothe/crosscollab/internal/crossword"
	"git.sr.ht/~kvothe/crosscollab/internal/wsproto"
)

// Message is one unit of bus traffic: an opcode plus its raw payload.
// Text payloads carry a JSON-encoded crossword.Cell; Ping/Pong/Binary
// carry whatever bytes the producer supplied.
type Message struct {
	Opcode  wsproto.Opcode
	Payload []byte
}

// ClientSub is a subscriber handle: an outbound sink plus the
// identity used to remove it later (spec.md §3). Identity is a uuid
// rather than pointer equality — the arena/uuid alternative spec.md
// §9's design notes call out.
type ClientSub struct {
	id   uuid.UUID
	sink chan Message

	deadOnce sync.Once
	dead     chan struct{}
}

// Sink returns the channel a writer task drains. It is never closed;
// when the broker gives up on a slow consumer it closes Dead instead.
func (c *ClientSub) Sink() <-chan Message { return c.sink }

// Dead fires when the broker has marked this subscriber unreachable
// (its outbound buffer was full). The writer task selects on this
// alongside its own terminator.
func (c *ClientSub) Dead() <-chan struct{} { return c.dead }

func newClientSub() *ClientSub {
	return &ClientSub{
		id:   uuid.New(),
		sink: make(chan Message, 32),
		dead: make(chan struct{}),
	}
}

func (c *ClientSub) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

// Channel is the per-puzzle broker of spec.md §4.5: an inbound bus, a
// subscriber set, an authoritative Crossword, and a terminator.
type Channel struct {
	id   int64
	log  *slog.Logger
	pool *Pool

	bus       chan Message
	terminate chan struct{}
	termOnce  sync.Once

	subMu sync.Mutex
	subs  map[uuid.UUID]*ClientSub

	cw *crossword.Crossword
}

func newChannel(id int64, cw *crossword.Crossword, pool *Pool, log *slog.Logger) *Channel {
	return &Channel{
		id:        id,
		log:       log.With("puzzle_id", id),
		pool:      pool,
		bus:       make(chan Message, 256),
		terminate: make(chan struct{}),
		subs:      make(map[uuid.UUID]*ClientSub),
		cw:        cw,
	}
}

// Attach creates a subscriber with its own outbound sink, adds it to
// the client set, and returns the handle used to remove it later.
func (ch *Channel) Attach() *ClientSub {
	sub := newClientSub()
	ch.subMu.Lock()
	ch.subs[sub.id] = sub
	ch.subMu.Unlock()
	return sub
}

// Detach removes sub if present; if the set becomes empty, signals
// the terminator so the broker loop tears the channel down.
func (ch *Channel) Detach(sub *ClientSub) {
	ch.subMu.Lock()
	_, existed := ch.subs[sub.id]
	delete(ch.subs, sub.id)
	empty := len(ch.subs) == 0
	ch.subMu.Unlock()

	if existed && empty {
		ch.fireTerminate()
	}
}

func (ch *Channel) fireTerminate() {
	ch.termOnce.Do(func() { close(ch.terminate) })
}

// Publish enqueues message on the inbound bus for the broker loop.
func (ch *Channel) Publish(msg Message) {
	select {
	case ch.bus <- msg:
	default:
		// The bus is a generous buffer (256); a full bus means the
		// broker loop is wedged, which should not happen under the
		// panic-recovery discipline of the worker pool. Log and drop
		// rather than block the caller indefinitely.
		ch.log.Warn("bus full, dropping message", "opcode", msg.Opcode)
	}
}

// Snapshot returns a serialisable, independent copy of the
// authoritative grid, for the HTTP /data handler.
func (ch *Channel) Snapshot() *crossword.Crossword {
	return ch.cw.Clone()
}

// Run is the broker loop of spec.md §4.5, submitted once per channel
// to the worker pool. A select over the bus and the terminator is the
// Go-idiomatic realisation of "poll a non-blocking terminator
// alongside draining a queue" — no busy-waiting, same observable
// behaviour.
func (ch *Channel) Run() {
	for {
		select {
		case msg := <-ch.bus:
			ch.process(msg)
		case <-ch.terminate:
			ch.teardown()
			return
		}
	}
}

func (ch *Channel) process(msg Message) {
	switch msg.Opcode {
	case wsproto.OpText:
		var cell crossword.Cell
		if err := json.Unmarshal(msg.Payload, &cell); err != nil {
			ch.log.Info("dropping malformed cell edit", "error", err)
			return
		}
		ch.cw.UpdateCell(cell.X, cell.Y, cell.C)
		ch.broadcast(msg)
	case wsproto.OpPing, wsproto.OpPong, wsproto.OpBinary:
		ch.broadcast(msg)
	case wsproto.OpContinuation:
		// Discarded: fragmentation is out of scope (spec.md §9).
	default:
		// Reserved opcodes, and OpClose: never published here. A
		// received Close is answered and torn down on the sender's
		// own connection by readerTask (connection.go), which never
		// calls Publish for it — the broker's bus never sees it.
	}
}

func (ch *Channel) broadcast(msg Message) {
	ch.subMu.Lock()
	defer ch.subMu.Unlock()
	for _, sub := range ch.subs {
		select {
		case sub.sink <- msg:
		default:
			// A full outbound buffer means this subscriber can't keep
			// up; mark it dead rather than block every other
			// subscriber behind it. Its own writer task will observe
			// Dead() and detach.
			sub.markDead()
			ch.log.Warn("marking slow subscriber dead", "sub", sub.id)
		}
	}
}

// teardown runs the two-phase shutdown of SPEC_FULL.md §4.6.E: mark
// the pool entry draining first (so a racing connect_client never
// attaches to a channel that is already on its way out), then persist
// the authoritative grid, then remove the pool entry.
func (ch *Channel) teardown() {
	ch.pool.markDraining(ch.id)

	if err := ch.pool.store.PersistCrossword(context.Background(), ch.id, ch.cw); err != nil {
		ch.log.Error("persisting crossword on teardown", "error", err)
	}

	ch.pool.removeChannel(ch.id, ch)
}
