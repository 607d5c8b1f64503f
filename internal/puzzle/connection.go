package puzzle

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"git.sr.ht/~kvothe/crosscollab/internal/store"
	"git.sr.ht/~kvothe/crosscollab/internal/wsproto"
)

// readTimeout is the short read deadline spec.md §5 prescribes so the
// reader task can poll its terminator cooperatively.
const readTimeout = 10 * time.Millisecond

// pollInterval bounds each idle wait of the writer task's select loop.
const pollInterval = 10 * time.Millisecond

// HeartbeatInterval is how often the heartbeat task publishes a Ping.
// Overridable for tests that don't want to wait 5 real seconds.
var HeartbeatInterval = 5 * time.Second

// connWriter serialises every outbound TCP write on one connection
// behind a single lock, per spec.md §5 ("each outbound TCP write
// acquires an exclusive lock on that connection's write half").
type connWriter struct {
	conn net.Conn
	mu   sync.Mutex
}

func (w *connWriter) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(frame)
	return err
}

// terminator is a one-shot per-connection signal (spec.md's
// Glossary): reader, writer, and heartbeat all exit once it fires.
type terminator struct {
	ch   chan struct{}
	once sync.Once
}

func newTerminator() *terminator { return &terminator{ch: make(chan struct{})} }
func (t *terminator) fire()      { t.once.Do(func() { close(t.ch) }) }
func (t *terminator) fired() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// ConnectClient implements connect_client (spec.md §4.6): find-or-
// create the channel for id, attach a subscriber, and submit the
// reader/writer/heartbeat tasks to the worker pool. If storage has no
// such puzzle, returns ErrNotFound and the caller writes a Close
// frame.
func (p *Pool) ConnectClient(ctx context.Context, id int64, conn net.Conn, br *bufio.Reader) error {
	ch, err := p.getOrCreate(ctx, id)
	if err != nil {
		return err
	}

	sub := ch.Attach()
	term := newTerminator()
	cw := &connWriter{conn: conn}

	label := strconv.FormatInt(id, 10)
	p.wp.Submit("ws-reader-"+label, func() { p.readerTask(ch, sub, cw, br, term) })
	p.wp.Submit("ws-writer-"+label, func() { p.writerTask(ch, sub, cw, term) })
	p.wp.Submit("ws-heartbeat-"+label, func() { p.heartbeatTask(ch, term) })
	return nil
}

// GetGridData serves spec.md §4.6's get_grid_data: the live in-memory
// snapshot if a channel is running, otherwise a direct storage load.
// Returns ErrNotFound if the puzzle doesn't exist at all.
func (p *Pool) GetGridData(ctx context.Context, id int64) ([]byte, error) {
	if cw, ok := p.Snapshot(id); ok {
		return json.Marshal(cw)
	}
	cw, err := p.store.LoadCrossword(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.Marshal(cw)
}

// readerTask owns the read half: decode one frame at a time against a
// short deadline so it can poll term cooperatively (spec.md §4.6,
// §5). Complete frames are dispatched per the Open-state transition
// table (internal/wsproto.Next); Ping gets a direct Pong reply on
// this socket only (Testable Scenario S4); Close gets a direct Close
// reply, after which this socket is closed and this connection's tasks
// end (Testable Scenario S5) — it is not broadcast to other
// subscribers.
func (p *Pool) readerTask(ch *Channel, sub *ClientSub, cw *connWriter, br *bufio.Reader, term *terminator) {
	defer term.fire()

	for {
		if term.fired() {
			return
		}

		_ = cw.conn.SetReadDeadline(time.Now().Add(readTimeout))

		frame, err := wsproto.DecodeFrame(br)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}

		action, _ := wsproto.Next(frame.Opcode)
		switch action {
		case wsproto.ActionForward:
			ch.Publish(Message{Opcode: frame.Opcode, Payload: frame.Payload})
		case wsproto.ActionReplyPong:
			if err := cw.write(wsproto.EncodeFrame(wsproto.OpPong, frame.Payload)); err != nil {
				return
			}
		case wsproto.ActionClose:
			_ = cw.write(wsproto.EncodeCloseNormal())
			_ = cw.conn.Close()
			return
		case wsproto.ActionSwallow:
			// Incoming Pong, or an ignored Continuation/Reserved
			// opcode: nothing to do.
		}
	}
}

// writerTask owns the write half and sub's outbound sink. It polls
// its terminator and sub.Dead() between drains; an IO error is
// classified per spec.md §4.6 (BrokenPipe/ConnectionReset is a
// graceful client departure, anything else is logged).
func (p *Pool) writerTask(ch *Channel, sub *ClientSub, cw *connWriter, term *terminator) {
	defer func() {
		term.fire()
		ch.Detach(sub)
	}()

	for {
		select {
		case <-term.ch:
			return
		case <-sub.Dead():
			return
		case msg, ok := <-sub.Sink():
			if !ok {
				return
			}
			if err := cw.write(wsproto.EncodeFrame(msg.Opcode, msg.Payload)); err != nil {
				classifyWriteError(ch, err)
				return
			}
		case <-time.After(pollInterval):
		}
	}
}

func classifyWriteError(ch *Channel, err error) {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return // client gone, nothing to log
	}
	ch.log.Warn("writer IO error", "error", err)
}

// heartbeatTask publishes a Ping onto the bus every HeartbeatInterval,
// which the broker then broadcasts to every subscriber including the
// one that triggered it (spec.md §4.6): this keeps intermediaries
// from idling the socket and exercises the liveness path end to end.
func (p *Pool) heartbeatTask(ch *Channel, term *terminator) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-term.ch:
			return
		case <-ticker.C:
			ch.Publish(Message{Opcode: wsproto.OpPing, Payload: nil})
		}
	}
}

