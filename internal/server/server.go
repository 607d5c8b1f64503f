// Package server is the glue of spec.md §2: a listening socket whose
// accept loop feeds accepted connections into the worker pool (C1) as
// jobs, each of which parses one HTTP request (C2), routes it (C4),
// and either replies-and-closes or hands the connection to the puzzle
// pool (C6) for a WebSocket upgrade.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"git.sr.ht/~kvothe/crosscollab/internal/auth"
	"git.sr.ht/~kvothe/crosscollab/internal/crossword"
	"git.sr.ht/~kvothe/crosscollab/internal/httpx"
	"git.sr.ht/~kvothe/crosscollab/internal/puzzle"
	"git.sr.ht/~kvothe/crosscollab/internal/router"
	"git.sr.ht/~kvothe/crosscollab/internal/store"
	"git.sr.ht/~kvothe/crosscollab/internal/workerpool"
	"git.sr.ht/~kvothe/crosscollab/internal/wsproto"
)

// Server owns the listener and every dependency a handler needs.
type Server struct {
	log     *slog.Logger
	wp      *workerpool.Pool
	pool    *puzzle.Pool
	store   *store.Store
	gate    *auth.Gate
	limiter *rate.Limiter
	rt      *router.Router
}

// New wires the router (spec.md §6 + SPEC_FULL.md §6.E) against the
// given collaborators.
func New(wp *workerpool.Pool, pool *puzzle.Pool, st *store.Store, gate *auth.Gate, acceptRate float64, acceptBurst int, log *slog.Logger) *Server {
	s := &Server{
		log:     log.With("component", "server"),
		wp:      wp,
		pool:    pool,
		store:   st,
		gate:    gate,
		limiter: rate.NewLimiter(rate.Limit(acceptRate), acceptBurst),
		rt:      router.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Specific patterns registered before their generalisations per
	// spec.md §4.4: /puzzle/{id}/live and /puzzle/{id}/data must be
	// tried before the bare /puzzle/{id} page route, and /puzzle/add
	// and /puzzle/list (non-numeric segments) never collide with the
	// numeric {id} patterns so their relative order doesn't matter.
	s.rt.Handle(httpx.MethodGet, `/healthz`, s.handleHealthz)
	s.rt.Handle(httpx.MethodGet, `/puzzle/(\d+)/live`, s.handleLive)
	s.rt.Handle(httpx.MethodGet, `/puzzle/(\d+)/data`, s.handleData)
	s.rt.Handle(httpx.MethodPost, `/puzzle/add`, s.handleAdd)
	s.rt.Handle(httpx.MethodGet, `/puzzle/list`, s.handleList)
	s.rt.Handle(httpx.MethodGet, `/puzzle/(\d+)`, s.handlePage)
}

// Serve runs the accept loop until ctx is cancelled or the listener
// fails. Each accepted connection is submitted to the worker pool as
// a job (spec.md §2); the accept loop itself never blocks on
// connection work.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.limiter.Wait(ctx); err != nil {
			_ = conn.Close()
			continue
		}

		result := s.wp.Submit("accept", func() { s.handleConn(conn) })
		if result != workerpool.Accepted {
			s.log.Warn("dropping connection, pool not accepting jobs", "result", result)
			_ = conn.Close()
		}
	}
}

// handleConn parses one HTTP request and routes it. A parse failure
// gets a best-effort 400 and the connection is closed; a routing or
// handler failure gets 404/500 respectively (spec.md §7). A handler
// that upgraded the connection to WebSocket (Result.Held) leaves the
// connection open for the reader/writer/heartbeat tasks it already
// submitted.
func (s *Server) handleConn(conn net.Conn) {
	br := bufio.NewReader(conn)

	req, err := httpx.Parse(br)
	if err != nil {
		s.log.Debug("parse error", "error", err, "remote", conn.RemoteAddr())
		_ = httpx.WriteStatus(conn, 400)
		_ = conn.Close()
		return
	}

	res, err := s.rt.Route(req, conn, br)
	if err != nil {
		if errors.Is(err, router.ErrNoMatch) {
			_ = httpx.WriteStatus(conn, 404)
		} else {
			s.log.Error("handler error", "error", err, "target", req.Target)
			_ = httpx.WriteStatus(conn, 500)
		}
		_ = conn.Close()
		return
	}

	if !res.Held {
		_ = conn.Close()
	}
}

func (s *Server) handleHealthz(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	body, err := json.Marshal(s.wp.Stats())
	if err != nil {
		return router.Result{}, err
	}
	return router.Result{}, httpx.WriteJSON(conn, body)
}

func (s *Server) handleData(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return router.Result{}, httpx.WriteStatus(conn, 400)
	}

	ctx, cancel := context.WithTimeout(context.Background(), auth.VerifyTimeout)
	defer cancel()
	data, err := s.pool.GetGridData(ctx, id)
	if err != nil {
		if errors.Is(err, puzzle.ErrNotFound) {
			return router.Result{}, httpx.WriteStatus(conn, 404)
		}
		return router.Result{}, err
	}
	return router.Result{}, httpx.WriteJSON(conn, data)
}

func (s *Server) handlePage(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	// Page rendering is an external collaborator (spec.md §1: template
	// engine). The core's contribution here is only the route
	// existing and the 404 distinguishing a missing puzzle from a
	// rendering concern that belongs to the UI layer.
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return router.Result{}, httpx.WriteStatus(conn, 400)
	}
	if _, err := s.store.Metadata(context.Background(), id); err != nil {
		if errors.Is(err, store.ErrNoRow) {
			return router.Result{}, httpx.WriteStatus(conn, 404)
		}
		return router.Result{}, err
	}
	return router.Result{}, httpx.WriteStatus(conn, 200)
}

func (s *Server) handleList(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	rows, err := s.store.List(context.Background())
	if err != nil {
		return router.Result{}, err
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return router.Result{}, err
	}
	return router.Result{}, httpx.WriteJSON(conn, body)
}

type addRequest struct {
	Name      string              `json:"name"`
	Crossword *crossword.Crossword `json:"crossword"`
}

func (s *Server) handleAdd(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	if _, ok := s.gate.Verify(req); !ok {
		return router.Result{}, httpx.WriteStatus(conn, 401)
	}

	var body addRequest
	if err := json.Unmarshal(req.Body, &body); err != nil || body.Crossword == nil {
		return router.Result{}, httpx.WriteStatus(conn, 400)
	}

	meta, err := s.store.CreatePuzzle(context.Background(), body.Name, body.Crossword)
	if err != nil {
		return router.Result{}, httpx.WriteStatus(conn, 500)
	}

	out, err := json.Marshal(meta)
	if err != nil {
		return router.Result{}, err
	}
	return router.Result{}, httpx.WriteJSON(conn, out)
}

// handleLive performs the WebSocket handshake and, on success, hands
// the connection to the puzzle pool's connect_client (spec.md §4.6),
// then returns Result{Held: true} so the worker doesn't close the
// socket out from under the reader/writer/heartbeat tasks it just
// submitted.
func (s *Server) handleLive(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (router.Result, error) {
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return router.Result{}, httpx.WriteStatus(conn, 400)
	}

	if err := wsproto.Handshake(conn, req); err != nil {
		return router.Result{}, httpx.WriteStatus(conn, 400)
	}

	ctx, cancel := context.WithTimeout(context.Background(), auth.VerifyTimeout)
	defer cancel()
	if err := s.pool.ConnectClient(ctx, id, conn, br); err != nil {
		if errors.Is(err, puzzle.ErrNotFound) {
			_, _ = conn.Write(wsproto.EncodeCloseNormal())
			return router.Result{}, nil
		}
		return router.Result{}, err
	}

	return router.Result{Held: true}, nil
}

