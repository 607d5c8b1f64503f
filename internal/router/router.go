// Package router implements C4: an ordered list of pattern→handler
// bindings matched against a request target. spec.md §4.4 requires
// the matching discipline to be regular-expression based rather than
// net/http's ServeMux (which, pre-1.22 patterns aside, the teacher
// itself never needed since it only ever dispatched three fixed
// paths) — this repo's targets include `/puzzle/{id}/live`-shaped
// patterns the teacher's own routing never had to express.
package router

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"strings"

	"git.sr.ht/~kvothe/crosscollab/internal/httpx"
)

// Result is what a Handler hands back to the router alongside its
// error: whether the connection must stay open (so the worker doesn't
// close it out from under a successful WebSocket upgrade).
type Result struct {
	// Held is true when the handler wants the connection kept open
	// past this call returning (an upgraded WebSocket).
	Held bool
}

// HandlerError is a handler-reported failure, returned by Route; the
// caller of Route replies 500 on the still-open connection and then
// closes it.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string { return fmt.Sprintf("router: handler error: %v", e.Err) }
func (e *HandlerError) Unwrap() error { return e.Err }

// Handler processes one matched request against conn, the still-open
// connection the request was read from. br is the buffered reader
// the request was parsed from; a WebSocket-upgrading handler reuses
// it rather than dropping any bytes already buffered past the
// headers.
type Handler func(req *httpx.Request, conn net.Conn, br *bufio.Reader, match []string) (Result, error)

// binding pairs a compiled, anchored pattern with its handler.
type binding struct {
	method  httpx.Method
	pattern *regexp.Regexp
	handler Handler
}

// Router holds an ordered list of pattern→handler bindings. Iteration
// order is caller-defined; the router does not sort, so more specific
// patterns must be registered before their generalisations (spec.md
// §4.4).
type Router struct {
	bindings []binding
}

// New builds an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers pattern (an unanchored regular expression; Handle
// anchors it at both ends) for method, appended after every binding
// already registered.
func (rt *Router) Handle(method httpx.Method, pattern string, h Handler) {
	re := regexp.MustCompile("^" + pattern + "$")
	rt.bindings = append(rt.bindings, binding{method: method, pattern: re, handler: h})
}

// ErrNoMatch is returned by Route when no binding matches; the caller
// replies 404 per spec.md §4.4/§7.
var ErrNoMatch = fmt.Errorf("router: no matching route")

// Route finds the first binding whose method and pattern match req,
// runs its handler, and returns the result. A handler error is
// wrapped as *HandlerError so the caller can reply 500 without losing
// the underlying cause.
func (rt *Router) Route(req *httpx.Request, conn net.Conn, br *bufio.Reader) (Result, error) {
	path, _, _ := strings.Cut(req.Target, "?")
	for _, b := range rt.bindings {
		if b.method != req.Method {
			continue
		}
		m := b.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		res, err := b.handler(req, conn, br, m)
		if err != nil {
			return Result{}, &HandlerError{Err: err}
		}
		return res, nil
	}
	return Result{}, ErrNoMatch
}
