package router

import (
	"bufio"
	"errors"
	"net"
	"testing"

	"git.sr.ht/~kvothe/crosscollab/internal/httpx"
)

func newReq(method httpx.Method, target string) *httpx.Request {
	return &httpx.Request{Method: method, Target: target, Proto: "HTTP/1.1", Headers: httpx.Header{}}
}

func TestRouteMatchesMoreSpecificPatternFirst(t *testing.T) {
	rt := New()
	var got string
	rt.Handle(httpx.MethodGet, `/puzzle/(\d+)/live`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		got = "live"
		return Result{}, nil
	})
	rt.Handle(httpx.MethodGet, `/puzzle/(\d+)`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		got = "page"
		return Result{}, nil
	})

	if _, err := rt.Route(newReq(httpx.MethodGet, "/puzzle/42/live"), nil, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got != "live" {
		t.Fatalf("matched handler = %q, want \"live\"", got)
	}
}

func TestRouteCapturesSubmatches(t *testing.T) {
	rt := New()
	var captured string
	rt.Handle(httpx.MethodGet, `/puzzle/(\d+)`, func(_ *httpx.Request, _ net.Conn, _ *bufio.Reader, m []string) (Result, error) {
		captured = m[1]
		return Result{}, nil
	})
	if _, err := rt.Route(newReq(httpx.MethodGet, "/puzzle/7"), nil, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if captured != "7" {
		t.Fatalf("captured = %q, want \"7\"", captured)
	}
}

func TestRouteNoMatchReturnsErrNoMatch(t *testing.T) {
	rt := New()
	rt.Handle(httpx.MethodGet, `/healthz`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		return Result{}, nil
	})
	_, err := rt.Route(newReq(httpx.MethodGet, "/nope"), nil, nil)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestRouteWrongMethodIsNoMatch(t *testing.T) {
	rt := New()
	rt.Handle(httpx.MethodPost, `/puzzle/add`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		return Result{}, nil
	})
	_, err := rt.Route(newReq(httpx.MethodGet, "/puzzle/add"), nil, nil)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestRouteHandlerErrorWrapped(t *testing.T) {
	rt := New()
	cause := errors.New("boom")
	rt.Handle(httpx.MethodGet, `/puzzle/list`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		return Result{}, cause
	})
	_, err := rt.Route(newReq(httpx.MethodGet, "/puzzle/list"), nil, nil)
	var he *HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want *HandlerError", err)
	}
	if !errors.Is(he, cause) {
		t.Fatalf("Unwrap() chain does not reach cause")
	}
}

func TestRouteStripsQueryString(t *testing.T) {
	rt := New()
	matched := false
	rt.Handle(httpx.MethodGet, `/puzzle/list`, func(*httpx.Request, net.Conn, *bufio.Reader, []string) (Result, error) {
		matched = true
		return Result{}, nil
	})
	if _, err := rt.Route(newReq(httpx.MethodGet, "/puzzle/list?sort=name"), nil, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !matched {
		t.Fatal("expected query string to be stripped before matching")
	}
}
