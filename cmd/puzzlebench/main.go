// Command puzzlebench opens many concurrent WebSocket connections
// against a running crosscollab server and sends random cell edits,
// mirroring the teacher's own load tool (bench/bench.go) adapted from
// the course-selection protocol to spec.md §6's cell-edit payload.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	puzzleID    = flag.Int64("puzzle", 1, "puzzle id to join")
	connections = flag.Int("n", 1000, "number of connections")
	target      = flag.String("addr", "ws://localhost:5051", "server address")
	gridSize    = flag.Int("grid", 15, "assumed grid width/height for random coordinates")
)

var errUnexpectedStatusCode = errors.New("unexpected status code")

type cellEdit struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	C string `json:"c"`
}

func writeEdit(ctx context.Context, c *websocket.Conn, edit cellEdit, cid int) error {
	log.Printf("%d <- (%d,%d)=%q", cid, edit.X, edit.Y, edit.C)
	// cmd/puzzlebench is a load-test client, not the wire codec under
	// test; encoding/json is sufficient here and keeps this file
	// dependency-light against the server's goccy/go-json choice.
	b, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

func connect(ctx context.Context, cid int) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/puzzle/%d/live", *target, *puzzleID)
	c, r, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		log.Printf("%d !D %v", cid, err)
		return
	}
	defer func() { _ = c.CloseNow() }()

	if r.StatusCode != http.StatusSwitchingProtocols {
		log.Printf("%d !S %v", cid, errUnexpectedStatusCode)
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				cancel()
				log.Printf("%d !R %v", cid, rec)
			}
		}()
		for {
			_, msg, err := c.Read(dialCtx)
			if err != nil {
				return
			}
			log.Printf("%d -> %s", cid, string(msg))
		}
	}()

	n := big.NewInt(int64(*gridSize))
	for {
		select {
		case <-dialCtx.Done():
			return
		case <-time.After(time.Duration(200+cid%300) * time.Millisecond):
			x, _ := rand.Int(rand.Reader, n)
			y, _ := rand.Int(rand.Reader, n)
			edit := cellEdit{X: int(x.Int64()), Y: int(y.Int64()), C: string(rune('A' + cid%26))}
			if err := writeEdit(dialCtx, c, edit, cid); err != nil {
				return
			}
		}
	}
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func(cid int) {
			defer wg.Done()
			connect(ctx, cid)
		}(i)
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()
}
