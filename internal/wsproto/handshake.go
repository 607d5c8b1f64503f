package wsproto

import (
	"crypto/sha1" //nolint:gosec // RFC 6455 mandates SHA-1 for the handshake, not for security.
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"git.sr.ht/~kvothe/crosscollab/internal/httpx"
)

// acceptGUID is the fixed GUID RFC 6455 §1.3 concatenates onto the
// client's Sec-WebSocket-Key before hashing.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrNotGet      = errors.New("wsproto: upgrade request must be GET")
	ErrMissingKey  = errors.New("wsproto: missing Sec-WebSocket-Key header")
)

// AcceptKey computes the Sec-WebSocket-Accept value for clientKey.
// Testable Property #3: AcceptKey("dGhlIHNhbXBsZSBub25jZQ==") ==
// "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=".
func AcceptKey(clientKey string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(clientKey + acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Handshake validates req as a WebSocket upgrade request and writes
// the 101 response to w. A non-GET request or a missing key is a
// parse-level error; the caller replies 400 per spec.md §4.3.
func Handshake(w io.Writer, req *httpx.Request) error {
	if req.Method != httpx.MethodGet {
		return ErrNotGet
	}
	key := req.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return ErrMissingKey
	}
	accept := AcceptKey(key)
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n",
		accept,
	)
	return err
}
