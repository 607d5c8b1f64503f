package httpx

import (
	"fmt"
	"io"
)

// statusText covers only the statuses the core ever writes itself.
var statusText = map[int]string{
	200: "OK",
	101: "Switching Protocols",
	400: "Bad Request",
	401: "Unauthorized",
	404: "Not Found",
	500: "Internal Server Error",
}

// WriteStatus writes a minimal response: the status line,
// Content-Length and Connection: close headers, and a body equal to
// the reason phrase.
func WriteStatus(w io.Writer, code int) error {
	reason := statusText[code]
	if reason == "" {
		reason = "Unknown"
	}
	body := reason
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body,
	)
	return err
}

// WriteJSON writes a 200 response carrying body as an
// application/json payload, closing the connection (the core does not
// implement persistent HTTP connections).
func WriteJSON(w io.Writer, body []byte) error {
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		len(body),
	)
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// WriteJSONStatus writes body as JSON under an arbitrary status code.
func WriteJSONStatus(w io.Writer, code int, body []byte) error {
	reason := statusText[code]
	if reason == "" {
		reason = "Unknown"
	}
	_, err := fmt.Fprintf(w,
		"HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		code, reason, len(body),
	)
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
