package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Admitter is the rate limiting gate handlers consult before serving a
// request. A nil Admitter in a handler means rate limiting is disabled.
type Admitter interface {
	Admit(identity string) bool
}

// hopByHopHeaders are stripped when a request or response crosses the
// proxy; they describe the connection, not the message.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes hop-by-hop headers, including any named by the
// Connection header, from h.
func StripHopByHop(h http.Header) {
	for _, name := range strings.Split(h.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			h.Del(name)
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// WriteResponse writes a complete HTTP/1.1 response with the connection
// marked for close. The Content-Length is derived from body.
func WriteResponse(w io.Writer, status int, header http.Header, body []byte) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}

	out := make(http.Header, len(header)+2)
	for k, vs := range header {
		out[k] = vs
	}
	StripHopByHop(out)
	out.Set("Content-Length", strconv.Itoa(len(body)))
	out.Set("Connection", "close")

	if err := out.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// WriteTextResponse writes a minimal plain-text response, used for denial
// and gateway-error replies.
func WriteTextResponse(w io.Writer, status int, extra http.Header, text string) error {
	header := make(http.Header, len(extra)+1)
	for k, vs := range extra {
		header[k] = vs
	}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return WriteResponse(w, status, header, []byte(text))
}
