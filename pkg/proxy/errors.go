package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrClientAbort marks a client that went away mid-stream. It is not a failure.
var ErrClientAbort = errors.New("client closed connection")

// ProxyError means the file server was unreachable or answered >= 500.
type ProxyError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *ProxyError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("upstream %s returned %d: %v", e.Path, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("upstream %s returned %d", e.Path, e.StatusCode)
	}
}

func (e *ProxyError) Unwrap() error { return e.Err }

// isClientGone reports write-side errors caused by the client disconnecting.
func isClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
