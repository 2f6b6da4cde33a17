package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

const relayBufferSize = 32 * 1024

// halfCloser is implemented by connections that can close their write
// side independently (*net.TCPConn, *tls.Conn).
type halfCloser interface {
	CloseWrite() error
}

// Relay copies bytes between the client connection and upstream in both
// directions until both directions reach EOF or either fails.
//
// A clean EOF on one side is propagated as a half-close to the other, so
// the remaining direction can drain. Errors (including an idle timeout on
// a direction) tear down both connections immediately, as does ctx
// cancellation. Bytes moved are recorded on conn for the access log.
//
// This is the single relay primitive behind forward CONNECT tunnels,
// SOCKS5 streams, and reverse-proxy WebSocket-style passthrough.
func Relay(ctx context.Context, conn *Conn, upstream net.Conn, idleTimeout time.Duration) error {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Raw.Close()
			upstream.Close()
		case <-watchDone:
		}
	}()

	errCh := make(chan error, 2)

	// client -> upstream. Reads go through conn.Reader so bytes buffered
	// during request parsing are not dropped.
	go func() {
		errCh <- copyDirection(upstream, conn.Reader, conn.Raw, idleTimeout, conn.AddBytesIn)
	}()

	// upstream -> client.
	go func() {
		errCh <- copyDirection(conn.Raw, upstream, upstream, idleTimeout, conn.AddBytesOut)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			conn.Raw.Close()
			upstream.Close()
		}
	}

	if ctx.Err() != nil {
		// Teardown came from cancellation; report that rather than the
		// secondary read errors it caused.
		return ctx.Err()
	}
	return first
}

// copyDirection moves bytes from src to dst until EOF or error. deadliner
// is the connection src reads from; its read deadline enforces the idle
// timeout. On clean EOF the destination's write side is half-closed and
// nil is returned.
func copyDirection(dst net.Conn, src io.Reader, deadliner net.Conn, idleTimeout time.Duration, recordBytes func(int64)) error {
	buf := make([]byte, relayBufferSize)
	for {
		if idleTimeout > 0 {
			deadliner.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		n, err := src.Read(buf)
		if n > 0 {
			recordBytes(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				closeWriteSide(dst)
				return nil
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				// Peer direction already tore the pair down.
				return nil
			}
			return err
		}
	}
}

// closeWriteSide half-closes conns that support it and fully closes the
// rest, propagating EOF to the peer either way.
func closeWriteSide(c net.Conn) {
	if hc, ok := c.(halfCloser); ok {
		hc.CloseWrite()
		return
	}
	c.Close()
}
