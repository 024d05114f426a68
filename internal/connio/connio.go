// Package connio adapts a net.Conn into a frame-oriented reader/writer
// over the respio codec: a growable read buffer that retries on
// ErrIncomplete, and a buffered writer flushed after every reply.
package connio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/respio"
)

const (
	initialBufSize = 1024
	maxBufSize     = 1 << 20 // 1 MiB; guards against an unbounded frame exhausting memory
)

// ErrConnectionReset means the peer closed the connection mid-frame
// (bytes were buffered but a full frame never arrived).
var ErrConnectionReset = errors.New("connio: connection reset by peer")

// ErrFrameTooLarge means a single frame would exceed maxBufSize.
var ErrFrameTooLarge = errors.New("connio: frame exceeds maximum size")

// Connection wraps a net.Conn with a growable read buffer and a
// buffered writer, framing both sides with respio.
type Connection struct {
	conn net.Conn
	w    *bufio.Writer
	buf  []byte // unconsumed bytes start at buf[:n]
	n    int
}

// New wraps conn for framed I/O.
func New(conn net.Conn) *Connection {
	return &Connection{
		conn: conn,
		w:    bufio.NewWriter(conn),
		buf:  make([]byte, initialBufSize),
	}
}

// Close closes the underlying connection.
func (c *Connection) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer's network address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetReadDeadline forwards to the underlying connection.
func (c *Connection) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// ReadFrame reads and decodes the next frame, growing the internal
// buffer and refilling from the network until a full frame is
// available. It returns (Frame{}, false, nil) on a clean EOF with no
// partial data buffered.
func (c *Connection) ReadFrame() (respio.Frame, bool, error) {
	for {
		if c.n > 0 {
			frameLen, err := respio.Check(c.buf[:c.n])
			switch {
			case err == nil:
				f, _, derr := respio.Decode(c.buf[:c.n])
				if derr != nil {
					return respio.Frame{}, false, derr
				}
				c.consume(frameLen)
				return f, true, nil
			case errors.Is(err, respio.ErrMalformed):
				return respio.Frame{}, false, err
			}
			// ErrIncomplete: fall through to read more.
		}

		if c.n == len(c.buf) {
			if err := c.grow(); err != nil {
				return respio.Frame{}, false, err
			}
		}

		read, err := c.conn.Read(c.buf[c.n:])
		if read > 0 {
			c.n += read
		}
		if err != nil || read == 0 {
			if c.n == 0 {
				return respio.Frame{}, false, nil
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return respio.Frame{}, false, fmt.Errorf("%w: %v", ErrConnectionReset, err)
			}
			return respio.Frame{}, false, ErrConnectionReset
		}
	}
}

// ReadFrameContext races ReadFrame against ctx, unblocking a pending
// read by forcing the read deadline into the past when ctx is
// cancelled first.
func (c *Connection) ReadFrameContext(ctx context.Context) (respio.Frame, bool, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	f, ok, err := c.ReadFrame()
	close(done)
	if ctx.Err() != nil {
		return respio.Frame{}, false, ctx.Err()
	}
	return f, ok, err
}

func (c *Connection) consume(n int) {
	copy(c.buf, c.buf[n:c.n])
	c.n -= n
}

func (c *Connection) grow() error {
	if len(c.buf) >= maxBufSize {
		return ErrFrameTooLarge
	}
	next := len(c.buf) * 2
	if next > maxBufSize {
		next = maxBufSize
	}
	grown := make([]byte, next)
	copy(grown, c.buf[:c.n])
	c.buf = grown
	return nil
}

// WriteFrame encodes and writes f, flushing immediately.
func (c *Connection) WriteFrame(f respio.Frame) error {
	if _, err := c.w.Write(respio.Encode(f)); err != nil {
		return err
	}
	return c.w.Flush()
}
