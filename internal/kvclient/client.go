// Package kvclient is a blocking client façade over the RESP wire
// protocol: Connect, Ping, Get, Set.
package kvclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/connio"
	"github.com/kstaniek/resp-kv-server/internal/respio"
)

// ErrNoResponse means the connection closed before a reply arrived.
var ErrNoResponse = errors.New("kvclient: no response from server")

// ErrUnexpectedReply means the server replied with a frame shape this
// client does not know how to interpret for the command sent.
var ErrUnexpectedReply = errors.New("kvclient: unexpected response shape")

// Client is a single connection to a server, used sequentially.
type Client struct {
	conn *connio.Connection
}

// ClientOption configures dialing behavior.
type ClientOption func(*dialConfig)

type dialConfig struct {
	timeout time.Duration
}

// WithDialTimeout bounds how long Connect waits for the TCP handshake.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *dialConfig) { c.timeout = d }
}

// Connect dials host:port and wraps the connection for framed I/O.
func Connect(host string, port int, opts ...ClientOption) (*Client, error) {
	cfg := dialConfig{timeout: 5 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, cfg.timeout)
	if err != nil {
		return nil, fmt.Errorf("kvclient: dial %s: %w", addr, err)
	}
	return &Client{conn: connio.New(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req respio.Frame) (respio.Frame, error) {
	if err := c.conn.WriteFrame(req); err != nil {
		return respio.Frame{}, err
	}
	resp, ok, err := c.conn.ReadFrame()
	if err != nil {
		return respio.Frame{}, err
	}
	if !ok {
		return respio.Frame{}, ErrNoResponse
	}
	return resp, nil
}

// Ping sends a PING and returns the server's status text.
func (c *Client) Ping() (string, error) {
	req := respio.ArrayOf(respio.BulkOf([]byte("PING")))
	resp, err := c.roundTrip(req)
	if err != nil {
		return "", err
	}
	switch resp.Kind {
	case respio.KindSimple:
		return resp.Str, nil
	case respio.KindBulk:
		return string(resp.Bulk), nil
	default:
		return "", ErrUnexpectedReply
	}
}

// Get fetches key, returning (nil, false) if the key is absent or
// expired.
func (c *Client) Get(key string) ([]byte, bool, error) {
	req := respio.ArrayOf(respio.BulkOf([]byte("GET")), respio.BulkOf([]byte(key)))
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, false, err
	}
	return flatten(resp)
}

// flatten defensively collapses any frame shape the server might send
// for a GET reply into raw bytes, mirroring the original client's
// recursive frame flattening: Null is absent, a one-element Array
// unwraps to its Bulk payload, an Integer passes through as its
// little-endian byte representation, a Simple passes through as its
// text, an Error becomes a Go error, and a longer Array concatenates
// its leaves.
func flatten(f respio.Frame) ([]byte, bool, error) {
	switch f.Kind {
	case respio.KindNull:
		return nil, false, nil
	case respio.KindBulk:
		return f.Bulk, true, nil
	case respio.KindSimple:
		return []byte(f.Str), true, nil
	case respio.KindInteger:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(f.Int))
		return b, true, nil
	case respio.KindError:
		return nil, false, fmt.Errorf("kvclient: %s", f.Str)
	case respio.KindArray:
		var out []byte
		for _, child := range f.Array {
			b, ok, err := flatten(child)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out = append(out, b...)
			}
		}
		return out, true, nil
	default:
		return nil, false, ErrUnexpectedReply
	}
}

// Set stores key=value, expiring after ttl if ttl is non-nil. The
// wire protocol carries whole seconds, so ttl is truncated to seconds
// before it is sent.
func (c *Client) Set(key string, value []byte, ttl *time.Duration) error {
	elems := []respio.Frame{
		respio.BulkOf([]byte("SET")),
		respio.BulkOf([]byte(key)),
		respio.BulkOf(value),
	}
	if ttl != nil {
		elems = append(elems, respio.Integer(int64(ttl.Seconds())))
	}
	resp, err := c.roundTrip(respio.ArrayOf(elems...))
	if err != nil {
		return err
	}
	if resp.Kind != respio.KindSimple {
		return ErrUnexpectedReply
	}
	return nil
}
