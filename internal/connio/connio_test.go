package connio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/respio"
)

func TestReadFrameSingleWrite(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("*2\r\n$4\r\nPING\r\n$2\r\nhi\r\n"))
	}()

	c := New(server)
	f, ok, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !ok {
		t.Fatalf("ReadFrame: ok = false, want true")
	}
	want := respio.ArrayOf(respio.BulkOf([]byte("PING")), respio.BulkOf([]byte("hi")))
	if !f.Equal(want) {
		t.Fatalf("ReadFrame = %+v, want %+v", f, want)
	}
}

func TestReadFrameSplitAcrossWrites(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	full := []byte("$5\r\nhello\r\n")
	go func() {
		for _, b := range full {
			client.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	c := New(server)
	f, ok, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !ok {
		t.Fatalf("ReadFrame: ok = false, want true")
	}
	if !f.Equal(respio.BulkOf([]byte("hello"))) {
		t.Fatalf("ReadFrame = %+v", f)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	go client.Close()

	c := New(server)
	_, ok, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if ok {
		t.Fatalf("ReadFrame: ok = true, want false on clean EOF")
	}
}

func TestWriteFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	go func() {
		if err := c.WriteFrame(respio.Simple("OK")); err != nil {
			t.Errorf("WriteFrame: %v", err)
		}
	}()

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "+OK\r\n" {
		t.Fatalf("got %q, want %q", buf[:n], "+OK\r\n")
	}
}

func TestReadFrameContextCancellation(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := c.ReadFrameContext(ctx)
	if err == nil {
		t.Fatalf("ReadFrameContext: err = nil, want context error")
	}
}
