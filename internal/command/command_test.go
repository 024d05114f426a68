package command

import (
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/resp-kv-server/internal/kvstore"
	"github.com/kstaniek/resp-kv-server/internal/respio"
)

func frameOf(args ...string) respio.Frame {
	elems := make([]respio.Frame, len(args))
	for i, a := range args {
		elems[i] = respio.BulkOf([]byte(a))
	}
	return respio.ArrayOf(elems...)
}

func TestDecodePing(t *testing.T) {
	cmd, err := Decode(frameOf("PING"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Kind != KindPing {
		t.Fatalf("Kind = %v, want KindPing", cmd.Kind)
	}
}

func TestDecodeGet(t *testing.T) {
	cmd, err := Decode(frameOf("get", "foo"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Kind != KindGet || cmd.Key != "foo" {
		t.Fatalf("cmd = %+v, want Get{foo}", cmd)
	}
}

func TestDecodeSetWithoutTTL(t *testing.T) {
	cmd, err := Decode(frameOf("set", "foo", "bar"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Kind != KindSet || cmd.Key != "foo" || string(cmd.Value) != "bar" || cmd.TTL != nil {
		t.Fatalf("cmd = %+v, want Set{foo,bar,nil}", cmd)
	}
}

func TestDecodeSetWithTTL(t *testing.T) {
	f := respio.ArrayOf(
		respio.BulkOf([]byte("set")),
		respio.BulkOf([]byte("foo")),
		respio.BulkOf([]byte("bar")),
		respio.Integer(30),
	)
	cmd, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.TTL == nil || *cmd.TTL != 30*time.Second {
		t.Fatalf("TTL = %v, want 30s", cmd.TTL)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	cmd, err := Decode(frameOf("frobnicate"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.Kind != KindUnknown || cmd.Name != "frobnicate" {
		t.Fatalf("cmd = %+v, want Unknown{frobnicate}", cmd)
	}
}

func TestDecodeGetRejectsExtraArgs(t *testing.T) {
	if _, err := Decode(frameOf("get", "foo", "bar")); err == nil {
		t.Fatalf("Decode: err = nil, want protocol error on trailing data")
	}
}

func TestExecutePing(t *testing.T) {
	got := Execute(Command{Kind: KindPing}, kvstore.New())
	if !got.Equal(respio.Simple("pong")) {
		t.Fatalf("Execute(Ping) = %+v", got)
	}
}

func TestExecuteGetMiss(t *testing.T) {
	got := Execute(Command{Kind: KindGet, Key: "missing"}, kvstore.New())
	if !got.Equal(respio.Nil) {
		t.Fatalf("Execute(Get miss) = %+v, want Nil", got)
	}
}

func TestExecuteSetThenGetHit(t *testing.T) {
	store := kvstore.New()
	Execute(Command{Kind: KindSet, Key: "k", Value: []byte("v")}, store)
	got := Execute(Command{Kind: KindGet, Key: "k"}, store)
	want := respio.ArrayOf(respio.BulkOf([]byte("v")))
	if !got.Equal(want) {
		t.Fatalf("Execute(Get hit) = %+v, want %+v", got, want)
	}
}

func TestExecuteUnknownCommandRepliesError(t *testing.T) {
	got := Execute(Command{Kind: KindUnknown, Name: "nope"}, kvstore.New())
	if got.Kind != respio.KindSimple || !strings.HasPrefix(got.Str, "error:") {
		t.Fatalf("Execute(Unknown) = %+v, want a Simple frame starting with \"error:\"", got)
	}
}
