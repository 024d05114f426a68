package respio

import (
	"bytes"
	"errors"
	"testing"
)

func TestCheckIncomplete(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("+OK"),
		[]byte("+OK\r"),
		[]byte(":12"),
		[]byte("$3\r\nab"),
		[]byte("$3\r\nabc"),
		[]byte("$3\r\nabc\r"),
		[]byte("*2\r\n+a\r\n"),
		[]byte("_\r"),
	}
	for _, buf := range cases {
		if _, err := Check(buf); !errors.Is(err, ErrIncomplete) {
			t.Errorf("Check(%q) = %v, want ErrIncomplete", buf, err)
		}
	}
}

func TestCheckMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("x\r\n"),
		[]byte(":abc\r\n"),
		[]byte("$-2\r\n"),
		[]byte("$abc\r\n"),
		[]byte("*-1\r\n"),
		[]byte("_x\r\n"),
		[]byte("$3\r\nabcXY"),
	}
	for _, buf := range cases {
		if _, err := Check(buf); !errors.Is(err, ErrMalformed) {
			t.Errorf("Check(%q) = %v, want ErrMalformed", buf, err)
		}
	}
}

func TestCheckDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want Frame
	}{
		{"simple", []byte("+OK\r\n"), Simple("OK")},
		{"error", []byte("-ERR bad\r\n"), Err("ERR bad")},
		{"integer positive", []byte(":123\r\n"), Integer(123)},
		{"integer negative", []byte(":-123\r\n"), Integer(-123)},
		{"integer zero", []byte(":0\r\n"), Integer(0)},
		{"null sigil", []byte("_\r\n"), Nil},
		{"bulk", []byte("$5\r\nhello\r\n"), BulkOf([]byte("hello"))},
		{"bulk empty", []byte("$0\r\n\r\n"), BulkOf([]byte{})},
		{"bulk legacy null", []byte("$-1\r\n"), Nil},
		{"array empty", []byte("*0\r\n"), ArrayOf()},
		{
			"array nested",
			[]byte("*2\r\n:1\r\n*1\r\n+hi\r\n"),
			ArrayOf(Integer(1), ArrayOf(Simple("hi"))),
		},
		{
			"array of bulks",
			[]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"),
			ArrayOf(BulkOf([]byte("GET")), BulkOf([]byte("foo"))),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := Check(tc.buf)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if n != len(tc.buf) {
				t.Fatalf("Check length = %d, want %d", n, len(tc.buf))
			}
			got, n2, err := Decode(tc.buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n2 != n {
				t.Fatalf("Decode length = %d, want %d", n2, n)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Decode = %+v, want %+v", got, tc.want)
			}
			wantEnc := tc.buf
			if tc.want.Kind == KindNull {
				wantEnc = []byte("_\r\n") // a legacy $-1 null re-encodes as the _ sigil
			}
			if encoded := Encode(tc.want); !bytes.Equal(encoded, wantEnc) {
				t.Fatalf("Encode = %q, want %q", encoded, wantEnc)
			}
		})
	}
}

func TestCheckIncrementalFeed(t *testing.T) {
	full := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	for i := 0; i < len(full); i++ {
		partial := full[:i]
		if _, err := Check(partial); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("Check(%q) = %v, want ErrIncomplete at prefix len %d", partial, err, i)
		}
	}
	n, err := Check(full)
	if err != nil || n != len(full) {
		t.Fatalf("Check(full) = (%d, %v), want (%d, nil)", n, err, len(full))
	}
}

func TestCheckTrailingBytesIgnored(t *testing.T) {
	buf := []byte("+OK\r\n+NEXT\r\n")
	n, err := Check(buf)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n != len("+OK\r\n") {
		t.Fatalf("Check length = %d, want %d (first frame only)", n, len("+OK\r\n"))
	}
}
