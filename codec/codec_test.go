package codec

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type envelope struct {
	Status int    `json:"s" msgpack:"s" cbor:"s"`
	Body   []byte `json:"b" msgpack:"b" cbor:"b"`
}

func TestEnvelopeCodecs(t *testing.T) {
	in := envelope{Status: 200, Body: []byte(`{"hello":"world"}`)}

	codecs := map[string]Codec[envelope]{
		"json":    JSON[envelope]{},
		"msgpack": Msgpack[envelope]{},
		"cbor":    MustCBOR[envelope](false),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			raw, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out.Status != in.Status || !bytes.Equal(out.Body, in.Body) {
				t.Fatalf("round trip = %+v, want %+v", out, in)
			}
		})
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	garbage := []byte{0xff, 0x00, 0x13, 0x37}
	if _, err := (JSON[envelope]{}).Decode(garbage); err == nil {
		t.Error("json accepted garbage")
	}
	if _, err := (Msgpack[envelope]{}).Decode(garbage); err == nil {
		t.Error("msgpack accepted garbage")
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	in := map[string]int{"b": 2, "a": 1, "c": 3}

	first, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Encode(in)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("deterministic mode produced differing encodings")
		}
	}
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 8}

	raw, err := c.Encode(strings.Repeat("x", 100))
	if err != nil {
		t.Fatalf("Encode must pass through: %v", err)
	}
	if len(raw) != 100 {
		t.Fatalf("Encode truncated to %d bytes", len(raw))
	}

	if _, err := c.Decode(raw); err == nil {
		t.Fatal("Decode accepted an oversized payload")
	}
	if got, err := c.Decode([]byte("small")); err != nil || got != "small" {
		t.Fatalf("Decode(small) = (%q, %v)", got, err)
	}

	// disabled limit
	c.MaxDecode = 0
	if _, err := c.Decode(raw); err != nil {
		t.Fatalf("Decode with limit disabled: %v", err)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })

	raw, err := c.Encode(wrapperspb.String("credential-batch"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.GetValue() != "credential-batch" {
		t.Fatalf("round trip = %q", out.GetValue())
	}
}

func TestRawCodecs(t *testing.T) {
	if b, _ := (Bytes{}).Encode([]byte("raw")); string(b) != "raw" {
		t.Fatalf("Bytes.Encode = %q", b)
	}
	if s, _ := (String{}).Decode([]byte("raw")); s != "raw" {
		t.Fatalf("String.Decode = %q", s)
	}
}
