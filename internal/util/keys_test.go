package util

import (
	"strings"
	"testing"
)

func TestRequestKeyDeterministic(t *testing.T) {
	a := RequestKey("POST", "/v1/items", []byte(`{"a":1}`))
	b := RequestKey("POST", "/v1/items", []byte(`{"a":1}`))
	if a != b {
		t.Fatalf("same request hashed differently: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "POST:/v1/items:") {
		t.Fatalf("key = %q, want method:endpoint prefix", a)
	}
}

func TestRequestKeyDiscriminates(t *testing.T) {
	base := RequestKey("GET", "/v1/items", nil)
	cases := map[string]string{
		"method":   RequestKey("POST", "/v1/items", nil),
		"endpoint": RequestKey("GET", "/v2/items", nil),
		"payload":  RequestKey("GET", "/v1/items", []byte("x")),
	}
	for dim, got := range cases {
		if got == base {
			t.Errorf("keys collide when only the %s differs", dim)
		}
	}
}
