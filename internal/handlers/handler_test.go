package handlers

import (
	"net/http/httptest"
	"testing"
)

func TestOriginFromRemoteAddr(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "10.0.0.1:52000", "10.0.0.1"},
		{"bare ipv4", "10.0.0.1", "10.0.0.1"},
		{"ipv6 with port", "[2001:db8::1]:52000", "2001:db8::1"},
		{"bare ipv6", "2001:db8::1", "2001:db8::1"},
		{"bracketed bare ipv6", "[2001:db8::1]", "2001:db8::1"},
		{"empty", "", "127.0.0.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := origin(req); got != tc.want {
			t.Fatalf("%s: expected origin %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestOriginKeepsIPv6ClientsDistinct(t *testing.T) {
	// Behind RealIP, RemoteAddr is a bare IP with no port. Two IPv6 clients
	// must never collapse into one identity key.
	a := httptest.NewRequest("GET", "/", nil)
	a.RemoteAddr = "2001:db8::1"
	b := httptest.NewRequest("GET", "/", nil)
	b.RemoteAddr = "2001:db8::2"

	oa, ob := origin(a), origin(b)
	if oa == ob {
		t.Fatalf("distinct IPv6 clients collapsed to the same origin %q", oa)
	}
	if oa != "2001:db8::1" || ob != "2001:db8::2" {
		t.Fatalf("IPv6 origins mangled: %q, %q", oa, ob)
	}
}
