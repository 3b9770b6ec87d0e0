package weborigin

import (
	"net/url"
	"testing"
)

func TestOfDropsDefaultPorts(t *testing.T) {
	cases := map[string]string{
		"https://App.Example.com:443/lib.js": "https://app.example.com",
		"http://localhost:80/":               "http://localhost",
		"http://localhost:3000/x":            "http://localhost:3000",
		"https://example.com:80/":            "https://example.com:80",
		"http://[::1]:8080/":                 "http://[::1]:8080",
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := Of(u); got != want {
			t.Fatalf("Of(%s)=%s, want %s", raw, got, want)
		}
	}
}

func TestSame(t *testing.T) {
	origin, _ := url.Parse("https://app.example.com/")
	explicit, _ := url.Parse("https://app.example.com:443/lib.js")
	other, _ := url.Parse("http://app.example.com/lib.js")
	if !Same(origin, explicit) {
		t.Fatalf("explicit default port should be same origin")
	}
	if Same(origin, other) {
		t.Fatalf("scheme change must be cross origin")
	}
	if Same(nil, origin) {
		t.Fatalf("nil is never same origin")
	}
}
