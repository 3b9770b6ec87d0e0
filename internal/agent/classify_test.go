package agent

import (
	"net/http"
	"net/url"
	"testing"
)

func TestClassify(t *testing.T) {
	rules := testRules(t)
	cases := []struct {
		name   string
		method string
		url    string
		want   Class
	}{
		{"post is not intercepted", http.MethodPost, "http://localhost:5000/index.html", ClassExternalOpaque},
		{"head is not intercepted", http.MethodHead, "https://cdn.example.com/lib.js", ClassExternalOpaque},
		{"empty method means get", "", "http://localhost:5000/", ClassSameOrigin},
		{"api prefix", http.MethodGet, "http://localhost:5000/api/sync", ClassAPI},
		{"api prefix on other origin", http.MethodGet, "https://other.example.com/api/x", ClassAPI},
		{"api prefix needs trailing slash", http.MethodGet, "http://localhost:5000/apiary", ClassSameOrigin},
		{"excluded host", http.MethodGet, "https://jsonblob.com/api2/blob", ClassExternalOpaque},
		{"api prefix wins over excluded host", http.MethodGet, "https://jsonblob.com/api/jsonBlob/123", ClassAPI},
		{"excluded host case insensitive", http.MethodGet, "https://JSONBLOB.com/x", ClassExternalOpaque},
		{"cross origin", http.MethodGet, "https://cdn.jsdelivr.net/npm/chart.js", ClassCrossOrigin},
		{"different port", http.MethodGet, "http://localhost:5001/", ClassCrossOrigin},
		{"different scheme", http.MethodGet, "https://localhost:5000/", ClassCrossOrigin},
		{"same origin", http.MethodGet, "http://localhost:5000/icon-192.png", ClassSameOrigin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.url)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := rules.Classify(tc.method, u); got != tc.want {
				t.Fatalf("Classify(%s, %s)=%s, want %s", tc.method, tc.url, got, tc.want)
			}
		})
	}
}

func TestClassifyDefaultPortIsSameOrigin(t *testing.T) {
	origin, _ := url.Parse("https://money.example.com/")
	rules := Rules{Origin: origin}
	u, _ := url.Parse("https://money.example.com:443/index.html")
	if got := rules.Classify(http.MethodGet, u); got != ClassSameOrigin {
		t.Fatalf("expected same origin, got %s", got)
	}
}

func TestClassifyEmptyExcludedHostDisablesRule(t *testing.T) {
	origin, _ := url.Parse(testOrigin)
	rules := Rules{Origin: origin, APIPrefix: "/api/"}
	u, _ := url.Parse("https://jsonblob.com/x")
	if got := rules.Classify(http.MethodGet, u); got != ClassCrossOrigin {
		t.Fatalf("expected cross origin, got %s", got)
	}
}

func TestResolveStaticPath(t *testing.T) {
	rules := testRules(t)
	got, err := rules.Resolve("/manifest.json")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.String() != testOrigin+"/manifest.json" {
		t.Fatalf("unexpected resolved url: %s", got)
	}
}
