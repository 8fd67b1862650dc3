package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:8080", "http://secure-proxy:8443", "localhost, .internal.example, 10.0.0.0/8")

	tests := []struct {
		url  string
		want string
	}{
		{"http://api.openai.com/v1", "http://proxy:8080"},
		{"https://api.anthropic.com/v1/messages", "http://secure-proxy:8443"},
		{"http://localhost:11434/api/embed", ""},
		{"http://ollama.internal.example/api/generate", ""},
		{"http://internal.example/api/generate", ""},
		{"http://10.1.2.3:11434/api/tags", ""},
		{"http://192.168.1.5:11434/api/tags", "http://proxy:8080"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.url, nil)
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s): %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}

func TestNewProxyFunc_Wildcard(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:8080", "", "*")

	got, err := proxy(httptest.NewRequest(http.MethodGet, "http://anything.example", nil))
	if err != nil || got != nil {
		t.Errorf("Expected direct connection, got %v, %v", got, err)
	}
}

func TestNewProxyFunc_HTTPSFallsBackToHTTPProxy(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:8080", "", "")

	got, err := proxy(httptest.NewRequest(http.MethodGet, "https://api.openai.com", nil))
	if err != nil || got == nil || got.String() != "http://proxy:8080" {
		t.Errorf("Expected http proxy for https without https proxy, got %v, %v", got, err)
	}
}
