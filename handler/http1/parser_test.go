package http1

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseRequestBasic(t *testing.T) {
	raw := []byte("GET /hello HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n\r\n")

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer releaseRequest(req)

	if req.Method != "GET" || req.Path != "/hello" || req.Proto != "HTTP/1.1" {
		t.Fatalf("request line parsed as %q %q %q", req.Method, req.Path, req.Proto)
	}
	if req.Host != "example.com" {
		t.Errorf("Host = %q, want example.com", req.Host)
	}
	if req.UserAgent != "test" {
		t.Errorf("User-Agent = %q, want test", req.UserAgent)
	}
}

func TestParseRequestQueryString(t *testing.T) {
	raw := []byte("GET /search?q=poller&limit=10&flag HTTP/1.1\r\n\r\n")

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer releaseRequest(req)

	if req.Path != "/search" {
		t.Errorf("Path = %q, want /search (query stripped)", req.Path)
	}
	if req.Query["q"] != "poller" || req.Query["limit"] != "10" {
		t.Errorf("Query = %v", req.Query)
	}
	if v, ok := req.Query["flag"]; !ok || v != "" {
		t.Errorf("bare query key should map to empty string, got %v", req.Query)
	}
}

func TestParseRequestBody(t *testing.T) {
	raw := []byte("POST /submit HTTP/1.1\r\nContent-Type: application/json\r\n\r\n{\"a\":1}")

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer releaseRequest(req)

	if req.ContentType != "application/json" {
		t.Errorf("Content-Type = %q", req.ContentType)
	}
	if !bytes.Equal(req.Body, []byte("{\"a\":1}")) {
		t.Errorf("Body = %q", req.Body)
	}
}

func TestParseRequestIncomplete(t *testing.T) {
	tests := [][]byte{
		[]byte(""),
		[]byte("GET /hello HT"),
		[]byte("GET /hello HTTP/1.1\r\nHost: example.com\r\n"),
	}
	for _, raw := range tests {
		if _, err := ParseRequest(raw); !errors.Is(err, ErrIncomplete) {
			t.Errorf("ParseRequest(%q) = %v, want ErrIncomplete", raw, err)
		}
	}
}

func TestParseRequestMalformed(t *testing.T) {
	tests := [][]byte{
		[]byte("GARBAGE\r\n\r\n"),
		[]byte("GET /only-one-space\r\n\r\n"),
	}
	for _, raw := range tests {
		if _, err := ParseRequest(raw); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("ParseRequest(%q) = %v, want ErrInvalidRequest", raw, err)
		}
	}
}

func TestParseRequestExtraHeaders(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-Request-Id: abc123\r\n\r\n")

	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	defer releaseRequest(req)

	if got := req.Header("X-Request-Id"); got != "abc123" {
		t.Errorf("Header(X-Request-Id) = %q, want abc123", got)
	}
}

func TestRequestResetClearsState(t *testing.T) {
	raw := []byte("GET /a?x=1 HTTP/1.1\r\nHost: h\r\nX-Custom: v\r\n\r\nbody")
	req, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	req.reset()
	if req.Method != "" || req.Path != "" || req.Host != "" {
		t.Error("reset should clear the request line and known headers")
	}
	if len(req.ExtraHeaders) != 0 || len(req.Query) != 0 || len(req.Body) != 0 {
		t.Error("reset should clear maps and body")
	}
	releaseRequest(req)
}
