package sendfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/searchktools/socketd/socket"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"index.html", "text/html; charset=utf-8"},
		{"site.css", "text/css; charset=utf-8"},
		{"app.js", "application/javascript; charset=utf-8"},
		{"logo.png", "image/png"},
		{"photo.jpeg", "image/jpeg"},
		{"archive.tar.gz", "application/gzip"},
		{"unknown.bin", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentType(tt.name); got != tt.want {
			t.Errorf("ContentType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileCacheReusesHandles(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.txt", "hello")

	fc := NewFileCache(4)
	defer fc.Close()

	first, err := fc.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := fc.Get(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("repeated Get for the same path must return the cached handle")
	}
}

func TestFileCacheEvictsLRU(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "a")
	b := writeTemp(t, dir, "b.txt", "b")
	c := writeTemp(t, dir, "c.txt", "c")

	fc := NewFileCache(2)
	defer fc.Close()

	fa, _ := fc.Get(a)
	if _, err := fc.Get(b); err != nil {
		t.Fatal(err)
	}
	if _, err := fc.Get(c); err != nil {
		t.Fatal(err)
	}

	// a was least recently used and must have been evicted and closed.
	if _, err := fa.Stat(); err == nil {
		t.Fatal("evicted handle should be closed")
	}

	// A re-Get reopens it fresh.
	fa2, err := fc.Get(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fa2.Stat(); err != nil {
		t.Fatalf("re-opened handle should be live: %v", err)
	}
}

func TestAddZeroLengthCompletesSynchronously(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "empty.txt", "")

	completions := 0
	e := New(Config{CacheSize: 2, OnComplete: func() { completions++ }})
	defer e.Close()

	c := socket.NewConnection()
	c.FD = -1
	job := &socket.SendfileJob{Name: path, Conn: c, Remaining: 0}
	c.SendfileJob = job

	done, err := e.Add(job)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !done {
		t.Fatal("a zero-length transfer must complete inline")
	}
	if c.SendfileJob != nil {
		t.Fatal("completed job must be detached from the connection")
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}
}
