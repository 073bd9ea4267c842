package http1

import (
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/socketd/socket"
)

// writeAll writes buf to c, routing through its TLSEngine if present
// rather than a net.Conn. The Connection's fd is
// nonblocking (set once by the acceptor); on EAGAIN or EINTR it sleeps a
// millisecond and retries, with no retry limit, rather than
// parking this worker goroutine on a dedicated write-readiness wait --
// acceptable for this demonstration handler, which is not the core's
// sendfile/write-readiness state machine under test.
func writeAll(c *socket.Connection, buf []byte) error {
	if c.TLS != nil {
		for len(buf) > 0 {
			consumed, _, status, err := c.TLS.Wrap(buf)
			if err != nil {
				return err
			}
			buf = buf[consumed:]
			if status == socket.WrapNeedWrite {
				time.Sleep(time.Millisecond)
			}
		}
		return nil
	}

	for len(buf) > 0 {
		n, err := unix.Write(c.FD, buf)
		if n > 0 {
			buf = buf[n:]
			continue
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// appendInt appends the decimal representation of i to b without
// allocating beyond growing b itself.
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	if i < 0 {
		b = append(b, '-')
		i = -i
	}
	digits := 0
	for tmp := i; tmp > 0; tmp /= 10 {
		digits++
	}
	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}
	return b
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 408:
		return "Request Timeout"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
