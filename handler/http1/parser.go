package http1

import (
	"bytes"
	"errors"
)

// ErrInvalidRequest reports a malformed request line or header block.
var ErrInvalidRequest = errors.New("http1: invalid request")

// ErrIncomplete reports that data does not yet contain a full request --
// the caller should keep the Connection registered for READ and retry
// once more bytes arrive, rather than treating it as malformed.
var ErrIncomplete = errors.New("http1: incomplete request")

// ParseRequest parses one HTTP/1.1 request out of data, distinguishing
// "incomplete" from "malformed" so the caller can re-arm READ instead
// of closing on a short read.
func ParseRequest(data []byte) (*Request, error) {
	lineEnd := bytes.IndexByte(data, '\n')
	if lineEnd == -1 {
		return nil, ErrIncomplete
	}

	req := acquireRequest()

	line := data[:lineEnd]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		releaseRequest(req)
		return nil, ErrInvalidRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		releaseRequest(req)
		return nil, ErrInvalidRequest
	}
	sp2 += sp1 + 1

	req.Method = string(line[:sp1])
	req.Path = string(line[sp1+1 : sp2])
	req.Proto = string(line[sp2+1:])

	if idx := bytes.IndexByte([]byte(req.Path), '?'); idx != -1 {
		req.Path = parseQuery(req, req.Path, idx)
	}

	rest := data[lineEnd+1:]
	var headerEnd, sepLen int
	switch {
	// A blank line directly after the request line means no headers at
	// all; the generic separator search below would otherwise scan into
	// the body.
	case bytes.HasPrefix(rest, []byte("\r\n")):
		headerEnd, sepLen = 0, 2
	case bytes.HasPrefix(rest, []byte("\n")):
		headerEnd, sepLen = 0, 1
	default:
		headerEnd = bytes.Index(rest, []byte("\r\n\r\n"))
		sepLen = 4
		if headerEnd == -1 {
			headerEnd = bytes.Index(rest, []byte("\n\n"))
			sepLen = 2
			if headerEnd == -1 {
				releaseRequest(req)
				return nil, ErrIncomplete
			}
		}
	}
	parseHeaders(req, rest[:headerEnd])
	body := rest[headerEnd+sepLen:]
	if len(body) > 0 {
		req.Body = append(req.Body[:0], body...)
	}

	return req, nil
}

func parseHeaders(req *Request, data []byte) {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}
		line := data[:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			break
		}
		if colon := bytes.IndexByte(line, ':'); colon > 0 {
			key := string(bytes.TrimSpace(line[:colon]))
			value := string(bytes.TrimSpace(line[colon+1:]))
			req.SetHeader(key, value)
		}
		if lineEnd == len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
}

func parseQuery(req *Request, path string, idx int) string {
	queryStr := path[idx+1:]
	path = path[:idx]
	if req.Query == nil {
		req.Query = make(map[string]string)
	}
	for _, pair := range bytes.Split([]byte(queryStr), []byte("&")) {
		kv := bytes.SplitN(pair, []byte("="), 2)
		switch len(kv) {
		case 2:
			req.Query[string(kv[0])] = string(kv[1])
		case 1:
			req.Query[string(kv[0])] = ""
		}
	}
	return path
}
