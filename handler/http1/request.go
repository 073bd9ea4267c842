// Package http1 is a sample HTTP/1.1 socket.Handler implementation used
// to exercise the endpoint end-to-end. The endpoint itself treats the
// protocol handler as an opaque collaborator; this package exists so
// cmd/endpointd has something real to serve.
package http1

import "sync"

// Request is a zero-allocation HTTP/1.1 request, reused from a
// package-wide sync.Pool shared by every Connection.
type Request struct {
	Method string
	Path   string
	Proto  string

	ContentType   string
	ContentLength string
	UserAgent     string
	Accept        string
	Host          string
	Connection    string

	ExtraHeaders map[string]string
	Query        map[string]string

	Body []byte
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{Body: make([]byte, 0, 1024)}
	},
}

// acquireRequest draws a Request from the free-list.
func acquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// reset clears a Request for reuse without freeing its backing storage.
func (r *Request) reset() {
	r.Method = ""
	r.Path = ""
	r.Proto = ""
	r.ContentType = ""
	r.ContentLength = ""
	r.UserAgent = ""
	r.Accept = ""
	r.Host = ""
	r.Connection = ""
	if r.ExtraHeaders != nil {
		for k := range r.ExtraHeaders {
			delete(r.ExtraHeaders, k)
		}
	}
	if r.Query != nil {
		for k := range r.Query {
			delete(r.Query, k)
		}
	}
	r.Body = r.Body[:0]
}

// releaseRequest resets and returns a Request to the free-list.
func releaseRequest(r *Request) {
	r.reset()
	requestPool.Put(r)
}

// SetHeader records a header value, routing well-known names into their
// predefined fields and everything else into ExtraHeaders.
func (r *Request) SetHeader(key, value string) {
	switch key {
	case "Content-Type":
		r.ContentType = value
	case "Content-Length":
		r.ContentLength = value
	case "User-Agent":
		r.UserAgent = value
	case "Accept":
		r.Accept = value
	case "Host":
		r.Host = value
	case "Connection":
		r.Connection = value
	default:
		if r.ExtraHeaders == nil {
			r.ExtraHeaders = make(map[string]string)
		}
		r.ExtraHeaders[key] = value
	}
}

// Header looks up a request header, predefined fields first.
func (r *Request) Header(key string) string {
	switch key {
	case "Content-Type":
		return r.ContentType
	case "Content-Length":
		return r.ContentLength
	case "User-Agent":
		return r.UserAgent
	case "Accept":
		return r.Accept
	case "Host":
		return r.Host
	case "Connection":
		return r.Connection
	default:
		if r.ExtraHeaders != nil {
			return r.ExtraHeaders[key]
		}
		return ""
	}
}
