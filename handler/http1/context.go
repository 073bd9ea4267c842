package http1

import (
	"encoding/json"
	"os"

	"github.com/searchktools/socketd/socket"
)

// Context bundles one request's parsed Request, its path parameters,
// and the response-writing helpers a RouteFunc uses. Responses are
// written straight to a Connection's fd (or TLSEngine) rather than a
// net.Conn.
type Context struct {
	req    *Request
	params map[string]string
	conn   *socket.Connection

	respBuf []byte

	// long is set by Long() to tell the Handler the route wants the
	// StateLong disposition instead of the ordinary keep-alive re-arm,
	// the demonstration analogue of a servlet holding a comet request
	// open.
	long bool

	// sentinel, if set by ServeFile, marks that the response body will
	// arrive via the sendfile engine rather than respBuf.
	sendfilePending bool

	writeErr error
}

// Method returns the request method.
func (c *Context) Method() string { return c.req.Method }

// Path returns the request path (query string stripped).
func (c *Context) Path() string { return c.req.Path }

// Param returns a named path parameter, or "" if absent.
func (c *Context) Param(key string) string {
	if c.params == nil {
		return ""
	}
	return c.params[key]
}

// Query returns a query-string parameter, or "" if absent.
func (c *Context) Query(key string) string {
	if c.req.Query == nil {
		return ""
	}
	return c.req.Query[key]
}

// Header returns a request header.
func (c *Context) Header(key string) string { return c.req.Header(key) }

// Body returns the request body.
func (c *Context) Body() []byte { return c.req.Body }

// Bind unmarshals the request body as JSON into v.
func (c *Context) Bind(v any) error { return json.Unmarshal(c.req.Body, v) }

// Conn exposes the raw Connection for handlers that need to inspect
// endpoint-level state (e.g. deciding whether to go long via c.Conn().Async).
func (c *Context) Conn() *socket.Connection { return c.conn }

// Long marks this request for the StateLong disposition: the
// Connection parks in waitingRequests instead of re-arming for read.
func (c *Context) Long() { c.long = true }

func (c *Context) writeStatus(code int, contentType string, body []byte) {
	c.respBuf = c.respBuf[:0]
	c.respBuf = append(c.respBuf, "HTTP/1.1 "...)
	c.respBuf = appendInt(c.respBuf, code)
	c.respBuf = append(c.respBuf, ' ')
	c.respBuf = append(c.respBuf, statusText(code)...)
	c.respBuf = append(c.respBuf, "\r\nContent-Type: "...)
	c.respBuf = append(c.respBuf, contentType...)
	c.respBuf = append(c.respBuf, "\r\nContent-Length: "...)
	c.respBuf = appendInt(c.respBuf, len(body))
	c.respBuf = append(c.respBuf, "\r\nConnection: keep-alive\r\n\r\n"...)
	c.respBuf = append(c.respBuf, body...)
	c.writeErr = writeAll(c.conn, c.respBuf)
}

// String writes a text/plain response.
func (c *Context) String(code int, s string) { c.writeStatus(code, "text/plain", []byte(s)) }

// Bytes writes an application/octet-stream response.
func (c *Context) Bytes(code int, data []byte) {
	c.writeStatus(code, "application/octet-stream", data)
}

// Data writes a response with an explicit content type.
func (c *Context) Data(code int, contentType string, data []byte) {
	c.writeStatus(code, contentType, data)
}

// JSON marshals v and writes an application/json response.
func (c *Context) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.String(500, "json marshal error")
		return
	}
	c.writeStatus(code, "application/json", data)
}

// Error writes a JSON error envelope.
func (c *Context) Error(code int, message string) {
	c.JSON(code, map[string]any{"code": code, "message": message})
}

// Success writes a JSON success envelope.
func (c *Context) Success(data any) {
	c.JSON(200, map[string]any{"code": 0, "message": "success", "data": data})
}

// ServeFile streams path as the response body. When the Handler was wired
// with a sendfile engine, headers are written directly and the
// body is handed to the engine's inline fast path via a SendfileJob. If
// the job is left attached (parked), the Connection's interest mask is
// owned by the sendfile engine until the transfer completes or fails, and
// the caller's returned SocketState is ignored (worker.Pool.applyState's
// "hand to Sendfile" disposition); an inline completion detaches the job
// and the returned state applies as usual.
// Without a sendfile engine it falls back to a buffered copy.
func (c *Context) ServeFile(path string, sf socket.SendfileSubmitter) error {
	stat, err := os.Stat(path)
	if err != nil {
		c.String(404, "not found")
		return err
	}
	size := stat.Size()
	contentType := contentTypeFor(path)

	c.respBuf = c.respBuf[:0]
	c.respBuf = append(c.respBuf, "HTTP/1.1 200 OK\r\nContent-Type: "...)
	c.respBuf = append(c.respBuf, contentType...)
	c.respBuf = append(c.respBuf, "\r\nContent-Length: "...)
	c.respBuf = appendInt(c.respBuf, int(size))
	c.respBuf = append(c.respBuf, "\r\nConnection: keep-alive\r\n\r\n"...)
	if err := writeAll(c.conn, c.respBuf); err != nil {
		return err
	}

	if sf != nil {
		job := &socket.SendfileJob{
			Name:      path,
			Offset:    0,
			Remaining: size,
			KeepAlive: true,
			Conn:      c.conn,
		}
		c.conn.SendfileJob = job
		c.sendfilePending = true
		if _, err := sf.Add(job); err != nil {
			return err
		}
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	buf := make([]byte, 32*1024)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			if werr := writeAll(c.conn, buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	return nil
}
