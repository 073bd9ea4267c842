package main

import (
	"path/filepath"
	"strings"

	"github.com/searchktools/socketd/handler/http1"
)

// registerRoutes wires the sample routes used to exercise the
// endpoint's keep-alive, sendfile, and long-poll paths end to end.
// webroot, if set, backs GET /files/*path.
func registerRoutes(h *http1.Handler, webroot string) {
	r := h.Router()

	r.Add("GET", "/", func(ctx *http1.Context) {
		ctx.String(200, "endpointd: connection-multiplexing socket endpoint")
	})

	r.Add("GET", "/healthz", func(ctx *http1.Context) {
		ctx.Success(map[string]string{"status": "ok"})
	})

	r.Add("GET", "/echo/:name", func(ctx *http1.Context) {
		ctx.Success(map[string]string{"name": ctx.Param("name")})
	})

	// /long demonstrates the StateLong disposition: the route
	// marks the Connection long-parked and returns without writing a
	// response; resumption happens later through Handler.AsyncDispatch.
	r.Add("GET", "/long", func(ctx *http1.Context) {
		ctx.Long()
	})

	if webroot != "" {
		r.Add("GET", "/files/*path", func(ctx *http1.Context) {
			rel := ctx.Param("path")
			full := filepath.Join(webroot, filepath.Clean("/"+rel))
			if !strings.HasPrefix(full, filepath.Clean(webroot)+string(filepath.Separator)) && full != filepath.Clean(webroot) {
				ctx.String(403, "forbidden")
				return
			}
			_ = ctx.ServeFile(full, h.Sendfile)
		})
	}
}
