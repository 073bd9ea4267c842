package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/searchktools/socketd/config"
	"github.com/searchktools/socketd/endpoint"
	"github.com/searchktools/socketd/handler/http1"
)

var serveFlags struct {
	address         string
	port            int
	backlog         int
	pollerThreads   int
	pollerSize      int
	acceptorThreads int
	keepAliveSecs   int
	maxKeepAlive    int
	useSendfile     bool
	useComet        bool
	tlsCert         string
	tlsKey          string
	logLevel        string
	webroot         string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the socket endpoint, dispatching to the sample HTTP/1.1 handler",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.address, "address", "0.0.0.0", "listen address")
	f.IntVar(&serveFlags.port, "port", 8080, "listen port")
	f.IntVar(&serveFlags.backlog, "backlog", 1024, "listen(2) backlog")
	f.IntVar(&serveFlags.pollerThreads, "poller-threads", 0, "poller goroutine count (0 = CPU count)")
	f.IntVar(&serveFlags.pollerSize, "poller-size", 1024, "per-poller fd capacity hint")
	f.IntVar(&serveFlags.acceptorThreads, "acceptor-threads", 1, "acceptor goroutine count")
	f.IntVar(&serveFlags.keepAliveSecs, "keep-alive-timeout", 60, "idle keep-alive timeout, seconds")
	f.IntVar(&serveFlags.maxKeepAlive, "max-keep-alive-requests", 100, "requests per connection before forced close (<=0 unlimited)")
	f.BoolVar(&serveFlags.useSendfile, "sendfile", true, "enable the zero-copy sendfile engine")
	f.BoolVar(&serveFlags.useComet, "comet", false, "enable long-poll/comet async dispatch")
	f.StringVar(&serveFlags.tlsCert, "tls-cert", "", "TLS certificate path (enables TLS termination)")
	f.StringVar(&serveFlags.tlsKey, "tls-key", "", "TLS private key path")
	f.StringVar(&serveFlags.logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	f.StringVar(&serveFlags.webroot, "webroot", "", "directory served by GET /files/*path via sendfile")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(serveFlags.logLevel)
	if err != nil {
		return fmt.Errorf("endpointd: %w", err)
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	cfg := config.Default()
	cfg.Address = serveFlags.address
	cfg.Port = serveFlags.port
	cfg.Backlog = serveFlags.backlog
	cfg.PollerThreadCount = serveFlags.pollerThreads
	cfg.PollerSize = serveFlags.pollerSize
	cfg.AcceptorThreadCount = serveFlags.acceptorThreads
	cfg.KeepAliveTimeout = time.Duration(serveFlags.keepAliveSecs) * time.Second
	cfg.MaxKeepAliveRequests = serveFlags.maxKeepAlive
	cfg.UseSendfile = serveFlags.useSendfile
	cfg.UseComet = serveFlags.useComet
	if serveFlags.tlsCert != "" || serveFlags.tlsKey != "" {
		cfg.TLS.Enabled = true
		cfg.TLS.CertificatePath = serveFlags.tlsCert
		cfg.TLS.KeyPath = serveFlags.tlsKey
	}

	var osLimit int
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err == nil {
		osLimit = int(rlim.Cur)
	}
	if err := cfg.Validate(osLimit); err != nil {
		return fmt.Errorf("endpointd: %w", err)
	}

	h := http1.New(http1.Config{
		MaxKeepAliveRequests: cfg.MaxKeepAliveRequests,
		Logger:               entry.WithField("sub", "http1"),
	})
	registerRoutes(h, serveFlags.webroot)

	ep := endpoint.New(cfg, h, entry.WithField("sub", "endpoint"))
	if err := ep.Init(); err != nil {
		return fmt.Errorf("endpointd: init failed: %w", err)
	}
	h.Buffers = ep.BufferPool()
	h.Sendfile = ep.SendfileEngine()

	if err := ep.Start(); err != nil {
		return fmt.Errorf("endpointd: start failed: %w", err)
	}

	addr, port, addrErr := ep.ListenAddr()
	if addrErr == nil {
		entry.WithFields(logrus.Fields{
			"address": addr,
			"port":    port,
			"cpus":    runtime.NumCPU(),
		}).Info("endpointd listening")
	}

	awaitShutdown(ep, entry)
	return nil
}

// awaitShutdown blocks until SIGINT/SIGTERM, then drains the endpoint
// within a bounded deadline.
func awaitShutdown(ep *endpoint.Endpoint, log *logrus.Entry) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ep.Stop(ctx); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
	ep.Destroy()
}
