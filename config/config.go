// Package config is the endpoint's typed configuration surface: a plain
// struct with a fully-populated defaults constructor, wired to
// github.com/spf13/cobra command flags at the CLI boundary in cmd/endpointd.
package config

import (
	"fmt"
	"time"
)

// VerifyMode is the TLS client-certificate verification mode.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyOptional
	VerifyRequire
	VerifyOptionalNoCA
)

// TLS bundles the certificate material and verification policy.
type TLS struct {
	Enabled          bool
	CertificatePath  string
	KeyPath          string
	ChainPath        string
	CAPath           string
	RevocationPath   string
	CipherSuites     []string
	Protocols        []string
	VerifyMode       VerifyMode
	VerifyDepth      int
}

// Config is the full recognized configuration surface of the endpoint.
type Config struct {
	Address string
	Port    int
	Backlog int

	AcceptorThreadCount int
	PollerThreadCount   int
	PollerSize          int

	SendfileSize        int
	SendfileThreadCount int

	KeepAliveTimeout     time.Duration
	SoTimeout            time.Duration
	TimeoutInterval      time.Duration
	SelectorTimeout      time.Duration
	PollTime             time.Duration // microsecond-resolution nonblocking poll budget
	MaxKeepAliveRequests int

	TCPNoDelay bool
	SoLingerOn bool
	SoLinger   time.Duration
	DeferAccept bool

	UseSendfile bool
	UseComet    bool

	TLS TLS
}

// Default returns the configuration baseline; the CLI layer overrides
// it flag by flag.
func Default() *Config {
	return &Config{
		Address: "0.0.0.0",
		Port:    8080,
		Backlog: 1024,

		AcceptorThreadCount: 1,
		PollerThreadCount:   0, // 0 => CPU count, resolved in Validate
		PollerSize:          1024,

		SendfileSize:        0,
		SendfileThreadCount: 1,

		KeepAliveTimeout:     60 * time.Second,
		SoTimeout:            20 * time.Second,
		TimeoutInterval:      1 * time.Second,
		SelectorTimeout:      1 * time.Second,
		PollTime:             500 * time.Microsecond,
		MaxKeepAliveRequests: 100,

		TCPNoDelay:  true,
		SoLingerOn:  false,
		SoLinger:    0,
		DeferAccept: false,

		UseSendfile: true,
		UseComet:    false,
	}
}

// Validate normalizes zero-valued fields and applies the pollerSize
// degrade chain: capped at the OS limit, falling back to 1024, then 62.
// osLimit is the resource limit the caller discovered (e.g.
// RLIMIT_NOFILE); callers that can't determine it pass 0 to skip the
// OS-limit cap.
func (c *Config) Validate(osLimit int) error {
	// Port 0 is allowed: the OS assigns an ephemeral port, reported back
	// through the endpoint's ListenAddr.
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Backlog <= 0 {
		c.Backlog = 1024
	}
	if c.AcceptorThreadCount <= 0 {
		c.AcceptorThreadCount = 1
	}
	if c.PollerSize <= 0 {
		c.PollerSize = 1024
	}
	if osLimit > 0 && c.PollerSize > osLimit {
		c.PollerSize = 1024
		if osLimit < 1024 {
			c.PollerSize = 62
		}
	}
	if c.TimeoutInterval <= 0 {
		c.TimeoutInterval = time.Second
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = time.Second
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 60 * time.Second
	}
	if c.TLS.Enabled {
		if c.TLS.CertificatePath == "" || c.TLS.KeyPath == "" {
			return fmt.Errorf("config: sslEnabled requires certificate and key paths")
		}
	}
	return nil
}

// PollerThreads resolves PollerThreadCount against the runtime's CPU
// count when left at its zero-value default.
func (c *Config) PollerThreads(numCPU int) int {
	if c.PollerThreadCount > 0 {
		return c.PollerThreadCount
	}
	if numCPU <= 0 {
		return 1
	}
	return numCPU
}
