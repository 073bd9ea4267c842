// Package tlsengine is the default socket.TLSEngine implementation,
// wrapping crypto/tls so the endpoint core never touches cryptographic
// primitives directly -- it only ever drives the handshake/wrap/unwrap
// contract.
package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"time"

	"github.com/searchktools/socketd/config"
	"github.com/searchktools/socketd/socket"
)

// Engine drives a server-side TLS handshake and post-handshake
// record wrap/unwrap over a Connection's raw fd, via a real net.Conn the
// caller supplies (e.g. one built from the accepted socket fd).
type Engine struct {
	conn      net.Conn
	tlsConn   *tls.Conn
	cfg       *tls.Config
	handshook bool
}

// New wraps a raw net.Conn with the server TLS configuration derived
// from config.TLS.
func New(raw net.Conn, tlsCfg *tls.Config) *Engine {
	return &Engine{
		conn:    raw,
		cfg:     tlsCfg,
		tlsConn: tls.Server(raw, tlsCfg),
	}
}

// Handshake implements socket.TLSEngine. Each call sets an already-elapsed
// deadline on the raw net.Conn, so a Read/Write that would block fails at
// once with a net.Error whose Timeout() is true; the engine maps that to
// the need-I/O bitmask the poller re-arms on.
func (e *Engine) Handshake(readable, writable bool) (int, error) {
	if e.handshook {
		return 0, nil
	}
	// An already-elapsed deadline turns a would-block read/write into an
	// immediate net.Error.Timeout() rather than parking this worker
	// goroutine until the peer sends more bytes -- required since the
	// underlying fd only becomes readable/writable again via the
	// poller's own readiness notification, not this goroutine blocking
	// on it.
	_ = e.conn.SetDeadline(time.Now())
	err := e.tlsConn.Handshake()
	if err == nil {
		e.handshook = true
		return 0, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Underlying nonblocking fd had nothing ready; ask for both,
		// since crypto/tls does not expose which direction it blocked on.
		return int(socket.OpRead | socket.OpWrite), nil
	}
	return -1, err
}

// Wrap implements socket.TLSEngine: encrypts src for transmission.
func (e *Engine) Wrap(src []byte) (int, int, socket.WrapStatus, error) {
	_ = e.conn.SetWriteDeadline(time.Now())
	n, err := e.tlsConn.Write(src)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, 0, socket.WrapNeedWrite, nil
		}
		return n, 0, socket.WrapClosed, err
	}
	return n, n, socket.WrapOK, nil
}

// Unwrap implements socket.TLSEngine: decrypts ciphertext into src's
// backing capacity, returning plaintext length produced.
func (e *Engine) Unwrap(src []byte) (int, int, socket.WrapStatus, error) {
	_ = e.conn.SetReadDeadline(time.Now())
	n, err := e.tlsConn.Read(src)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, 0, socket.WrapNeedRead, nil
		}
		return n, n, socket.WrapClosed, err
	}
	return n, n, socket.WrapOK, nil
}

// Close implements socket.TLSEngine.
func (e *Engine) Close() error {
	return e.tlsConn.Close()
}

// BuildTLSConfig translates config.TLS into a *tls.Config, loading the
// certificate/key pair and client-CA pool as configured.
func BuildTLSConfig(t config.TLS) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(t.CertificatePath, t.KeyPath)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	switch t.VerifyMode {
	case config.VerifyNone:
		cfg.ClientAuth = tls.NoClientCert
	case config.VerifyOptional, config.VerifyOptionalNoCA:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case config.VerifyRequire:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if t.CAPath != "" {
		pem, err := os.ReadFile(t.CAPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("tlsengine: no certificates found in CA file")
		}
		cfg.ClientCAs = pool
	}
	if min, max, ok := protocolRange(t.Protocols); ok {
		cfg.MinVersion = min
		cfg.MaxVersion = max
	}
	cfg.CipherSuites = cipherSuiteIDs(t.CipherSuites)
	return cfg, nil
}

// protocolRange maps configured protocol names onto crypto/tls version
// bounds. Unknown names are skipped; an empty or unrecognized list
// leaves crypto/tls defaults in place.
func protocolRange(protocols []string) (min, max uint16, ok bool) {
	versions := map[string]uint16{
		"TLSv1.0": tls.VersionTLS10,
		"TLSv1.1": tls.VersionTLS11,
		"TLSv1.2": tls.VersionTLS12,
		"TLSv1.3": tls.VersionTLS13,
	}
	for _, name := range protocols {
		v, known := versions[name]
		if !known {
			continue
		}
		if !ok || v < min {
			min = v
		}
		if v > max {
			max = v
		}
		ok = true
	}
	return min, max, ok
}

// cipherSuiteIDs resolves configured cipher-suite names against the
// suites crypto/tls actually implements. Unknown names are skipped; an
// empty result means "use crypto/tls defaults".
func cipherSuiteIDs(names []string) []uint16 {
	if len(names) == 0 {
		return nil
	}
	byName := make(map[string]uint16)
	for _, cs := range tls.CipherSuites() {
		byName[cs.Name] = cs.ID
	}
	var ids []uint16
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
