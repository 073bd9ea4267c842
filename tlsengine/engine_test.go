package tlsengine

import (
	"crypto/tls"
	"testing"
)

func TestProtocolRange(t *testing.T) {
	tests := []struct {
		name      string
		protocols []string
		wantMin   uint16
		wantMax   uint16
		wantOK    bool
	}{
		{"single", []string{"TLSv1.2"}, tls.VersionTLS12, tls.VersionTLS12, true},
		{"span", []string{"TLSv1.2", "TLSv1.3"}, tls.VersionTLS12, tls.VersionTLS13, true},
		{"unordered", []string{"TLSv1.3", "TLSv1.0"}, tls.VersionTLS10, tls.VersionTLS13, true},
		{"unknown skipped", []string{"SSLv3", "TLSv1.3"}, tls.VersionTLS13, tls.VersionTLS13, true},
		{"all unknown", []string{"SSLv3"}, 0, 0, false},
		{"empty", nil, 0, 0, false},
	}
	for _, tt := range tests {
		min, max, ok := protocolRange(tt.protocols)
		if ok != tt.wantOK || min != tt.wantMin || max != tt.wantMax {
			t.Errorf("%s: protocolRange(%v) = (%d, %d, %v), want (%d, %d, %v)",
				tt.name, tt.protocols, min, max, ok, tt.wantMin, tt.wantMax, tt.wantOK)
		}
	}
}

func TestCipherSuiteIDs(t *testing.T) {
	if ids := cipherSuiteIDs(nil); ids != nil {
		t.Errorf("empty config should defer to crypto/tls defaults, got %v", ids)
	}

	known := tls.CipherSuites()[0]
	ids := cipherSuiteIDs([]string{known.Name, "TLS_NOT_A_REAL_SUITE"})
	if len(ids) != 1 || ids[0] != known.ID {
		t.Errorf("cipherSuiteIDs = %v, want [%d]", ids, known.ID)
	}
}
