// Package transport provides outbound HTTP transports for platform profile fetches.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Some platforms host their profiles behind CDNs that rate limit clients by
// TLS fingerprint (JA3), and Go's default ClientHello is easy to single out.
// The fingerprint transport dials with uTLS so the handshake matches a
// browser, lets ALPN pick h2 or http/1.1, and frames HTTP/2 with x/net/http2.

// Fingerprint names accepted by NewFingerprintTransport.
const (
	FingerprintChrome  = "chrome"
	FingerprintFirefox = "firefox"
	FingerprintSafari  = "safari"
)

// ParseFingerprint maps a configured name to a uTLS ClientHello.
// An empty name or "off" reports false.
func ParseFingerprint(name string) (utls.ClientHelloID, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "off", "none":
		return utls.ClientHelloID{}, false, nil
	case FingerprintChrome:
		return utls.HelloChrome_Auto, true, nil
	case FingerprintFirefox:
		return utls.HelloFirefox_Auto, true, nil
	case FingerprintSafari:
		return utls.HelloSafari_Auto, true, nil
	default:
		return utls.ClientHelloID{}, false, fmt.Errorf("unknown TLS fingerprint %q", name)
	}
}

// NewFingerprintTransport creates an http.RoundTripper whose TLS handshakes
// present the given browser fingerprint. HTTP/2 is used when the server
// negotiates it, HTTP/1.1 otherwise. Plain http URLs use HTTP/1.1.
func NewFingerprintTransport(hello utls.ClientHelloID, timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialFingerprintTLS(ctx, dialer, hello, network, addr)
	}

	return &fingerprintTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialContext:         dialer.DialContext,
			DialTLSContext:      dial,
			TLSHandshakeTimeout: timeout,
			ForceAttemptHTTP2:   false,
		},
	}
}

// fingerprintTransport routes https requests through HTTP/2 first.
type fingerprintTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip implements http.RoundTripper.
// Falls back to HTTP/1.1 when the server does not speak h2.
func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, gerr
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialFingerprintTLS establishes a TLS connection with the given ClientHello.
func dialFingerprintTLS(ctx context.Context, dialer *net.Dialer, hello utls.ClientHelloID, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, hello)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
