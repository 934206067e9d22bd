// Package transport implements the connection agent (one pooled HTTP/HTTPS
// transport per client instance) and the TLS material loader that backs it.
//
// It is the lowest layer of the client: it knows how to turn a set of
// connection options into a *http.Client with the right RoundTripper, and
// how to perform a single HTTP round trip. It has no knowledge of URL
// templating, retries, or CouchDB's view response shape — those live one
// layer up, in the couch package.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TLSMaterial holds the certificate/key/CA bytes used to configure mutual
// TLS. Each field may be nil if not in use. Loading raw bytes from
// filenames (with {hostname} substitution) happens once, at client
// construction, via Load.
type TLSMaterial struct {
	Cert []byte
	Key  []byte
	CA   [][]byte
}

// TLSSource describes where a piece of TLS material comes from: literal
// bytes, or a filename (possibly templated with {hostname}) to be read
// synchronously at construction time.
type TLSSource struct {
	Bytes    []byte
	Filename string
}

// HasFilename reports whether s names a file to read, as opposed to
// carrying literal bytes.
func (s TLSSource) HasFilename() bool { return s.Bytes == nil && s.Filename != "" }

// Load resolves cert, key and the ca list into a *TLSMaterial, substituting
// "{hostname}" in any filename with the local host name and reading files
// synchronously. A zero-value TLSSource for cert/key is treated as "not
// configured".
func Load(cert, key TLSSource, ca []TLSSource) (*TLSMaterial, error) {
	m := &TLSMaterial{}
	var err error
	if m.Cert, err = loadOne(cert); err != nil {
		return nil, errors.Wrap(err, "load client certificate")
	}
	if m.Key, err = loadOne(key); err != nil {
		return nil, errors.Wrap(err, "load client key")
	}
	for _, c := range ca {
		b, err := loadOne(c)
		if err != nil {
			return nil, errors.Wrap(err, "load CA certificate")
		}
		if b != nil {
			m.CA = append(m.CA, b)
		}
	}
	return m, nil
}

func loadOne(s TLSSource) ([]byte, error) {
	if s.Bytes != nil {
		return s.Bytes, nil
	}
	if s.Filename == "" {
		return nil, nil
	}
	name := substituteHostname(s.Filename)
	return os.ReadFile(name) // nolint:gosec
}

func substituteHostname(filename string) string {
	if !strings.Contains(filename, "{hostname}") {
		return filename
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return strings.ReplaceAll(filename, "{hostname}", host)
}

// AgentOptions configures the pooled transport built by NewAgent.
type AgentOptions struct {
	TLS                *TLSMaterial
	MaxSockets         int
	RejectUnauthorized bool
	// Scheme is the parsed scheme ("http" or "https") of the client's
	// (first) base URL; it decides whether TLS material is wired at all.
	Scheme string
}

// Agent is the pooled connection carrying one *http.Client per Client
// instance, as required by §4.E: it is created lazily on first use and
// reused for the lifetime of the owning Client.
type Agent struct {
	client *http.Client
}

// NewAgent builds the pooled HTTP(S) transport described by opts. It is
// safe to call once per logical Client and reuse the result across every
// request that Client issues.
func NewAgent(opts AgentOptions) (*Agent, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.MaxSockets > 0 {
		transport.MaxIdleConnsPerHost = opts.MaxSockets
		transport.MaxConnsPerHost = opts.MaxSockets
	}
	if opts.Scheme == "https" {
		tlsConfig, err := buildTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Agent{client: &http.Client{Transport: transport}}, nil
}

func buildTLSConfig(opts AgentOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: !opts.RejectUnauthorized, // nolint:gosec
	}
	if opts.TLS == nil {
		return cfg, nil
	}
	if len(opts.TLS.Cert) > 0 && len(opts.TLS.Key) > 0 {
		cert, err := tls.X509KeyPair(opts.TLS.Cert, opts.TLS.Key)
		if err != nil {
			return nil, errors.Wrap(err, "parse client certificate/key pair")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if len(opts.TLS.CA) > 0 {
		pool := x509.NewCertPool()
		for _, ca := range opts.TLS.CA {
			if !pool.AppendCertsFromPEM(ca) {
				return nil, errors.New("failed to parse CA certificate")
			}
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Do performs req against the pooled client. It never inspects the status
// code: an error here means a transport-level failure (dns, refused,
// timeout, reset, ...), never an HTTP error response.
func (a *Agent) Do(req *http.Request) (*http.Response, error) {
	return a.client.Do(req)
}

// Close releases the agent's idle connections. Called from Client.Quit.
func (a *Agent) Close() {
	if t, ok := a.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// CloseBody drains and closes r, so the underlying connection can be
// reused by the pool. Mirrors couchdb/chttp.CloseBody.
func CloseBody(r io.ReadCloser) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
	_ = r.Close()
}

// IsTimeout reports whether err represents a transport-level timeout,
// as opposed to a canceled context.
func IsTimeout(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsContextErr reports whether err is context.Canceled or
// context.DeadlineExceeded, surfaced by the standard library instead of a
// net.OpError when the caller's context ends first.
func IsContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
