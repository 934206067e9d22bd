// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package couch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kivahq/couchclient/internal/expr"
	"github.com/kivahq/couchclient/transport"
)

// Config is the configuration record a Client is constructed from, per
// §6. Placeholders holds arbitrary user-supplied placeholder-scope
// bindings (§4.A); a plain value is a constant, a Func is evaluated per
// request.
type Config struct {
	URL []string

	DesignDocument *DesignDocument
	TrustViewETags *bool // nil means "default true"
	NumRetries     int

	MaxSockets int
	Cert       transport.TLSSource
	Key        transport.TLSSource
	CA         []transport.TLSSource
	// RejectUnauthorized defaults to true (verify the server's TLS
	// certificate) when nil, mirroring TrustViewETags's nil-means-default
	// convention — a plain bool would make Go's zero value silently
	// disable certificate verification for any caller who didn't set it.
	RejectUnauthorized *bool

	Placeholders map[string]Resolver
}

// Client is the singleton-per-database binding described in §3. It is
// safe for concurrent use by multiple goroutines: the only mutable state
// it carries (the round-robin base URL cursor) is protected by a mutex.
type Client struct {
	mu     sync.Mutex
	urls   []string
	cursor int
	scheme string

	numRetries     int
	designDocument *DesignDocument
	fingerprint    string
	trustViewETags bool
	placeholders   map[string]Resolver

	exprCache *expr.Compiled

	agentMu   sync.Mutex
	agent     *transport.Agent
	tls       *transport.TLSMaterial
	agentOpts transport.AgentOptions

	listeners listeners
}

// New constructs a Client from cfg. Construction fails if URL is empty,
// if a Placeholders key collides with a reserved method/property name
// (§3 "Lifecycle"), or if a base URL holds an expression placeholder
// whose syntax the expression evaluator does not support.
func New(cfg Config) (*Client, error) {
	if len(cfg.URL) == 0 {
		return nil, errors.New("couch: config.URL is required")
	}
	for name := range cfg.Placeholders {
		if reservedNames[name] {
			return nil, fmt.Errorf("couch: placeholder %q collides with a reserved Client name", name)
		}
	}

	urls := make([]string, len(cfg.URL))
	for i, u := range cfg.URL {
		urls[i] = strings.TrimRight(u, "/")
	}
	for _, u := range urls {
		for _, m := range placeholderRE.FindAllStringSubmatch(u, -1) {
			if simpleNameRE.MatchString(m[1]) {
				continue
			}
			if _, err := expr.Parse(m[1]); err != nil {
				return nil, errors.Wrapf(err, "couch: base URL %q", u)
			}
		}
	}

	parsed, err := url.Parse(urls[0])
	if err != nil {
		return nil, errors.Wrapf(err, "couch: parse base URL %q", urls[0])
	}

	tlsMaterial, err := transport.Load(cfg.Cert, cfg.Key, cfg.CA)
	if err != nil {
		return nil, err
	}

	rejectUnauthorized := true
	if cfg.RejectUnauthorized != nil {
		rejectUnauthorized = *cfg.RejectUnauthorized
	}

	c := &Client{
		urls:           urls,
		scheme:         parsed.Scheme,
		numRetries:     cfg.NumRetries,
		designDocument: cfg.DesignDocument,
		trustViewETags: true,
		placeholders:   cfg.Placeholders,
		exprCache:      expr.NewCompiled(),
		tls:            tlsMaterial,
		agentOpts: transport.AgentOptions{
			TLS:                tlsMaterial,
			MaxSockets:         cfg.MaxSockets,
			RejectUnauthorized: rejectUnauthorized,
			Scheme:             parsed.Scheme,
		},
	}
	if cfg.TrustViewETags != nil {
		c.trustViewETags = *cfg.TrustViewETags
	}
	if cfg.DesignDocument != nil {
		fp, err := cfg.DesignDocument.Fingerprint()
		if err != nil {
			return nil, err
		}
		c.fingerprint = fp
	}
	return c, nil
}

// Fingerprint returns the client's design-document fingerprint, or "" if
// no DesignDocument was configured.
func (c *Client) Fingerprint() string { return c.fingerprint }

// nextBaseURL returns the base URL for the next outbound request and
// advances the round-robin cursor, per §4.F step 1 and §5's "Shared
// state" rule: rotation and read are atomic.
func (c *Client) nextBaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.urls[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.urls)
	return u
}

// agentFor lazily creates the client's single pooled connection agent
// (§4.E), reused for the client's lifetime.
func (c *Client) agentFor() (*transport.Agent, error) {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	if c.agent != nil {
		return c.agent, nil
	}
	agent, err := transport.NewAgent(c.agentOpts)
	if err != nil {
		return nil, err
	}
	c.agent = agent
	return agent, nil
}

// Quit releases the client's connection agent, per §4.I.
func (c *Client) Quit() {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	if c.agent != nil {
		c.agent.Close()
		c.agent = nil
	}
}

// Init PUTs the base URL to create the database, ignoring a 412
// PreconditionFailed (database already exists), per §4.I.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.Do(ctx, &RequestOptions{Method: http.MethodPut})
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.PreconditionFailed() {
		return nil
	}
	return err
}

// Ping issues a HEAD / through the normal request pipeline — so it
// exercises retries and round-robin like any other call — and reports
// whether the server is reachable. It is a supplemental convenience
// (SPEC_FULL §10), not part of the wire surface in spec.md §6.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, &RequestOptions{Method: http.MethodHead})
	return err
}

// QueryTemporaryView posts an ad-hoc map/reduce to _temp_view, per §4.I.
// view.Reduce may be nil.
func (c *Client) QueryTemporaryView(ctx context.Context, view View, ro *RequestOptions) (*Response, error) {
	if ro == nil {
		ro = &RequestOptions{}
	}
	call := *ro
	call.Method = http.MethodPost
	if call.Path == "" {
		call.Path = "_temp_view"
	}
	body := map[string]any{
		"language": "javascript",
		"map":      view.Map,
	}
	if view.Reduce != nil {
		body["reduce"] = *view.Reduce
	}
	call.Body = body
	return c.Do(ctx, &call)
}
