// Package couch implements a CouchDB HTTP client: URL templating against
// per-call and per-client scopes, a request pipeline with round-robin base
// URLs and retries, a streaming view-row parser, and a design-document
// installer that lazily provisions views on first use.
//
// A Client is constructed once per logical database binding with New, and
// is safe for concurrent use by multiple goroutines.
package couch // import "github.com/kivahq/couchclient"
