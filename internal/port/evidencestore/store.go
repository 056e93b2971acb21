// Package evidencestore defines the port to content-addressed evidence storage.
package evidencestore

import "context"

// Fetcher retrieves the content behind an identifier. Failures are expected
// and handled by the caller.
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) ([]byte, error)
}

// Store is a Fetcher that can also publish content, returning the identifier
// under which it can later be fetched.
type Store interface {
	Fetcher
	Put(ctx context.Context, data []byte) (string, error)
}
