//go:build !gcp

// Package gcs implements a sha256-addressed evidence store on Google Cloud
// Storage. Build with -tags gcp to enable it.
package gcs

import (
	"context"
	"errors"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
)

// Enabled reports whether this binary was built with GCS support.
const Enabled = false

// Config holds configuration for Store.
type Config struct {
	Bucket   string
	Prefix   string
	MaxBytes int64
}

// New fails in builds without the gcp tag.
func New(context.Context, Config) (evidencestore.Store, error) {
	return nil, errors.New("gcs: evidence store requires a build with -tags gcp")
}
