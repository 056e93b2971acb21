//go:build gcp

// Package gcs implements a sha256-addressed evidence store on Google Cloud Storage.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/s3"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
)

// Store keeps evidence blobs under <prefix><sha256 hex>.blob.
type Store struct {
	client   *storage.Client
	bucket   string
	prefix   string
	maxBytes int64
}

var _ evidencestore.Store = (*Store)(nil)

// Config holds configuration for Store.
type Config struct {
	Bucket   string
	Prefix   string
	MaxBytes int64
}

// New creates a GCS-backed evidence store using application default credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, maxBytes: maxBytes}, nil
}

// Put stores data and returns its sha256 identifier.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	obj := s.client.Bucket(s.bucket).Object(s.prefix + hexSum + ".blob")

	if _, err := obj.Attrs(ctx); err == nil {
		return s3.IdentifierPrefix + hexSum, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", domain.Wrap(domain.KindTransient, "gcs write", err)
	}
	if err := w.Close(); err != nil {
		return "", domain.Wrap(domain.KindTransient, "gcs close", err)
	}
	return s3.IdentifierPrefix + hexSum, nil
}

// Fetch reads the blob behind a sha256 identifier and checks its digest.
func (s *Store) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	hexSum, err := s3.ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(s.bucket).Object(s.prefix + hexSum + ".blob").NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs get %s: %w", identifier, domain.ErrNotFound)
		}
		return nil, domain.Wrap(domain.KindTransient, "gcs get "+identifier, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "gcs read", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("blob %s exceeds %d bytes", identifier, s.maxBytes)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hexSum {
		return nil, fmt.Errorf("blob %s failed digest check", identifier)
	}
	return data, nil
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}
