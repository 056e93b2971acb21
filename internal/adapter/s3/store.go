// Package s3 implements a sha256-addressed evidence store on Amazon S3 or an
// S3-compatible service (MinIO, LocalStack).
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
)

// IdentifierPrefix marks identifiers served by blob stores.
const IdentifierPrefix = "sha256:"

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store keeps evidence blobs under <prefix><sha256 hex>.blob.
type Store struct {
	client   objectAPI
	bucket   string
	prefix   string
	maxBytes int64
}

var _ evidencestore.Store = (*Store)(nil)

// Config holds configuration for Store.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string
	MaxBytes int64
}

// New creates an S3-backed evidence store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	return newWithClient(client, cfg), nil
}

func newWithClient(client objectAPI, cfg Config) *Store {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, maxBytes: maxBytes}
}

// Put stores data and returns its sha256 identifier. Writing existing content is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	key := s.objectKey(hexSum)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return IdentifierPrefix + hexSum, nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", domain.Wrap(domain.KindTransient, "s3 put", err)
	}
	return IdentifierPrefix + hexSum, nil
}

// Fetch reads the blob behind a sha256 identifier and checks its digest.
func (s *Store) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	hexSum, err := ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(hexSum)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3 get %s: %w", identifier, domain.ErrNotFound)
		}
		return nil, domain.Wrap(domain.KindTransient, "s3 get "+identifier, err)
	}
	defer func() { _ = out.Body.Close() }()

	return readVerified(out.Body, hexSum, s.maxBytes)
}

func (s *Store) objectKey(hexSum string) string {
	return s.prefix + hexSum + ".blob"
}

// ParseIdentifier returns the hex digest of a "sha256:<64 hex>" identifier.
func ParseIdentifier(identifier string) (string, error) {
	if len(identifier) != len(IdentifierPrefix)+64 || identifier[:len(IdentifierPrefix)] != IdentifierPrefix {
		return "", fmt.Errorf("%w: invalid blob identifier %q", domain.ErrInvalidInput, identifier)
	}
	raw := identifier[len(IdentifierPrefix):]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: invalid blob identifier %q", domain.ErrInvalidInput, identifier)
	}
	return raw, nil
}

// readVerified reads at most maxBytes and checks the content digest.
func readVerified(r io.Reader, hexSum string, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "read blob", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("blob sha256:%s exceeds %d bytes", hexSum, maxBytes)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hexSum {
		return nil, fmt.Errorf("blob sha256:%s failed digest check", hexSum)
	}
	return data, nil
}
