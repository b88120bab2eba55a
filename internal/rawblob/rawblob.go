// Package rawblob stores raw capture payloads (spec supplement: raw
// intake from CLI/browser-extension/MCP/email sources, per
// original_source/api/app/ingest_routes.py) in S3-compatible object
// storage. Grounded on the teacher's go.mod aws-sdk-go-v2/service/s3
// dependency; no example repo's code directly uses it, so the client
// wiring here follows the SDK's own documented v2 config-loading
// pattern.
package rawblob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thecontextcache/contextcache/internal/apierr"
)

// Store persists and retrieves raw capture payload blobs.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds a Store using the default AWS credential chain, region
// overridden by the region argument.
func New(ctx context.Context, bucket, region, prefix string) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("rawblob: load aws config: %w", err)
	}
	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Put stores a raw capture payload under a key derived from the
// project and capture IDs.
func (s *Store) Put(ctx context.Context, projectID, captureID string, payload []byte) (string, error) {
	key := s.keyFor(projectID, captureID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return "", apierr.Unavailable("s3", err)
	}
	return key, nil
}

// Get retrieves a previously stored raw capture payload.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apierr.Unavailable("s3", err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, apierr.Unavailable("s3", err)
	}
	return buf.Bytes(), nil
}

func (s *Store) keyFor(projectID, captureID string) string {
	return fmt.Sprintf("%s%s/%s-%d", s.prefix, projectID, captureID, time.Now().UTC().Unix())
}
