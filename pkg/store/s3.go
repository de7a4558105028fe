package store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// DefaultS3Key is the object key used when none is configured.
const DefaultS3Key = "world/snapshot.bin"

// S3Store persists snapshots as a single S3 object.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	st := store.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "")
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Store creates an S3-backed snapshot store. An empty key selects
// DefaultS3Key.
func NewS3Store(client *s3.Client, bucket, key string) *S3Store {
	if key == "" {
		key = DefaultS3Key
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

// Save uploads the encoded snapshot, replacing the previous object.
func (s *S3Store) Save(ctx context.Context, snap *protocol.Snapshot) error {
	data := protocol.EncodeSnapshot(snap)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}

// Load downloads and decodes the snapshot object.
func (s *S3Store) Load(ctx context.Context) (*protocol.Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, protocol.MaxAllocation+1))
	if err != nil {
		return nil, err
	}
	if len(data) > protocol.MaxAllocation {
		return nil, protocol.ErrAllocationTooLarge
	}
	return protocol.DecodeSnapshot(data)
}

// Delete removes the snapshot object.
func (s *S3Store) Delete(ctx context.Context) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	return err
}

// Close is a no-op; the S3 client is owned by the caller.
func (s *S3Store) Close() error {
	return nil
}
