package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client defines the S3 operations used by S3Sink.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes every mutation to <prefix>/<locationKey>.json, overwriting
// the previous one, for catalogs that ingest from a bucket.
type S3Sink struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Sink creates an S3Sink.
func NewS3Sink(client S3Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key used for locationKey.
func (s *S3Sink) Key(locationKey string) string {
	return path.Join(s.prefix, locationKey+".json")
}

// ApplyMutation implements Sink.
func (s *S3Sink) ApplyMutation(ctx context.Context, m *Mutation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("s3 sink: marshal mutation: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(m.LocationKey)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put object: %w", err)
	}
	return nil
}

var _ S3Client = (*s3.Client)(nil)
