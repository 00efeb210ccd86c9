package reports

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"jobboard/internal/types"
)

// S3API is the subset of the S3 client S3Store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes archives to one bucket.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Store creates an S3Store.
func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put uploads body at key and returns its s3:// URI.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
		Metadata:        map[string]string{"job-id": types.GetJobID(ctx)},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to upload %s", key), err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// LogStore discards archives after logging them. Used when REPORTS_BUCKET
// is unset.
type LogStore struct {
	logger *slog.Logger
}

// NewLogStore creates a LogStore.
func NewLogStore(logger *slog.Logger) *LogStore {
	return &LogStore{logger: logger}
}

func (s *LogStore) Put(ctx context.Context, key string, body []byte) (string, error) {
	s.logger.InfoContext(ctx, "stub: report archive discarded", "key", key, "bytes", len(body))
	return "log://" + key, nil
}
