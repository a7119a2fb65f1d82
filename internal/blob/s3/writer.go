package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager. It equals the S3 minimum part size (5 MiB).
const multipartThreshold = 5 * 1024 * 1024

// Writer uploads archive objects to the client's configured bucket.
type Writer struct {
	s3     *s3.Client
	bucket string
}

// NewWriter creates a Writer over the given client.
func NewWriter(c *Client) *Writer {
	return &Writer{
		s3:     c.s3,
		bucket: c.bucket,
	}
}

// PutJSON marshals v and uploads it under key with a JSON content type.
// Payloads past the multipart threshold (large audit batches) go through
// the upload manager, which splits them into concurrently uploaded parts.
func (w *Writer) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("s3blob: encoding %s: %w", key, err)
	}
	if len(data) >= multipartThreshold {
		return w.putMultipart(ctx, key, data)
	}
	return w.put(ctx, key, data)
}

func (w *Writer) put(ctx context.Context, key string, data []byte) error {
	_, err := w.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

func (w *Writer) putMultipart(ctx context.Context, key string, data []byte) error {
	uploader := manager.NewUploader(w.s3, func(u *manager.Uploader) {
		u.PartSize = multipartThreshold
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}
