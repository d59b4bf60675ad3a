package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// Writer uploads objects to the configured bucket. Uploads go through the
// manager uploader so large archives are split into multipart uploads
// transparently.
type Writer struct {
	client   *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer.
func NewWriter(client *Client) *Writer {
	return &Writer{
		client:   client,
		uploader: manager.NewUploader(client.API()),
	}
}

// Put uploads body under key with the given content type.
func (w *Writer) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := w.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(w.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", key, err)
	}
	return nil
}
