package media

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Storage keeps images in an S3 bucket under prefix
type S3Storage struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	baseURL  string
}

// NewS3Storage builds a storage from the default AWS credential chain.
// When baseURL is empty the upload location reported by S3 is used as the
// image reference.
func NewS3Storage(region, bucket, prefix, baseURL string) (*S3Storage, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return &S3Storage{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   prefix,
		baseURL:  baseURL,
	}, nil
}

func (s *S3Storage) key(name string) string {
	return join(s.prefix, name)
}

// Save uploads r and returns its public reference
func (s *S3Storage) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	name := objectName(filename)

	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	if s.baseURL != "" {
		return join(s.baseURL, name), nil
	}
	return out.Location, nil
}

// Delete removes a previously uploaded image
func (s *S3Storage) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(nameFromRef(ref))),
	})
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
