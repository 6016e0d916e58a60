// Package media persists fetched media to object storage. Uploads are
// opportunistic; callers treat failures as log-worthy, never job-fatal.
package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Store uploads media bytes to an S3 bucket and returns public URLs
type Store struct {
	client  s3iface.S3API
	bucket  string
	baseURL string
	logger  arbor.ILogger
}

// NewStore creates an S3-backed media store. Credentials come from the
// standard AWS environment/instance chain.
func NewStore(config *common.MediaConfig, logger arbor.ILogger) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("media bucket is required")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", config.Bucket, config.Region)
	}

	return &Store{
		client:  s3.New(sess),
		bucket:  config.Bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}, nil
}

var _ interfaces.MediaStore = (*Store)(nil)

// Upload writes data under key and returns the public URL
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	url := s.baseURL + "/" + key
	s.logger.Debug().
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Media uploaded")
	return url, nil
}
