package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lyzr/convertd/common/config"
	"github.com/lyzr/convertd/common/logger"
)

// S3Store keeps blobs as objects in a single bucket, keyed by ref
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      *logger.Logger
}

// NewS3Store creates an S3-backed blob store. Credentials fall back to the
// default AWS chain when not set in config.
func NewS3Store(ctx context.Context, cfg config.BlobConfig, log *logger.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	} else {
		log.Warn("S3 blob store using default credential chain")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})

	log.Info("S3 blob store ready", "region", cfg.S3Region, "bucket", cfg.S3Bucket)

	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   cfg.S3Bucket,
		log:      log,
	}, nil
}

// Put streams the reader to the bucket
func (s *S3Store) Put(ctx context.Context, ref string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", ref, err)
	}
	s.log.Debug("blob uploaded", "ref", ref)
	return nil
}

// Get returns the object body; caller must close it
func (s *S3Store) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blob %s: %w", ref, err)
	}
	return out.Body, nil
}

// Delete removes the object; S3 DeleteObject is already idempotent
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	s.log.Debug("blob deleted", "ref", ref)
	return nil
}

func (s *S3Store) key(ref string) string {
	return path.Join("sessions", ref)
}
