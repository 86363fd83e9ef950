// Package reliability implements the optional off-site backup of the
// local SQLite store: a daily snapshot uploaded to an S3-compatible
// bucket, so a Raspberry-Pi-class host losing its SD card doesn't lose
// sensor/health history with it.
package reliability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Client wraps the AWS SDK for upload to any S3-compatible endpoint
// (AWS S3 itself, or a compatible provider reachable at a custom
// endpoint).
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// Config configures NewS3Client. Endpoint is optional; leave empty to use
// AWS's default region-based endpoint resolution.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// NewS3Client builds a client for cfg.Bucket.
func NewS3Client(ctx context.Context, cfg Config, log zerolog.Logger) (*S3Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("reliability: incomplete S3 credentials")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		config.WithRegion(region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true, SigningRegion: region}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("reliability: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 2
	})

	return &S3Client{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		log:      log.With().Str("service", "reliability").Logger(),
	}, nil
}

// Upload streams reader to key under the configured bucket.
func (c *S3Client) Upload(ctx context.Context, key string, reader io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	c.log.Info().Str("key", key).Msg("uploading database backup")
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("reliability: upload %s: %w", key, err)
	}
	c.log.Info().Str("key", key).Msg("database backup uploaded")
	return nil
}
