// Package storage archives sync results to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	appintegration "github.com/churchsync/chms-integration/internal/application/integration"
	"github.com/churchsync/chms-integration/internal/domain/integration"
	"github.com/churchsync/chms-integration/internal/infrastructure/config"
)

// ObjectPutter is the slice of the S3 client the archive uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ appintegration.SyncArchive = (*S3SyncArchive)(nil)

// S3SyncArchive writes each successful capability result as one JSON object.
// It works with any S3-compatible backend (AWS S3, MinIO, RustFS).
type S3SyncArchive struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// S3SyncArchiveOption is a functional option for configuring S3SyncArchive
type S3SyncArchiveOption func(*S3SyncArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3SyncArchiveOption {
	return func(a *S3SyncArchive) {
		a.logger = logger
	}
}

// WithClock overrides the time source used in object keys
func WithClock(now func() time.Time) S3SyncArchiveOption {
	return func(a *S3SyncArchive) {
		a.now = now
	}
}

// NewS3SyncArchive builds an S3 client from configuration. Without static
// keys the default AWS credential chain is used.
func NewS3SyncArchive(ctx context.Context, cfg config.ArchiveConfig, opts ...S3SyncArchiveOption) (*S3SyncArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("archive access key and secret key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewS3SyncArchiveWithClient(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// NewS3SyncArchiveWithClient wraps an existing client
func NewS3SyncArchiveWithClient(client ObjectPutter, bucket, prefix string, opts ...S3SyncArchiveOption) *S3SyncArchive {
	a := &S3SyncArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// archiveDocument is the stored object body
type archiveDocument struct {
	IntegrationID  string                  `json:"integrationId"`
	OrganizationID string                  `json:"organizationId"`
	ProviderID     string                  `json:"providerId"`
	ArchivedAt     time.Time               `json:"archivedAt"`
	Result         *integration.SyncResult `json:"result"`
}

// Archive uploads one capability result
func (a *S3SyncArchive) Archive(ctx context.Context, i *integration.Integration, result *integration.SyncResult) error {
	if result == nil {
		return errors.New("sync result is required")
	}
	now := a.now().UTC()

	body, err := json.Marshal(archiveDocument{
		IntegrationID:  i.ID.String(),
		OrganizationID: i.OrganizationID,
		ProviderID:     i.ProviderID,
		ArchivedAt:     now,
		Result:         result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sync result: %w", err)
	}

	key := a.ObjectKey(i, result.Capability, now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload sync result: %w", err)
	}

	a.logger.Debug("Archived sync result",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("records", result.Count),
	)
	return nil
}

// ObjectKey returns prefix/organization/integration/capability/timestamp.json
func (a *S3SyncArchive) ObjectKey(i *integration.Integration, c integration.Capability, at time.Time) string {
	name := at.UTC().Format("20060102T150405.000000000Z") + ".json"
	return path.Join(a.prefix, i.OrganizationID, i.ID.String(), c.String(), name)
}

// Bucket returns the bucket name
func (a *S3SyncArchive) Bucket() string {
	return a.bucket
}
