package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

var tracer = otel.Tracer("github.com/platinummonkey/auditcore/pkg/storage/artifacts")

// MaxPresignExpiry is the longest lifetime S3 accepts for a presigned URL
const MaxPresignExpiry = 7 * 24 * time.Hour

// S3Config configures the S3 artifact store
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // for MinIO or other S3 compatible services
	AccessKey      string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
	// CreateBucket creates the bucket on startup when it does not exist
	CreateBucket bool
}

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Presigner signs download requests
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store writes export artifacts to S3 and hands out presigned download URLs
type S3Store struct {
	client    S3API
	presigner Presigner
	bucket    string
	prefix    string
	now       func() time.Time
}

// NewS3Store loads AWS configuration and creates the store
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Use static credentials (for MinIO or AWS with explicit keys)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	store := NewS3StoreWithClient(client, s3.NewPresignClient(client), cfg.Bucket, cfg.Prefix)
	if cfg.CreateBucket {
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewS3StoreWithClient creates a store on an existing client
func NewS3StoreWithClient(client S3API, presigner Presigner, bucket, prefix string) *S3Store {
	return &S3Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		prefix:    prefix,
		now:       time.Now,
	}
}

// Put implements audit.ArtifactStore. The object carries an Expires header and
// the returned URL is presigned until expiresAt, capped at MaxPresignExpiry.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte, expiresAt time.Time) (url string, err error) {
	objectKey := path.Join(s.prefix, key)
	ctx, span := tracer.Start(ctx, "S3.PutArtifact",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", objectKey),
			attribute.String("content.type", contentType),
			attribute.Int("content.size", len(data)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	hash := sha256.Sum256(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Expires:     aws.Time(expiresAt),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export to s3: %w", err)
	}

	ttl := expiresAt.Sub(s.now())
	if ttl > MaxPresignExpiry {
		ttl = MaxPresignExpiry
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return req.URL, nil
}

// EnsureBucket creates the bucket when it does not exist (for local dev with MinIO)
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// HealthCheck verifies S3 connectivity
func (s *S3Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func isBucketAlreadyExistsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "BucketAlreadyExists") || strings.Contains(msg, "BucketAlreadyOwnedByYou")
}

var _ audit.ArtifactStore = (*S3Store)(nil)
