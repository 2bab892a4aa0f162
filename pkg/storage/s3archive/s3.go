// Package s3archive stores raw webhook payloads in object storage so
// disputed settlements can be replayed against the provider's record.
package s3archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimbushost/billing/pkg/payments"
)

var tracer = otel.Tracer("billing.storage.s3archive")

// Config holds object storage configuration.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// objectAPI is the slice of the S3 client the archiver needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver writes one object per webhook delivery.
type Archiver struct {
	client objectAPI
	bucket string
}

// NewArchiver configures the AWS SDK. Static credentials are used when
// provided (MinIO, explicit keys), otherwise the default chain applies.
func NewArchiver(ctx context.Context, cfg Config) (*Archiver, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// NewArchiverFromClient wraps an existing client. Used by tests.
func NewArchiverFromClient(client objectAPI, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

func objectKey(provider, eventID string) string {
	return fmt.Sprintf("webhooks/%s/%s.json", provider, eventID)
}

// Archive uploads the raw payload keyed by provider and event id. Replayed
// deliveries overwrite with identical content, so the write is idempotent.
func (a *Archiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	key := objectKey(provider, eventID)
	ctx, span := tracer.Start(ctx, "S3Archive.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int("payload.size", len(payload)),
		),
	)
	defer span.End()

	hash := sha256.Sum256(payload)
	checksum := hex.EncodeToString(hash[:])

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"archived-at":     time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive payload")
		return fmt.Errorf("failed to archive webhook payload: %w", err)
	}

	span.SetStatus(codes.Ok, "payload archived")
	return nil
}

// Fetch retrieves an archived payload for replay or audit.
func (a *Archiver) Fetch(ctx context.Context, provider, eventID string) ([]byte, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey(provider, eventID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived payload: %w", err)
	}
	defer result.Body.Close()

	payload, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived payload: %w", err)
	}
	return payload, nil
}

var _ payments.Archiver = (*Archiver)(nil)
