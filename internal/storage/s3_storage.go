package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"homeward/marketplace/internal/config"
)

// IS3Storage defines the object storage operations used for verification documents.
type IS3Storage interface {
	// GeneratePresignedPutURL returns a pre-signed upload URL and the generated object key under prefix.
	GeneratePresignedPutURL(ctx context.Context, prefix, filename, contentType string) (string, string, error)
	// PutObject uploads body under a generated key below prefix and returns the key.
	PutObject(ctx context.Context, prefix, filename, contentType string, body []byte) (string, error)
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg      *config.Config
	client   s3API
	presign  presignAPI
	urlTTL   time.Duration
	maxBytes int
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AwsS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AwsS3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Storage(cfg, client, s3.NewPresignClient(client)), nil
}

func newS3Storage(cfg *config.Config, client s3API, presign presignAPI) *s3Storage {
	return &s3Storage{
		cfg:      cfg,
		client:   client,
		presign:  presign,
		urlTTL:   cfg.UploadURLTTL,
		maxBytes: cfg.MaxDocumentSizeMB << 20,
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeFilename strips directories and characters that are awkward in object keys.
func sanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "document"
	}
	return name
}

func objectKey(prefix, filename string) string {
	return fmt.Sprintf("%s/%s_%s", strings.TrimSuffix(prefix, "/"), uuid.NewString(), sanitizeFilename(filename))
}

func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, prefix, filename, contentType string) (string, string, error) {
	key := objectKey(prefix, filename)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", key, err)
	}
	slog.Debug("Generated presigned upload URL", "key", key)
	return req.URL, key, nil
}

func (s *s3Storage) PutObject(ctx context.Context, prefix, filename, contentType string, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty upload")
	}
	if s.maxBytes > 0 && len(body) > s.maxBytes {
		return "", fmt.Errorf("upload of %d bytes exceeds the %d MB limit", len(body), s.cfg.MaxDocumentSizeMB)
	}
	key := objectKey(prefix, filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.AwsS3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return key, nil
}
