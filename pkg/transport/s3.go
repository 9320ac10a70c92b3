package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/ota"
)

// S3 implements ota.DataTransport over ranged S3 reads. The job document's
// update URL names the object as s3://bucket/key.
type S3 struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3 creates the data plane with anonymous credentials, matching
// public firmware buckets. Authenticated buckets come through the default
// credential chain when anonymous is false.
func NewS3(ctx context.Context, region string, anonymous bool) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	slog.Info("s3_data_plane_init", "region", region, "anonymous", anonymous)
	return &S3{client: s3.NewFromConfig(cfg)}, nil
}

func parseS3URL(raw string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(raw, scheme) {
		return "", "", fmt.Errorf("not an s3 URL: %q", raw)
	}
	rest := strings.TrimPrefix(raw, scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL missing bucket or key: %q", raw)
	}
	return bucket, key, nil
}

// Init resolves the object named by fc.URL and checks it matches the job's
// declared file size.
func (t *S3) Init(ctx context.Context, fc *ota.FileContext) error {
	bucket, key, err := parseS3URL(fc.URL.String())
	if err != nil {
		return ota.NewErr(ota.KindRequestInitFailed, err)
	}

	head, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_head_object_failed", "bucket", bucket, "key", key, "error", err)
		return ota.NewErr(ota.KindRequestInitFailed, errors.Wrap(err, "failed to check object"))
	}
	if head.ContentLength != nil && *head.ContentLength != fc.FileSize {
		return ota.NewErr(ota.KindRequestInitFailed,
			fmt.Errorf("object size %d does not match job file size %d", *head.ContentLength, fc.FileSize))
	}

	t.bucket = bucket
	t.key = key
	slog.Info("s3_data_plane_ready", "bucket", bucket, "key", key, "size", fc.FileSize)
	return nil
}

// RequestRange fetches length bytes starting at offset with a ranged
// GetObject.
func (t *S3) RequestRange(ctx context.Context, fc *ota.FileContext, offset, length int64) ([]byte, error) {
	if t.bucket == "" {
		return nil, ota.NewErr(ota.KindRequestFailed, fmt.Errorf("data plane not initialized"))
	}

	byteRange := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	result, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key),
		Range:  aws.String(byteRange),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "key", t.key, "range", byteRange, "error", err)
		return nil, ota.NewErr(ota.KindRequestFailed, errors.Wrap(err, "failed to get object range"))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, length))
	if err != nil {
		return nil, ota.NewErr(ota.KindRequestFailed, errors.Wrap(err, "failed to read object range"))
	}
	if int64(len(data)) != length {
		return nil, ota.NewErr(ota.KindRequestFailed,
			fmt.Errorf("short range read: got %d bytes, want %d", len(data), length))
	}
	return data, nil
}

// PresignGet returns a presigned GET URL for an s3://bucket/key object,
// suitable as the update URL of a job document served over the HTTP data
// plane.
func (t *S3) PresignGet(ctx context.Context, rawURL string, validFor time.Duration) (string, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return "", err
	}

	presigner := s3.NewPresignClient(t.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(validFor))
	if err != nil {
		slog.Error("s3_presign_failed", "key", key, "error", err)
		return "", errors.Wrap(err, "failed to presign object URL")
	}
	return req.URL, nil
}

// Cleanup forgets the resolved object.
func (t *S3) Cleanup(ctx context.Context) error {
	t.bucket = ""
	t.key = ""
	return nil
}

var _ ota.DataTransport = (*S3)(nil)
