package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config configures an S3-compatible blob backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Blob stores objects in an S3-compatible bucket under an optional prefix.
type S3Blob struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Blob creates an S3-backed Blob. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func NewS3Blob(ctx context.Context, cfg S3Config) (*S3Blob, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Blob{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *S3Blob) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func (b *S3Blob) stripPrefix(objectKey string) string {
	if b.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, b.prefix+"/")
}

// Put uploads the object with PutObject.
func (b *S3Blob) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	objectKey := b.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    &objectKey,
		Body:   r,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// List pages through ListObjectsV2 for the prefix.
func (b *S3Blob) List(ctx context.Context, prefix string) ([]string, error) {
	objectPrefix := b.objectKey(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(objectPrefix, "/") {
		objectPrefix += "/"
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: aws.String(objectPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, b.stripPrefix(aws.ToString(obj.Key)))
		}
	}
	return keys, nil
}

// Open fetches the object, requesting only the first maxBytes bytes when
// maxBytes is positive.
func (b *S3Blob) Open(ctx context.Context, key string, maxBytes int64) (io.ReadCloser, error) {
	objectKey := b.objectKey(key)
	input := &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &objectKey,
	}
	if maxBytes > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", maxBytes-1))
	}
	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	if maxBytes <= 0 {
		return out.Body, nil
	}
	return limitedReadCloser{Reader: io.LimitReader(out.Body, maxBytes), Closer: out.Body}, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
