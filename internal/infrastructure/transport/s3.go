package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"PMCMirror/internal/config"
	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

// S3Name is the transport name reported in events and captures.
const S3Name = "s3"

// S3Transport reads source files from the public bulk bucket.
type S3Transport struct {
	client *s3.Client
	bucket string
}

var _ ports.Transport = (*S3Transport)(nil)

// NewS3Transport loads an anonymous AWS configuration for the bucket's region.
func NewS3Transport(ctx context.Context, cfg config.S3Config) (*S3Transport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3TransportFromConfig(awsCfg, cfg), nil
}

// NewS3TransportFromConfig builds the transport from an explicit aws.Config.
// SDK retries are disabled because the fetcher owns the retry policy.
func NewS3TransportFromConfig(awsCfg aws.Config, cfg config.S3Config) *S3Transport {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		o.Retryer = aws.NopRetryer{}
	})
	return &S3Transport{client: client, bucket: cfg.Bucket}
}

// Name implements ports.Transport.
func (t *S3Transport) Name() string { return S3Name }

// Open streams one object. The caller closes the body.
func (t *S3Transport) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(strings.TrimPrefix(path, "/")),
	})
	if err != nil {
		return nil, &domain.TransportError{Transport: S3Name, Path: path, Retryable: s3Retryable(err), Err: err}
	}
	return out.Body, nil
}

// s3Retryable treats missing keys and client errors as final, except throttling
// and request timeouts. Everything without a status (dial, reset, timeout) is retried.
func s3Retryable(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return false
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return false
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return statusRetryable(re.HTTPStatusCode())
	}
	return true
}

func statusRetryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 400 && status < 500:
		return false
	default:
		return true
	}
}
