package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tonysebion/bronze-foundry/pkg/metrics"
	"github.com/tonysebion/bronze-foundry/pkg/retry"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
	Retry  retry.Config
}

func (cfg *S3Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// S3 is an object-store backed Store. Promote is copy-then-delete: S3 has
// no atomic rename, so visibility is gated by the load metadata record,
// which is written last.
type S3 struct {
	log    *slog.Logger
	client S3API
	bucket string
	prefix string
	retry  retry.Config
}

func NewS3(cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3{
		log:    cfg.Logger,
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		retry:  cfg.Retry,
	}, nil
}

// NewS3FromEnv builds an S3 store using the default AWS credential chain.
func NewS3FromEnv(ctx context.Context, log *slog.Logger, bucket, prefix string) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3(S3Config{
		Logger: log,
		Client: s3.NewFromConfig(awsCfg),
		Bucket: bucket,
		Prefix: prefix,
	})
}

func (s *S3) Backend() string { return "s3" }

func (s *S3) key(path string) string {
	path = strings.Trim(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3) rel(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func (s *S3) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	// Buffer the object so retried attempts can replay the body.
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to buffer object body: %w", err)
	}
	err = retry.Do(ctx, s.retry, func() error {
		_, putErr := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(path)),
			Body:   bytes.NewReader(data),
		})
		return putErr
	})
	if err != nil {
		metrics.StorageWritesTotal.WithLabelValues(s.Backend(), "error").Inc()
		return 0, &WriteFailure{Backend: s.Backend(), Path: path, Err: err}
	}
	metrics.StorageWritesTotal.WithLabelValues(s.Backend(), "ok").Inc()
	return int64(len(data)), nil
}

func (s *S3) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", path, err)
	}
	return out.Body, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.key(prefix) + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
		}
		for _, obj := range resp.Contents {
			out = append(out, s.rel(aws.ToString(obj.Key)))
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Strings(out)
	return out, nil
}

func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", path, err)
	}
	return true, nil
}

func (s *S3) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", path, err)
	}
	return nil
}

func (s *S3) DeleteAll(ctx context.Context, prefix string) error {
	paths, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := s.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// commitMarker is the load metadata record that gates partition
// visibility. Promote removes it from the final prefix first and copies it
// in last, so a concurrent reader never sees a committed-looking partition
// whose artifacts are still in flight.
const commitMarker = "_metadata.json"

func (s *S3) Promote(ctx context.Context, stagingPrefix, finalPrefix string) error {
	oldMarker := strings.Trim(finalPrefix, "/") + "/" + commitMarker
	if ok, err := s.Exists(ctx, oldMarker); err != nil {
		return err
	} else if ok {
		if err := s.Delete(ctx, oldMarker); err != nil {
			return err
		}
	}
	if err := s.DeleteAll(ctx, finalPrefix); err != nil {
		return err
	}
	paths, err := s.List(ctx, stagingPrefix)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("staging prefix %s: %w", stagingPrefix, ErrNotFound)
	}

	ordered := make([]string, 0, len(paths))
	marker := ""
	for _, p := range paths {
		if strings.HasSuffix(p, "/"+commitMarker) {
			marker = p
			continue
		}
		ordered = append(ordered, p)
	}
	if marker != "" {
		ordered = append(ordered, marker)
	}

	for _, p := range ordered {
		rel := strings.TrimPrefix(p, strings.Trim(stagingPrefix, "/")+"/")
		dst := strings.Trim(finalPrefix, "/") + "/" + rel
		copyErr := retry.Do(ctx, s.retry, func() error {
			_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(s.bucket),
				CopySource: aws.String(s.bucket + "/" + s.key(p)),
				Key:        aws.String(s.key(dst)),
			})
			return err
		})
		if copyErr != nil {
			return &WriteFailure{Backend: s.Backend(), Path: dst, Err: copyErr}
		}
	}
	if err := s.DeleteAll(ctx, stagingPrefix); err != nil {
		return err
	}
	s.log.Debug("promoted staging prefix", "staging", stagingPrefix, "final", finalPrefix, "objects", len(paths))
	return nil
}

func isS3NotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
