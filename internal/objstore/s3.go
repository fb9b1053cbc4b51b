package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

// maxDeleteKeys is the S3 limit on keys per DeleteObjects request.
const maxDeleteKeys = 1000

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Config holds connection settings for an S3-compatible service.
type S3Config struct {
	Bucket          string
	Region          string // falls back to the SDK default chain when empty
	EndpointURL     string // override for LocalStack, MinIO and friends
	UsePathStyle    bool
	AccessKeyID     string // static credentials; the default chain is used when empty
	SecretAccessKey string
	DeleteWorkers   int // concurrent DeleteObjects requests (default: 4)
}

// S3Store implements Store on one S3 bucket.
type S3Store struct {
	client        S3API
	bucket        string
	deleteWorkers int
}

// NewS3Store loads AWS configuration and creates a store for cfg.Bucket.
// The bucket must already exist; it is not checked here.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	store := NewS3StoreFromClient(client, cfg.Bucket)
	if cfg.DeleteWorkers > 0 {
		store.deleteWorkers = cfg.DeleteWorkers
	}
	return store, nil
}

// NewS3StoreFromClient creates a store using an existing client.
func NewS3StoreFromClient(client S3API, bucket string) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        bucket,
		deleteWorkers: 4,
	}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      metadata,
	})
	return classifyS3Error(err)
}

func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &ClientError{Code: "ReadBody", Message: err.Error(), Err: err}
	}
	return &Object{Body: body, Metadata: copyMetadata(out.Metadata)}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (map[string]string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	return copyMetadata(out.Metadata), nil
}

func (s *S3Store) DeleteBatch(ctx context.Context, keys []string) ([]DeleteError, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		failed []DeleteError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deleteWorkers)
	for start := 0; start < len(keys); start += maxDeleteKeys {
		chunk := keys[start:min(start+maxDeleteKeys, len(keys))]
		g.Go(func() error {
			errs, err := s.deleteChunk(gctx, chunk)
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				mu.Lock()
				failed = append(failed, errs...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func (s *S3Store) deleteChunk(ctx context.Context, keys []string) ([]DeleteError, error) {
	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, classifyS3Error(err)
	}
	errs := make([]DeleteError, 0, len(out.Errors))
	for _, e := range out.Errors {
		errs = append(errs, DeleteError{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return errs, nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classifyS3Error(err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		errs, err := s.DeleteBatch(ctx, keys)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			return &ClientError{
				Code:    errs[0].Code,
				Message: fmt.Sprintf("%d of %d objects not deleted, first %s: %s", len(errs), len(keys), errs[0].Key, errs[0].Message),
			}
		}
	}
	return nil
}

func (s *S3Store) Bucket() string { return s.bucket }

func (s *S3Store) Close() error { return nil }

// classifyS3Error maps SDK errors onto ErrNotFound, ErrUnauthorized or a
// *ClientError. HeadObject responses carry no body, so their errors only
// expose the HTTP status; the status is consulted after the API code.
func classifyS3Error(err error) error {
	if err == nil {
		return nil
	}

	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.As(err, &noSuchBucket):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case "NoSuchBucket", "AccessDenied", "Forbidden", "AllAccessDisabled",
			"InvalidAccessKeyId", "SignatureDoesNotMatch", "AccountProblem":
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case 401, 403:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}

	if apiErr != nil {
		return &ClientError{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage(), Err: err}
	}
	return &ClientError{Code: "ClientError", Message: err.Error(), Err: err}
}
