package storage

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// S3Storage implements ObjectStorage for AWS S3 and compatible services.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ output.ObjectStorage = (*S3Storage)(nil)

// S3Config holds S3 configuration.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Storage creates a new S3 storage adapter.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, sourceError("configure", "", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// List returns all PDF objects below the prefix.
func (s *S3Storage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, sourceError("list", s.prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !output.IsPDFKey(key) {
				continue
			}

			so := output.StorageObject{
				Key:  trimPrefix(s.prefix, key),
				Size: aws.ToInt64(obj.Size),
				ETag: trimQuotes(aws.ToString(obj.ETag)),
			}
			if obj.LastModified != nil {
				so.LastModified = obj.LastModified.Unix()
			}
			objects = append(objects, so)
		}
	}

	return objects, nil
}

// Download downloads an object to the local filesystem.
func (s *S3Storage) Download(ctx context.Context, key string, dest string) error {
	rc, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := writeFile(dest, rc); err != nil {
		return sourceError("download", key, err)
	}
	return nil
}

// GetReader returns a reader for the given object.
func (s *S3Storage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinPrefix(s.prefix, key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, notFound("get", key)
		}
		return nil, sourceError("get", key, err)
	}
	return resp.Body, nil
}

// Exists checks if an object exists.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinPrefix(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, sourceError("head", key, err)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
