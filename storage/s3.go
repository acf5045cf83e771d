package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options selects the S3-compatible endpoint.
type S3Options struct {
	Region    string
	Endpoint  string // empty for AWS; set for MinIO and friends
	PathStyle bool
}

// S3 is an object-store backend speaking the S3 API.
type S3 struct {
	client *s3.Client
}

// NewS3 builds a backend from the default AWS credential chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &S3{client: client}, nil
}

// Download implements Client.
func (s *S3) Download(ctx context.Context, bucket, key, dest string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", notFound("download", bucket, key)
		}

		return "", transferFailed("download", bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := writeFile(dest, out.Body); err != nil {
		return "", transferFailed("download", bucket, key, err)
	}

	return dest, nil
}

// DownloadDirectory implements Client.
func (s *S3) DownloadDirectory(ctx context.Context, bucket, prefix, destDir string) (string, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	found := 0

	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return "", transferFailed("download directory", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}

			dest, err := localPath(destDir, key)
			if err != nil {
				return "", transferFailed("download directory", bucket, key, err)
			}

			if _, err := s.Download(ctx, bucket, key, dest); err != nil {
				return "", fmt.Errorf("download directory %s/%s: %w", bucket, prefix, err)
			}

			found++
		}
	}

	if found == 0 {
		return "", notFound("download directory", bucket, prefix)
	}

	return destDir, nil
}

// Upload implements Client.
func (s *S3) Upload(ctx context.Context, bucket, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}
	defer f.Close()

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return "", transferFailed("upload", bucket, key, err)
	}

	return key, nil
}
