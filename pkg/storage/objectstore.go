package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// ObjectStoreConfig describes one storage_volume row's provider-specific
// credentials (bucket, endpoint, region, identity, secret), spec.md §3.
type ObjectStoreConfig struct {
	Bucket       string
	Prefix       string
	Endpoint     string // custom endpoint for S3-compatible targets (MinIO, etc.)
	Region       string
	AccessKeyID  string
	SecretKey    string
	UsePathStyle bool
}

// ObjectStoreProvider is the object-store backend: a bucket plus an
// optional key prefix and credentials, with support for a custom endpoint
// so S3-compatible targets (MinIO, Ceph RGW) work the same way.
type ObjectStoreProvider struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewObjectStoreProvider(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStoreProvider, error) {
	var resolverOpts []func(*config.LoadOptions) error
	resolverOpts = append(resolverOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		resolverOpts = append(resolverOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		resolverOpts = append(resolverOpts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, resolverOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &ObjectStoreProvider{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (p *ObjectStoreProvider) key(relPath string) string {
	if p.prefix == "" {
		return relPath
	}
	return p.prefix + "/" + relPath
}

func (p *ObjectStoreProvider) Write(ctx context.Context, path string, stream io.Reader, size int64) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(p.key(path)),
		Body:          stream,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	return nil
}

func (p *ObjectStoreProvider) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		return nil, spaxerrors.NewStorageUnavailable(err)
	}
	return out.Body, nil
}

func (p *ObjectStoreProvider) Delete(ctx context.Context, path string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	return nil
}

func (p *ObjectStoreProvider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (p *ObjectStoreProvider) Size(ctx context.Context, path string) (int64, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		return 0, spaxerrors.NewNotFound(fmt.Sprintf("object %q not found", path))
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// CopyFrom uses a server-side CopyObject when src is the same bucket
// (same underlying client+bucket), falling back to a buffered
// read/write otherwise.
func (p *ObjectStoreProvider) CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error {
	if srcStore, ok := src.(*ObjectStoreProvider); ok && srcStore.bucket == p.bucket {
		_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(p.bucket),
			CopySource: aws.String(p.bucket + "/" + srcStore.key(srcPath)),
			Key:        aws.String(p.key(dstPath)),
		})
		if err != nil {
			return spaxerrors.NewStorageUnavailable(err)
		}
		return nil
	}
	return defaultCopy(ctx, p, src, srcPath, dstPath)
}
