package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is the objstore.Store backend for AWS S3 (and S3-compatible
// endpoints), grounded on the teacher's own aws-sdk-go-v2 dependency.
// Large segment uploads go through feature/s3/manager's multipart
// uploader rather than a single PutObject call.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// newS3FromURL parses "bucket/optional/prefix" (the part after "s3://")
// and loads AWS credentials from the default provider chain.
func newS3FromURL(ctx context.Context, rest string) (Store, error) {
	bucket, prefix, _ := strings.Cut(rest, "/")
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", offset)
	if length >= 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    awsString(s.fullKey(key)),
		Range:  &rangeHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    awsString(s.fullKey(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	fullPrefix := s.fullKey(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &fullPrefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{Key: strings.TrimPrefix(*obj.Key, s.prefix+"/"), Size: derefInt64(obj.Size)})
		}
	}
	return out, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    awsString(s.fullKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return ObjectInfo{}, fmt.Errorf("s3store: head %s: not found", key)
		}
		return ObjectInfo{}, fmt.Errorf("s3store: head %s: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: derefInt64(out.ContentLength)}, nil
}

func awsString(s string) *string { return &s }

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

var _ Store = (*S3Store)(nil)
