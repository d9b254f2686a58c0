package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore is the objstore.Store backend for Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// newGCSFromURL parses "bucket/optional/prefix" and authenticates with
// Application Default Credentials.
func newGCSFromURL(ctx context.Context, rest string) (Store, error) {
	bucket, prefix, _ := strings.Cut(rest, "/")
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: new client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *GCSStore) obj(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.fullKey(key))
}

func (s *GCSStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := s.obj(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: get %s: %w", key, err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	w := s.obj(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("gcsstore: put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcsstore: finalize %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.fullKey(prefix)})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcsstore: list %s: %w", prefix, err)
		}
		out = append(out, ObjectInfo{Key: strings.TrimPrefix(attrs.Name, s.prefix+"/"), Size: attrs.Size})
	}
	return out, nil
}

func (s *GCSStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := s.obj(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("gcsstore: head %s: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: attrs.Size}, nil
}

var _ Store = (*GCSStore)(nil)
