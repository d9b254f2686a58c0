// Package objstore is the pluggable backend Segments are durably stored
// in (spec §6): an object has one key per Segment, written once and read
// by range. Four backends share this interface, selected by the
// configured URL's scheme.
package objstore

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ObjectInfo is what Head and List return about a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the durable backing store for sealed Segments.
type Store interface {
	// GetRange reads [offset, offset+length) of key. length < 0 means
	// "to end of object".
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
}

// OpenURL dispatches to a backend by URL scheme: file://, s3://, az://,
// gs://.
func OpenURL(ctx context.Context, rawURL string) (Store, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("objstore: %q has no scheme", rawURL)
	}
	switch scheme {
	case "file":
		return newFSFromURL(rest)
	case "s3":
		return newS3FromURL(ctx, rest)
	case "az":
		return newAzFromURL(ctx, rest)
	case "gs":
		return newGCSFromURL(ctx, rest)
	default:
		return nil, fmt.Errorf("objstore: unknown scheme %q", scheme)
	}
}
