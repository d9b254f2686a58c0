package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzStore is the objstore.Store backend for Azure Blob Storage.
type AzStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

// newAzFromURL parses "account/container/optional/prefix" and
// authenticates with a shared-key credential built from the
// AZURE_STORAGE_KEY environment variable.
func newAzFromURL(ctx context.Context, rest string) (Store, error) {
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("azstore: expected account/container[/prefix], got %q", rest)
	}
	account, containerName := parts[0], parts[1]
	prefix := ""
	if len(parts) == 3 {
		prefix = parts[2]
	}

	// The Azure SDK's AAD credential types live in a separate module
	// (azidentity) not in this module's dependency graph; a shared-key
	// credential from AZURE_STORAGE_KEY keeps auth inside azblob itself.
	key := os.Getenv("AZURE_STORAGE_KEY")
	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azstore: credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azstore: new client: %w", err)
	}
	return &AzStore{client: client, container: containerName, prefix: prefix}, nil
}

func (s *AzStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *AzStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: length},
	}
	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(key), opts)
	if err != nil {
		return nil, fmt.Errorf("azstore: get %s: %w", key, err)
	}
	return resp.Body, nil
}

func (s *AzStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.UploadStream(ctx, s.container, s.fullKey(key), r, nil)
	if err != nil {
		return fmt.Errorf("azstore: put %s: %w", key, err)
	}
	return nil
}

func (s *AzStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := s.fullKey(prefix)
	var out []ObjectInfo
	pager := s.client.NewListBlobsFlatPager(s.container, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azstore: list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			out = append(out, ObjectInfo{Key: strings.TrimPrefix(*item.Name, s.prefix+"/"), Size: size})
		}
	}
	return out, nil
}

func (s *AzStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	props, err := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(s.fullKey(key)).GetProperties(ctx, nil)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("azstore: head %s: %w", key, err)
	}
	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}
	return ObjectInfo{Key: key, Size: size}, nil
}

var _ Store = (*AzStore)(nil)
