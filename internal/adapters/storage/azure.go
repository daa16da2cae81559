package storage

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/SandiRizqi/terestria-sub000/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

var _ output.ObjectStorage = (*AzureStorage)(nil)

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter. A connection
// string takes precedence over account name and key.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, sourceError("configure", "", err)
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns all PDF blobs below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, sourceError("list", s.prefix, err)
		}

		for _, blob := range page.Segment.BlobItems {
			if obj, ok := s.toStorageObject(blob); ok {
				objects = append(objects, obj)
			}
		}
	}

	return objects, nil
}

// toStorageObject converts a PDF blob. Other blobs are skipped.
func (s *AzureStorage) toStorageObject(blob *container.BlobItem) (output.StorageObject, bool) {
	if blob.Name == nil || !output.IsPDFKey(*blob.Name) {
		return output.StorageObject{}, false
	}

	obj := output.StorageObject{Key: trimPrefix(s.prefix, *blob.Name)}
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = trimQuotes(string(*p.ETag))
		}
	}
	return obj, true
}

// Download downloads a blob to the local filesystem.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
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

// GetReader returns a reader for the given blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, joinPrefix(s.prefix, key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, notFound("get", key)
		}
		return nil, sourceError("get", key, err)
	}
	return resp.Body, nil
}

// Exists checks if a blob exists.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	blob := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(joinPrefix(s.prefix, key))

	_, err := blob.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, sourceError("head", key, err)
}
