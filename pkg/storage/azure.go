package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
)

// AzureStore implements Store on Azure Blob Storage.
type AzureStore struct {
	client *azblob.Client
}

// NewAzureStoreFromConnectionString builds a store from a storage-account
// connection string (local development, Azurite).
func NewAzureStoreFromConnectionString(connStr string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return &AzureStore{client: client}, nil
}

// NewAzureStore builds a store against the service URL using the ambient
// Azure credential chain (managed identity in production).
func NewAzureStore(serviceURL string) (*AzureStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return &AzureStore{client: client}, nil
}

// Put uploads a blob. With IfNoneMatch "*" the upload is conditional on
// the blob not existing, which is the primitive leases and done markers
// are built on.
func (s *AzureStore) Put(ctx context.Context, container, name string, data []byte, opts PutOptions) error {
	uploadOpts := &blockblob.UploadBufferOptions{}
	if opts.ContentType != "" {
		uploadOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
	}
	if opts.IfNoneMatch == "*" {
		uploadOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		}
	}

	_, err := s.client.UploadBuffer(ctx, container, name, data, uploadOpts)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("uploading %s/%s: %w", container, name, err)
	}
	return nil
}

// Get downloads a blob.
func (s *AzureStore) Get(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("downloading %s/%s: %w", container, name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", container, name, err)
	}
	return data, nil
}

// List returns blob names under prefix.
func (s *AzureStore) List(ctx context.Context, container, prefix string) ([]string, error) {
	var names []string
	pager := s.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", container, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *AzureStore) Delete(ctx context.Context, container, name string) error {
	_, err := s.client.DeleteBlob(ctx, container, name, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("deleting %s/%s: %w", container, name, err)
	}
	return nil
}

// Copy duplicates a blob server-side, possibly across containers.
func (s *AzureStore) Copy(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) error {
	src := s.client.ServiceClient().NewContainerClient(srcContainer).NewBlobClient(srcName)
	dst := s.client.ServiceClient().NewContainerClient(dstContainer).NewBlobClient(dstName)

	_, err := dst.StartCopyFromURL(ctx, src.URL(), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("copying %s/%s to %s/%s: %w", srcContainer, srcName, dstContainer, dstName, err)
	}
	return nil
}

// Exists reports whether the blob is present.
func (s *AzureStore) Exists(ctx context.Context, container, name string) (bool, error) {
	_, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s/%s: %w", container, name, err)
	}
	return true, nil
}
