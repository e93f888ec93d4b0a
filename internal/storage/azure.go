package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// AzureStorage handles storing data in Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

var _ BlobStore = (*AzureStorage)(nil)

// NewAzureStorage creates a new Azure Storage client using managed identity
func NewAzureStorage(ctx context.Context, accountName, containerName string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	storage := &AzureStorage{
		client:        client,
		containerName: containerName,
	}

	if err := storage.ensureContainer(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return storage, nil
}

func (s *AzureStorage) ensureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
	} else {
		logrus.Infof("Created container %s", s.containerName)
	}

	return nil
}

// Store saves data to Azure Blob Storage
func (s *AzureStorage) Store(ctx context.Context, name string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.containerName, name, data, &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", name, err)
	}

	logrus.Debugf("Stored %s in Azure Blob Storage", name)
	return nil
}

// Retrieve gets data from Azure Blob Storage. A missing blob yields ErrNotFound.
func (s *AzureStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	response, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob content: %w", err)
	}

	return data, nil
}
