package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// parseAzurePath extracts container and blob from an "az://container/path" URI.
func parseAzurePath(path string) (container, blob string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}
	if u.Scheme != "az" && u.Scheme != "azure" {
		return "", "", fmt.Errorf("expected az:// scheme, got %q in %q", u.Scheme, path)
	}
	container = u.Host
	blob = strings.TrimPrefix(u.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("Azure path %q needs a container and a blob", path)
	}
	return container, blob, nil
}

func (r *Resolver) newAzureBackend(path string) (Backend, error) {
	container, blob, err := parseAzurePath(path)
	if err != nil {
		return nil, err
	}
	if r.cfg.AzureConnectionString == "" {
		return nil, fmt.Errorf("Azure storage connection string is not configured")
	}
	client, err := azblob.NewClientFromConnectionString(r.cfg.AzureConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &remoteBackend{
		scheme:   SchemeAzure,
		location: path,
		object:   blob,
		store:    &azureStore{client: client, container: container, blob: blob},
	}, nil
}

type azureStore struct {
	client    *azblob.Client
	container string
	blob      string
}

func (s *azureStore) download(ctx context.Context, localPath string) error {
	f, err := createLocal(localPath)
	if err != nil {
		return err
	}
	_, err = s.client.DownloadFile(ctx, s.container, s.blob, f, nil)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return errObjectNotFound
	}
	return err
}

func (s *azureStore) upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	_, err = s.client.UploadFile(ctx, s.container, s.blob, f, nil)
	return err
}
