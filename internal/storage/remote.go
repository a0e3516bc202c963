package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// errObjectNotFound is returned by an objectStore when the object does not
// exist yet. Prepare then starts from an empty database.
var errObjectNotFound = errors.New("object not found")

// objectStore moves one object between a remote store and a local file.
type objectStore interface {
	download(ctx context.Context, localPath string) error
	upload(ctx context.Context, localPath string) error
}

// remoteBackend caches a remote database in a local temp directory.
type remoteBackend struct {
	scheme   Scheme
	location string
	object   string
	store    objectStore
	dir      string
}

func (b *remoteBackend) localPath() string {
	if b.dir == "" {
		return ""
	}
	return filepath.Join(b.dir, withDBSuffix(filepath.Base(b.object)))
}

func (b *remoteBackend) Prepare(ctx context.Context) (string, error) {
	if b.dir != "" {
		return b.localPath(), nil
	}
	dir, err := os.MkdirTemp("", "duckgate-"+string(b.scheme)+"-")
	if err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}
	b.dir = dir
	local := b.localPath()
	if err := b.store.download(ctx, local); err != nil {
		if errors.Is(err, errObjectNotFound) {
			_ = os.Remove(local)
			return local, nil
		}
		_ = os.RemoveAll(dir)
		b.dir = ""
		return "", fmt.Errorf("download %s: %w", b.location, err)
	}
	return local, nil
}

func (b *remoteBackend) Sync(ctx context.Context) error {
	local := b.localPath()
	if local == "" {
		return nil
	}
	if _, err := os.Stat(local); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := b.store.upload(ctx, local); err != nil {
		return fmt.Errorf("upload %s: %w", b.location, err)
	}
	return nil
}

func (b *remoteBackend) Cleanup(context.Context) error {
	if b.dir == "" {
		return nil
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("remove cache directory: %w", err)
	}
	b.dir = ""
	return nil
}

func (b *remoteBackend) Info() BackendInfo {
	return BackendInfo{Scheme: b.scheme, Location: b.location, LocalPath: b.localPath(), Remote: true}
}

// createLocal opens localPath for writing, creating parent directories.
func createLocal(localPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, err
	}
	return os.Create(localPath)
}
