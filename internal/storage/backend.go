// Package storage resolves persistent session paths to a local database file,
// downloading from and uploading to object storage when the path is remote.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scheme identifies where a persistent database lives.
type Scheme string

// Supported schemes.
const (
	SchemeLocal Scheme = "file"
	SchemeTemp  Scheme = "temp"
	SchemeS3    Scheme = "s3"
	SchemeGCS   Scheme = "gs"
	SchemeAzure Scheme = "az"
)

// BackendInfo describes a resolved backend.
type BackendInfo struct {
	Scheme    Scheme
	Location  string
	LocalPath string
	Remote    bool
}

// Backend makes a persistent database available as a local file.
// Prepare must be called before the database is opened; Sync pushes local
// changes to the backing store; Cleanup releases local resources.
type Backend interface {
	Prepare(ctx context.Context) (string, error)
	Sync(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Info() BackendInfo
}

// S3Config holds credentials for S3-compatible object storage.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
}

// Config configures backend resolution.
type Config struct {
	// DataDir anchors relative local paths. Empty means the working directory.
	DataDir               string
	S3                    S3Config
	GCSCredentialsFile    string
	AzureConnectionString string
}

// Resolver maps session paths to backends.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the backend for path.
func (r *Resolver) Resolve(ctx context.Context, path string) (Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty storage path")
	}
	switch {
	case strings.HasPrefix(path, "temp:"):
		return newTempBackend(strings.TrimPrefix(path, "temp:"))
	case strings.HasPrefix(path, "s3://"):
		return r.newS3Backend(path)
	case strings.HasPrefix(path, "gs://"):
		return r.newGCSBackend(ctx, path)
	case strings.HasPrefix(path, "az://"):
		return r.newAzureBackend(path)
	case strings.Contains(path, "://"):
		return nil, fmt.Errorf("unsupported storage scheme in %q", path)
	default:
		return newLocalBackend(r.cfg.DataDir, path), nil
	}
}

// withDBSuffix appends ".db" when the file has no extension.
func withDBSuffix(p string) string {
	if filepath.Ext(p) == "" {
		return p + ".db"
	}
	return p
}

// localBackend stores the database directly on the local filesystem.
type localBackend struct {
	path string
}

func newLocalBackend(dataDir, path string) *localBackend {
	if !filepath.IsAbs(path) && dataDir != "" {
		path = filepath.Join(dataDir, path)
	}
	return &localBackend{path: withDBSuffix(filepath.Clean(path))}
}

func (b *localBackend) Prepare(context.Context) (string, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return b.path, nil
}

func (b *localBackend) Sync(context.Context) error    { return nil }
func (b *localBackend) Cleanup(context.Context) error { return nil }

func (b *localBackend) Info() BackendInfo {
	return BackendInfo{Scheme: SchemeLocal, Location: b.path, LocalPath: b.path}
}

// tempBackend keeps the database in a private temp directory that is removed
// on cleanup.
type tempBackend struct {
	name string
	dir  string
}

func newTempBackend(name string) (*tempBackend, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "session"
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid temp database name %q", name)
	}
	return &tempBackend{name: name}, nil
}

func (b *tempBackend) Prepare(context.Context) (string, error) {
	if b.dir == "" {
		dir, err := os.MkdirTemp("", "duckgate-")
		if err != nil {
			return "", fmt.Errorf("create temp directory: %w", err)
		}
		b.dir = dir
	}
	return b.localPath(), nil
}

func (b *tempBackend) localPath() string {
	if b.dir == "" {
		return ""
	}
	return filepath.Join(b.dir, withDBSuffix(b.name))
}

func (b *tempBackend) Sync(context.Context) error { return nil }

func (b *tempBackend) Cleanup(context.Context) error {
	if b.dir == "" {
		return nil
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("remove temp directory: %w", err)
	}
	b.dir = ""
	return nil
}

func (b *tempBackend) Info() BackendInfo {
	return BackendInfo{Scheme: SchemeTemp, Location: "temp:" + b.name, LocalPath: b.localPath()}
}
