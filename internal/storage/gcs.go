package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// parseGCSPath extracts bucket and object from a "gs://bucket/path/to/file" URI.
func parseGCSPath(path string) (bucket, object string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("GCS path %q needs a bucket and an object", path)
	}
	return bucket, object, nil
}

func (r *Resolver) newGCSBackend(ctx context.Context, path string) (Backend, error) {
	bucket, object, err := parseGCSPath(path)
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if r.cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, r.cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &remoteBackend{
		scheme:   SchemeGCS,
		location: path,
		object:   object,
		store:    &gcsStore{client: client, bucket: bucket, object: object},
	}, nil
}

type gcsStore struct {
	client *storage.Client
	bucket string
	object string
}

func (s *gcsStore) download(ctx context.Context, localPath string) error {
	rd, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return errObjectNotFound
		}
		return err
	}
	defer rd.Close() //nolint:errcheck

	f, err := createLocal(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rd); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *gcsStore) upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
