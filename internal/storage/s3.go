package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 path %q needs a bucket and a key", s3Path)
	}
	return bucket, key, nil
}

func (r *Resolver) newS3Backend(path string) (Backend, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return nil, err
	}
	c := r.cfg.S3
	if c.KeyID == "" || c.Secret == "" {
		return nil, fmt.Errorf("S3 credentials are not configured")
	}
	opts := s3.Options{
		Region:       c.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(c.KeyID, c.Secret, ""),
		UsePathStyle: true,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if c.Endpoint != "" {
		endpoint := c.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return &remoteBackend{
		scheme:   SchemeS3,
		location: path,
		object:   key,
		store:    &s3Store{client: s3.New(opts), bucket: bucket, key: key},
	}, nil
}

type s3Store struct {
	client *s3.Client
	bucket string
	key    string
}

func (s *s3Store) download(ctx context.Context, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return errObjectNotFound
		}
		return err
	}
	defer out.Body.Close() //nolint:errcheck

	f, err := createLocal(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *s3Store) upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}
