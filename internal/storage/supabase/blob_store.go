// Package supabase stores screenshots in a Supabase Storage bucket.
package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	supa "github.com/supabase-community/supabase-go"
)

// Scheme prefixes URIs for objects in private buckets.
const Scheme = "supabase"

// objectAPI is the slice of the Supabase storage client used here.
type objectAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// Config captures the Supabase project and bucket settings.
type Config struct {
	URL    string
	Key    string
	Bucket string
	// Public buckets hand out https URLs; private ones hand out supabase:// URIs.
	Public bool
}

// BlobStore uploads screenshots to Supabase Storage.
type BlobStore struct {
	api    objectAPI
	bucket string
	public bool
}

// New connects to the Supabase project described by cfg.
func New(cfg Config) (*BlobStore, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	client, err := supa.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return newWithAPI(client.Storage, cfg)
}

func newWithAPI(api objectAPI, cfg Config) (*BlobStore, error) {
	if api == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{api: api, bucket: cfg.Bucket, public: cfg.Public}, nil
}

// PutObject uploads data, overwriting any object at the same path.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := s.api.UploadFile(s.bucket, path, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	if s.public {
		return s.api.GetPublicUrl(s.bucket, path).SignedURL, nil
	}
	return fmt.Sprintf("%s://%s/%s", Scheme, s.bucket, path), nil
}

// Fetch downloads the object behind a supabase:// URI.
func (s *BlobStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, Scheme+"://")
	if !ok {
		return nil, fmt.Errorf("unsupported uri %q", uri)
	}
	bucket, path, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || path == "" {
		return nil, fmt.Errorf("malformed supabase uri %q", uri)
	}
	data, err := s.api.DownloadFile(bucket, path)
	if err != nil {
		return nil, fmt.Errorf("download object: %w", err)
	}
	return data, nil
}
