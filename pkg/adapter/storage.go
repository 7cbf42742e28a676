package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage is the interface for index blob persistence
type Storage interface {
	// Put returns a writer to save a blob under the key
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get loads a blob by key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a Cloud Storage backed Storage
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	return obj.NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.Value("key", key))
	}

	return reader, nil
}

// dirStorage implements Storage on a local directory, for running without
// a GCS bucket.
type dirStorage struct {
	root string
}

// NewDirStorage creates a Storage rooted at the given directory
func NewDirStorage(root string) Storage {
	return &dirStorage{root: root}
}

func (s *dirStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.Value("path", path))
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage file", goerr.Value("path", path))
	}
	return f, nil
}

func (s *dirStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open storage file", goerr.Value("key", key))
	}
	return f, nil
}
