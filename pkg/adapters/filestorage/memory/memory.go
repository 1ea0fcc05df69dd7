// Package memory guarda el contenido de los documentos en memoria. Las URLs
// que genera apuntan a un prefijo configurable y no están firmadas.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"collie-procedures-backend/pkg/ports"
)

type FileStorage struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

func NewFileStorage(baseURL string) *FileStorage {
	return &FileStorage{baseURL: baseURL, objects: make(map[string][]byte)}
}

// Put guarda el contenido de key.
func (s *FileStorage) Put(key string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), content...)
}

// GeneratePresignedUploadURL implementa ports.FileStorage.
func (s *FileStorage) GeneratePresignedUploadURL(_ context.Context, key, _ string) (string, error) {
	return s.baseURL + "/" + url.PathEscape(key) + "?upload=1", nil
}

// GeneratePresignedDownloadURL implementa ports.FileStorage.
func (s *FileStorage) GeneratePresignedDownloadURL(_ context.Context, key, fileName string) (string, error) {
	return s.baseURL + "/" + url.PathEscape(key) + "?filename=" + url.QueryEscape(fileName), nil
}

// Open implementa ports.FileStorage.
func (s *FileStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

var _ ports.FileStorage = (*FileStorage)(nil)
