package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store used when no blob directory is configured
// and by tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, key, contentType string, r io.Reader) (Info, error) {
	if key == "" {
		return Info{}, fmt.Errorf("blob: invalid key %q", key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("blob: read %s: %w", key, err)
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return Info{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

func (m *Memory) Open(ctx context.Context, key string) (io.ReadCloser, Info, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, Info{}, ErrNotFound
	}
	info := Info{Key: key, ContentType: obj.contentType, Size: int64(len(obj.data))}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether key is stored.
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
