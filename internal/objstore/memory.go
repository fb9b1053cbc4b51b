package objstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps objects in process memory. It serves tests and local
// runs where no bucket is available; contents vanish with the process.
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string]*memObject
	closed  bool
}

type memObject struct {
	body     []byte
	metadata map[string]string
}

// NewMemoryStore creates an empty in-memory bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]*memObject),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	// Copy to prevent mutation
	cp := make([]byte, len(body))
	copy(cp, body)
	s.objects[key] = &memObject{body: cp, metadata: copyMetadata(metadata)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(obj.body))
	copy(cp, obj.body)
	return &Object{Body: cp, Metadata: copyMetadata(obj.metadata)}, nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed()
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMetadata(obj.metadata), nil
}

func (s *MemoryStore) DeleteBatch(_ context.Context, keys []string) ([]DeleteError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStoreClosed()
	}
	for _, key := range keys {
		delete(s.objects, key)
	}
	return nil, nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *MemoryStore) Bucket() string { return s.bucket }

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = make(map[string]*memObject)
	return nil
}

func errStoreClosed() error {
	return &ClientError{Code: "StoreClosed", Message: "memory store is closed"}
}
