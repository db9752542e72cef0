package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is a map-backed Store used in tests and for single-process
// loopback deployments where no object storage is configured.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	body     []byte
	modified time.Time
}

// NewMem creates an empty MemStore.
func NewMem() *MemStore {
	return &MemStore{objects: make(map[string]memObject)}
}

// List returns objects under prefix in lexicographic key order, so
// listings are deterministic across calls.
func (m *MemStore) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []Object
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         int64(len(obj.body)),
			LastModified: obj.modified,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Get returns a copy of the stored body.
func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return body, nil
}

// Put stores a copy of body at key.
func (m *MemStore) Put(_ context.Context, key string, body []byte) error {
	stored := make([]byte, len(body))
	copy(stored, body)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{body: stored, modified: time.Now()}
	return nil
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
