// Package storagetest provides an in-memory BlobStore for tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"tunevault/storage"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemStore keeps objects in a map. FailPut, FailGet and FailRemove, when set,
// are consulted before every write, read or delete.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]object

	FailPut    func(key string) error
	FailGet    func(key string) error
	FailRemove func(key string) error
}

var _ storage.BlobStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]object)}
}

func (m *MemStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (m *MemStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if m.FailGet != nil {
		if err := m.FailGet(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	size := int64(len(obj.data))
	if end < 0 || end >= size {
		end = size - 1
	}
	if start > end {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (m *MemStore) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return info(key, obj), nil
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info(key, obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) Remove(ctx context.Context, key string) error {
	if m.FailRemove != nil {
		if err := m.FailRemove(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) RemovePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("refusing to remove an empty prefix")
	}
	if m.FailRemove != nil {
		if err := m.FailRemove(prefix); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
		}
	}
	return nil
}

// Keys lists every stored key, sorted.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Data returns a copy of an object's bytes.
func (m *MemStore) Data(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func info(key string, obj object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
		ContentType:  obj.contentType,
	}
}
