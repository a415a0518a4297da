package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryClient is an in-process backend for tests. It implements the same
// contract as the s3 backend, including continuation-token listing.
type memoryClient struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

func newMemoryBackend(_ context.Context, _ *ConnString, _ Options) (Client, error) {
	return &memoryClient{objects: make(map[string]*Object)}, nil
}

// NewMemory returns an in-memory client for use in tests.
func NewMemory() Client {
	return &memoryClient{objects: make(map[string]*Object)}
}

func (c *memoryClient) Put(_ context.Context, key string, meta Metadata, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := make([]byte, len(body))
	copy(b, body)
	c.objects[key] = &Object{
		Key:          key,
		Metadata:     meta.Clone(),
		Body:         b,
		ContentType:  contentType,
		Size:         int64(len(b)),
		LastModified: time.Now().UTC(),
	}
	return nil
}

func (c *memoryClient) Get(_ context.Context, key string) (*Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	cp := *obj
	cp.Metadata = obj.Metadata.Clone()
	cp.Body = append([]byte(nil), obj.Body...)
	return &cp, nil
}

func (c *memoryClient) Head(_ context.Context, key string) (*Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	cp := *obj
	cp.Metadata = obj.Metadata.Clone()
	cp.Body = nil
	return &cp, nil
}

func (c *memoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, key)
	return nil
}

func (c *memoryClient) List(_ context.Context, prefix, token string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	c.mu.RLock()
	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) && (token == "" || k > token) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	page := &ListPage{}
	if len(keys) > limit {
		page.Keys = keys[:limit]
		page.NextToken = keys[limit-1]
		page.Truncated = true
	} else {
		page.Keys = keys
	}
	c.mu.RLock()
	for _, k := range page.Keys {
		if obj, ok := c.objects[k]; ok {
			page.Entries = append(page.Entries, ListEntry{Key: k, Size: obj.Size, LastModified: obj.LastModified})
		} else {
			page.Entries = append(page.Entries, ListEntry{Key: k})
		}
	}
	c.mu.RUnlock()
	return page, nil
}

func (c *memoryClient) Close() error { return nil }
