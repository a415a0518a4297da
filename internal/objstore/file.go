package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// fileClient stores objects on the local filesystem: the body at the
// escaped key path, and metadata in a sidecar JSON file next to it.
// Intended for tests and single-node deployments, not for concurrent
// multi-process access.
type fileClient struct {
	root string
}

const metaSuffix = ".meta.json"

type fileMeta struct {
	Metadata    Metadata `json:"metadata"`
	ContentType string   `json:"contentType"`
}

func newFileBackend(_ context.Context, cs *ConnString, _ Options) (Client, error) {
	root := cs.Path
	if cs.Prefix != "" {
		root = filepath.Join(root, cs.Prefix)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileClient{root: root}, nil
}

// escapeSegment makes a key segment filesystem-safe while keeping the
// slash-separated hierarchy (so List prefixes keep working).
func escapeSegment(seg string) string {
	return url.PathEscape(seg)
}

func (c *fileClient) pathFor(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = escapeSegment(s)
	}
	return filepath.Join(append([]string{c.root}, segs...)...)
}

func (c *fileClient) keyFor(path string) (string, error) {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", err
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segs {
		u, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		segs[i] = u
	}
	return strings.Join(segs, "/"), nil
}

func (c *fileClient) Put(_ context.Context, key string, meta Metadata, body []byte, contentType string) error {
	path := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	mm, err := json.Marshal(fileMeta{Metadata: meta, ContentType: contentType})
	if err != nil {
		return err
	}
	return os.WriteFile(path+metaSuffix, mm, 0o644)
}

func (c *fileClient) Get(_ context.Context, key string) (*Object, error) {
	path := c.pathFor(key)
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, err
	}
	obj, err := c.head(key, path)
	if err != nil {
		return nil, err
	}
	obj.Body = body
	return obj, nil
}

func (c *fileClient) Head(_ context.Context, key string) (*Object, error) {
	path := c.pathFor(key)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, err
	}
	return c.head(key, path)
}

func (c *fileClient) head(key, path string) (*Object, error) {
	obj := &Object{Key: key, Metadata: Metadata{}}
	if st, err := os.Stat(path); err == nil {
		obj.Size = st.Size()
		obj.LastModified = st.ModTime().UTC()
	}
	mm, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return obj, nil
		}
		return nil, err
	}
	var fm fileMeta
	if err := json.Unmarshal(mm, &fm); err != nil {
		return nil, err
	}
	obj.Metadata = fm.Metadata
	obj.ContentType = fm.ContentType
	return obj, nil
}

func (c *fileClient) Delete(_ context.Context, key string) error {
	path := c.pathFor(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *fileClient) List(_ context.Context, prefix, token string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	var keys []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return err
		}
		key, kerr := c.keyFor(path)
		if kerr != nil {
			return nil // skip undecodable entries
		}
		if strings.HasPrefix(key, prefix) && (token == "" || key > token) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	page := &ListPage{}
	if len(keys) > limit {
		page.Keys = keys[:limit]
		page.NextToken = keys[limit-1]
		page.Truncated = true
	} else {
		page.Keys = keys
	}
	for _, k := range page.Keys {
		entry := ListEntry{Key: k}
		if st, err := os.Stat(c.pathFor(k)); err == nil {
			entry.Size = st.Size()
			entry.LastModified = st.ModTime().UTC()
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (c *fileClient) Close() error { return nil }
