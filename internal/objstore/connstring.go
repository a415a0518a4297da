package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ConnString is a parsed, normalized connection string.
//
//	s3://ACCESS:SECRET@bucket/prefix?region=us-east-1&endpoint=...&forcePathStyle=true
//	file:///var/lib/strata
//	memory://
//
// Credentials are URL-decoded; the prefix never carries leading or
// trailing slashes.
type ConnString struct {
	Scheme         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// Path is the filesystem root for file:// connection strings.
	Path string
}

// ParseConnString parses and validates a connection string.
func ParseConnString(raw string) (*ConnString, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	cs := &ConnString{Scheme: u.Scheme}
	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("s3 connection string missing bucket")
		}
		cs.Bucket = u.Host
		cs.Prefix = strings.Trim(u.Path, "/")
		if u.User != nil {
			cs.AccessKey = u.User.Username()
			if pw, ok := u.User.Password(); ok {
				cs.SecretKey = pw
			}
		}
		q := u.Query()
		cs.Region = q.Get("region")
		cs.Endpoint = q.Get("endpoint")
		cs.ForcePathStyle = q.Get("forcePathStyle") == "true"
		if cs.Region == "" {
			cs.Region = "us-east-1"
		}
		return cs, nil

	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/path puts the first segment in Host.
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, fmt.Errorf("file connection string missing path")
		}
		cs.Path = path
		cs.Prefix = strings.Trim(u.Query().Get("prefix"), "/")
		return cs, nil

	case "memory":
		cs.Prefix = strings.Trim(u.Path, "/")
		return cs, nil
	}
	return nil, fmt.Errorf("unsupported connection string scheme: %q", u.Scheme)
}

// BackendFactory creates a backend client from a parsed connection string.
type BackendFactory func(ctx context.Context, cs *ConnString, opts Options) (Client, error)

var backendRegistry = map[string]BackendFactory{}

// RegisterBackend registers a backend factory under a URL scheme.
// Called from backend init functions.
func RegisterBackend(scheme string, factory BackendFactory) {
	backendRegistry[scheme] = factory
}

// Open parses a connection string and opens the matching backend.
func Open(ctx context.Context, raw string, opts Options) (Client, error) {
	cs, err := ParseConnString(raw)
	if err != nil {
		return nil, err
	}
	factory, ok := backendRegistry[cs.Scheme]
	if !ok {
		return nil, fmt.Errorf("no backend registered for scheme %q", cs.Scheme)
	}
	return factory(ctx, cs, opts.withDefaults())
}

func init() {
	RegisterBackend("s3", newS3Backend)
	RegisterBackend("file", newFileBackend)
	RegisterBackend("memory", newMemoryBackend)
}
