// Package storage defines the object storage abstractions used for harvest state and
// existing-data lookups. Backends live in subpackages (local, memory, gcs, s3).
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotExist is returned when an object is missing.
var ErrNotExist = errors.New("object does not exist")

// Reader fetches whole objects by key.
type Reader interface {
	// Get returns the object content or an error wrapping ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store reads and fully overwrites objects by key.
type Store interface {
	Reader
	// Put replaces the object content.
	Put(ctx context.Context, key string, data []byte) error
}

// Location is a parsed storage URI such as s3://bucket/prefix or a plain local path.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseLocation splits a storage path into scheme, bucket and key prefix.
// Paths without a scheme are local directories; Bucket then holds the directory.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, errors.New("storage path is required")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: "file", Bucket: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse storage path %q: %w", raw, err)
	}
	if u.Scheme == "file" {
		return Location{Scheme: "file", Bucket: u.Path}, nil
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("storage path %q has no bucket", raw)
	}
	return Location{
		Scheme: u.Scheme,
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Key joins the location prefix with the given path parts.
func (l Location) Key(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if l.Prefix != "" {
		all = append(all, l.Prefix)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			all = append(all, p)
		}
	}
	return strings.Join(all, "/")
}
