// Package storage keeps report documents in durable object storage. Objects
// are keyed by client, feature and file name.
package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Store uploads and downloads objects.
type Store interface {
	// Upload stores data and returns the path it can be downloaded from.
	Upload(ctx context.Context, data []byte, clientID int64, feature, filename string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// ObjectKey builds the object key for a client's file.
func ObjectKey(clientID int64, feature, filename string) string {
	return path.Join("clients", strconv.FormatInt(clientID, 10), feature, filename)
}

// splitPath breaks "<scheme>://<bucket>/<key>" into bucket and key.
func splitPath(p, scheme string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(p, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("path %q is not a %s path", p, scheme)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed %s path %q", scheme, p)
	}
	return bucket, key, nil
}
