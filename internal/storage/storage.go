// Package storage defines the blob store used to keep imported source files
// and ledger exports outside the database.
//
// Backends register themselves from an init function in their own package:
//
//	func init() {
//	    storage.Register("local", func(cfg *config.StorageConfig) (storage.Storage, error) {
//	        return New(cfg.LocalPath)
//	    })
//	}
//
// cmd/server blank-imports every backend, so New only has to look up the name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/horizon/portal-ledger/internal/config"
)

// ErrNotFound is returned by Download when nothing is stored at the path.
var ErrNotFound = errors.New("storage: object not found")

// Storage is implemented by every blob backend. Paths are slash separated.
type Storage interface {
	// Upload stores the content at path, replacing any previous object.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object at path. The caller closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path; a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path string

	// Size is the number of bytes written
	Size int64

	// Checksum is the hex SHA-256 of the content
	Checksum string
}

// FactoryFunc builds a backend from the storage configuration.
type FactoryFunc func(*config.StorageConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register makes a backend available under name.
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// New builds the configured backend. The "none" backend yields a nil Storage,
// which callers treat as "keep nothing".
func New(cfg *config.StorageConfig) (Storage, error) {
	name := strings.ToLower(cfg.Backend)
	if name == "" || name == "none" {
		return nil, nil
	}

	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %s)", cfg.Backend, strings.Join(registered(), ", "))
	}

	return factory(cfg)
}

func registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
