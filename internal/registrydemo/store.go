// Package registrydemo is a small content-addressed blob store: the Go
// realization of the registry service's storage backend, grounded on
// common/include/common/registry.hpp's registry class (store/retrieve
// keyed by a data_class string and a numeric id, backed by a directory on
// disk). The RPC-facing protocol built on top of it lives in
// internal/protocol/registry.
package registrydemo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/smolrpc/smolrpc/async"
)

// Store is a directory-backed blob store: one subdirectory per data class,
// one file per id within it.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("smolrpc/registrydemo: creating data directory %q: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(dataClass string, id uint64) (string, error) {
	if dataClass == "" || filepath.Base(dataClass) != dataClass {
		return "", fmt.Errorf("smolrpc/registrydemo: invalid data class %q", dataClass)
	}
	dir := filepath.Join(s.root, dataClass)
	return filepath.Join(dir, strconv.FormatUint(id, 10)), nil
}

// Store writes data under (dataClass, id), creating the data class's
// subdirectory on first use. Grounded on registry_impl::store's
// catch_(...).else_(...) chain: any failure resolves the returned promise
// to false rather than rejecting it, so a failed store is a reportable
// outcome to the caller, not a protocol error.
func (s *Store) Store(dataClass string, id uint64, data []byte) *async.Promise[bool] {
	target, err := s.path(dataClass, id)
	if err != nil {
		return async.Resolved(false)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return async.Resolved(false)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return async.Resolved(false)
	}
	return async.Resolved(true)
}

// Retrieve reads back data previously stored under (dataClass, id).
// Grounded on registry_impl::retrieve's optional<vector<byte>> result: a
// missing entry is approximated here as a nil slice (see DESIGN.md) rather
// than a distinct error type, since the wire grammar has no optional<T> of
// its own to carry the distinction across the RPC boundary — the protocol
// layer in internal/protocol/registry encodes "found" as a non-empty
// vec<byte> and "not found" as an empty one.
func (s *Store) Retrieve(dataClass string, id uint64) *async.Promise[[]byte] {
	target, err := s.path(dataClass, id)
	if err != nil {
		return async.Resolved[[]byte](nil)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return async.Resolved[[]byte](nil)
		}
		return async.Resolved[[]byte](nil)
	}
	return async.Resolved(data)
}
