package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// ErrMirrorFailed is returned when the primary stored a record but at least
// one mirror did not
var ErrMirrorFailed = errors.New("mirror write failed")

// MultiBackend writes to a primary backend and copies every record to
// mirrors. Reads fall back to the mirrors in order.
type MultiBackend struct {
	primary Backend
	mirrors []Backend
}

// NewMultiBackend creates a mirrored backend
func NewMultiBackend(primary Backend, mirrors ...Backend) *MultiBackend {
	return &MultiBackend{primary: primary, mirrors: mirrors}
}

// Put writes the primary first; only its failure loses the record
func (m *MultiBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := m.primary.Put(ctx, key, data); err != nil {
		return err
	}

	var result *multierror.Error
	for _, mirror := range m.mirrors {
		if err := mirror.Put(ctx, key, data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMirrorFailed, key, err)
	}
	return nil
}

// Get returns the first copy found
func (m *MultiBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.primary.Get(ctx, key)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return data, err
	}
	for _, mirror := range m.mirrors {
		if data, merr := mirror.Get(ctx, key); merr == nil {
			return data, nil
		}
	}
	return nil, err
}

// List merges the keys of the primary and every reachable mirror. Only a
// primary failure is an error.
func (m *MultiBackend) List(ctx context.Context) ([]string, error) {
	keys, err := m.primary.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		seen[key] = true
	}
	for _, mirror := range m.mirrors {
		more, err := mirror.List(ctx)
		if err != nil {
			continue
		}
		for _, key := range more {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}
