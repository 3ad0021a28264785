// Package storage persists benchmark and execution records as JSON documents,
// optionally zstd-compressed, on a local directory, an S3 bucket or Postgres.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind tells which record type a key holds
type Kind string

const (
	KindBenchmark Kind = "benchmark"
	KindExecution Kind = "test_execution"
)

const (
	keyTimeLayout  = "20060102_150405"
	jsonExt        = ".json"
	zstdExt        = ".zst"
	maxKeyAttempts = 100
)

var (
	// ErrNotFound is returned when no record exists under a key
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by a backend that refuses to overwrite a key
	ErrExists = errors.New("record already exists")
)

// Backend stores opaque documents by key
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// Store encodes records and names them by creation time and kind:
// 20060102_150405_benchmark.json, with a -N suffix on the time when the
// second is already taken and .zst appended when compressed.
type Store struct {
	backend  Backend
	compress bool
	codec    *zstdCodec
	now      func() time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	used map[string]bool
}

// Option configures a store
type Option func(*Store)

// WithCompression stores records zstd-compressed
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

// WithLogger adds logging
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time used in keys
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on top of backend
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		codec:   newZstdCodec(),
		now:     time.Now,
		logger:  zap.NewNop(),
		used:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save encodes v and stores it under a fresh key, which it returns. When only
// a mirror failed the key is returned together with the error.
func (s *Store) Save(ctx context.Context, kind Kind, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	if s.compress {
		if data, err = s.codec.compress(data); err != nil {
			return "", fmt.Errorf("compress %s: %w", kind, err)
		}
	}

	stamp := s.now().UTC().Format(keyTimeLayout)
	for seq := 1; seq <= maxKeyAttempts; seq++ {
		key := s.reserve(stamp, kind, seq)
		if key == "" {
			continue
		}

		err := s.backend.Put(ctx, key, data)
		switch {
		case errors.Is(err, ErrExists):
			continue
		case errors.Is(err, ErrMirrorFailed):
			s.logger.Warn("record saved without all mirrors", zap.String("key", key), zap.Error(err))
			return key, err
		case err != nil:
			return "", fmt.Errorf("save %s: %w", key, err)
		}

		s.logger.Info("record saved", zap.String("key", key), zap.Int("bytes", len(data)))
		return key, nil
	}
	return "", fmt.Errorf("%w: no free key for %s at %s", ErrExists, kind, stamp)
}

func (s *Store) reserve(stamp string, kind Kind, seq int) string {
	key := stamp
	if seq > 1 {
		key = fmt.Sprintf("%s-%d", stamp, seq)
	}
	key += "_" + string(kind) + jsonExt
	if s.compress {
		key += zstdExt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used[key] {
		return ""
	}
	s.used[key] = true
	return key
}

// Load decodes the record stored under key into v
func (s *Store) Load(ctx context.Context, key string, v any) error {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	return s.decode(key, data, v)
}

// List returns the keys holding records of kind, oldest first
func (s *Store) List(ctx context.Context, kind Kind) ([]string, error) {
	keys, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	var out []string
	for _, key := range keys {
		if KindOf(key) == kind {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, ni := keyOrder(out[i])
		sj, nj := keyOrder(out[j])
		if si != sj {
			return si < sj
		}
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out, nil
}

// Latest returns up to n keys of kind, newest last
func (s *Store) Latest(ctx context.Context, kind Kind, n int) ([]string, error) {
	keys, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	return keys, nil
}

// keyOrder splits a key into its time stamp and collision sequence; the
// first key of a second has sequence 1
func keyOrder(key string) (string, int) {
	stamp, _, _ := strings.Cut(key, "_"+string(KindOf(key)))
	stamp, suffix, ok := strings.Cut(stamp, "-")
	if !ok {
		return stamp, 1
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return stamp, 0
	}
	return stamp, seq
}

func (s *Store) decode(key string, data []byte, v any) error {
	if strings.HasSuffix(key, zstdExt) {
		plain, err := s.codec.decompress(data)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", key, err)
		}
		data = plain
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// KindOf returns the record kind encoded in a key, or "" for foreign keys
func KindOf(key string) Kind {
	name := strings.TrimSuffix(key, zstdExt)
	if !strings.HasSuffix(name, jsonExt) {
		return ""
	}
	name = strings.TrimSuffix(name, jsonExt)
	for _, kind := range []Kind{KindExecution, KindBenchmark} {
		if strings.HasSuffix(name, "_"+string(kind)) {
			return kind
		}
	}
	return ""
}

// ReadFile decodes a record file from any path, compressed or not
func ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	s := &Store{codec: newZstdCodec()}
	return s.decode(path, data, v)
}
