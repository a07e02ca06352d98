// Package state persists the durable platform state of the agent: the
// subscription record, the permission grant, and the worker registration.
// Nothing the event handlers need survives in process memory; everything
// goes through this store.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("state: record not found")

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*\.json$`)

// Store persists JSON records either on the local filesystem or in a
// Cloud Storage bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a store. When localPath is non-empty the local filesystem is
// used and client/bucket are ignored.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Save writes a record. The key must be a simple filename ending in .json;
// anything else is rejected to keep path traversal out of the store.
func (s *Store) Save(ctx context.Context, key string, v any) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid state key %q", key)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if s.localPath != "" {
		path := filepath.Join(s.localPath, key)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write to local state: %w", err)
		}
		s.logger.Debug("State saved", "key", key, "bytes", len(data))
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state save", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("State saved", "key", key, "bytes", len(data))
	return nil
}

// Load reads a record into v. Returns ErrNotFound when the record does not
// exist.
func (s *Store) Load(ctx context.Context, key string, v any) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid state key %q", key)
	}

	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("read from local state: %w", err)
		}
	} else {
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying state load", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load after retries: %w", err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid state key %q", key)
	}

	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local state: %w", err)
		}
		s.logger.Debug("State deleted", "key", key)
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state delete", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Debug("State deleted", "key", key)
	return nil
}

// Keys lists record names with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local state directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !keyPattern.MatchString(name) {
				continue
			}
			if strings.HasPrefix(name, prefix) {
				keys = append(keys, name)
			}
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
