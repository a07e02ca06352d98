// Package cache maintains the versioned resource caches the worker serves
// from when the backend is unreachable. Exactly one generation is current;
// stale generations are swept on activation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// maxResourceSize caps a single cached resource.
const maxResourceSize = 8 << 20 // 8 MiB

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

// Entry is one cached resource.
type Entry struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	Body        []byte    `json:"body"`
}

// Storage holds all cache generations under one root directory.
type Storage struct {
	root   string
	client *http.Client
	logger *slog.Logger
}

// NewStorage creates cache storage rooted at dir.
func NewStorage(dir string, client *http.Client, logger *slog.Logger) *Storage {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Storage{
		root:   dir,
		client: client,
		logger: logger,
	}
}

// Open returns the named cache, creating it if absent.
func (s *Storage) Open(name string) (*Cache, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid cache name %q", name)
	}
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &Cache{
		name:   name,
		dir:    dir,
		client: s.client,
		logger: s.logger,
	}, nil
}

// Keys lists the existing cache generation names.
func (s *Storage) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && namePattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Delete removes a cache generation. Reports whether it existed.
func (s *Storage) Delete(name string) (bool, error) {
	if !namePattern.MatchString(name) {
		return false, fmt.Errorf("invalid cache name %q", name)
	}
	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	s.logger.Info("Cache generation deleted", "name", name)
	return true, nil
}

// Cache is one named generation of cached resources.
type Cache struct {
	name   string
	dir    string
	client *http.Client
	logger *slog.Logger
}

// Name returns the generation name.
func (c *Cache) Name() string { return c.name }

// AddAll fetches every URL and stores the responses. Any fetch failure
// fails the whole operation, which in turn fails the install that called
// it; the platform retries installation later.
func (c *Cache) AddAll(ctx context.Context, urls []string) error {
	for _, resource := range urls {
		if err := c.Add(ctx, resource); err != nil {
			return fmt.Errorf("precache %s: %w", resource, err)
		}
	}
	c.logger.Info("Cache populated", "name", c.name, "resources", len(urls))
	return nil
}

// Add fetches one URL and stores the response.
func (c *Cache) Add(ctx context.Context, resource string) error {
	var entry *Entry

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			start := time.Now()
			resp, err := c.client.Do(req)
			if err != nil {
				c.logger.Warn("Resource fetch failed, will retry", "url", resource, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("HTTP %d", resp.StatusCode)
				// A missing manifest resource will not appear on retry.
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			c.logger.Debug("Resource fetched",
				"url", resource,
				"bytes", len(body),
				"duration_ms", time.Since(start).Milliseconds())

			entry = &Entry{
				URL:         resource,
				ContentType: resp.Header.Get("Content-Type"),
				FetchedAt:   time.Now().UTC(),
				Body:        body,
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			c.logger.Info("Retrying resource fetch", "attempt", n, "url", resource, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}

	return c.put(entry)
}

// Put stores a resource without fetching it.
func (c *Cache) Put(resource, contentType string, body []byte) error {
	return c.put(&Entry{
		URL:         resource,
		ContentType: contentType,
		FetchedAt:   time.Now().UTC(),
		Body:        body,
	})
}

func (c *Cache) put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(c.entryPath(entry.URL), data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Match returns the cached entry for a URL, if any.
func (c *Cache) Match(resource string) (*Entry, bool, error) {
	data, err := os.ReadFile(c.entryPath(resource))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, true, nil
}

func (c *Cache) entryPath(resource string) string {
	sum := sha256.Sum256([]byte(resource))
	return filepath.Join(c.dir, fmt.Sprintf("%x.json", sum[:16]))
}
