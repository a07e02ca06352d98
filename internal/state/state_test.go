package state

import (
	"context"
	"log/slog"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	return New(nil, "", t.TempDir(), slog.Default())
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)

	in := record{Name: "subscription", Count: 3}
	if err := s.Save(ctx, "subscription.json", &in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var out record
	if err := s.Load(ctx, "subscription.json", &out); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out != in {
		t.Errorf("Load() = %+v, want %+v", out, in)
	}

	if err := s.Delete(ctx, "subscription.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Load(ctx, "subscription.json", &out); !IsNotFound(err) {
		t.Errorf("Load() after delete error = %v, want not-found", err)
	}
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := newLocalStore(t)
	var out record
	if err := s.Load(context.Background(), "nothing.json", &out); !IsNotFound(err) {
		t.Errorf("Load() error = %v, want not-found", err)
	}
}

func TestDeleteMissingIsIdempotent(t *testing.T) {
	s := newLocalStore(t)
	if err := s.Delete(context.Background(), "nothing.json"); err != nil {
		t.Errorf("Delete() of missing record error = %v, want nil", err)
	}
}

func TestInvalidKeysRejected(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)

	keys := []string{"../escape.json", "no-extension", "UPPER.json", "/abs.json", ".hidden.json"}
	for _, key := range keys {
		if err := s.Save(ctx, key, record{}); err == nil {
			t.Errorf("Save(%q) should reject the key", key)
		}
		if err := s.Load(ctx, key, &record{}); err == nil || IsNotFound(err) {
			t.Errorf("Load(%q) should reject the key, got %v", key, err)
		}
	}
}

func TestKeysPrefix(t *testing.T) {
	ctx := context.Background()
	s := newLocalStore(t)

	for _, key := range []string{"cache-v1.json", "cache-v2.json", "subscription.json"} {
		if err := s.Save(ctx, key, record{Name: key}); err != nil {
			t.Fatalf("Save(%q) error = %v", key, err)
		}
	}

	keys, err := s.Keys(ctx, "cache-")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys(cache-) = %v, want 2 entries", keys)
	}
	for _, k := range keys {
		if k != "cache-v1.json" && k != "cache-v2.json" {
			t.Errorf("unexpected key %q", k)
		}
	}
}
