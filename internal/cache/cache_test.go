package cache

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"testing"
)

func TestAddAllAndMatch(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>shell</html>"))
		case "/static/app.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("console.log('hi')"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewStorage(t.TempDir(), srv.Client(), slog.Default())
	c, err := s.Open("agent-shell-v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := c.AddAll(ctx, []string{srv.URL + "/", srv.URL + "/static/app.js"}); err != nil {
		t.Fatalf("AddAll() error = %v", err)
	}

	entry, ok, err := c.Match(srv.URL + "/static/app.js")
	if err != nil || !ok {
		t.Fatalf("Match() = %v, %v", ok, err)
	}
	if string(entry.Body) != "console.log('hi')" {
		t.Errorf("cached body = %q", entry.Body)
	}
	if entry.ContentType != "application/javascript" {
		t.Errorf("cached content type = %q", entry.ContentType)
	}

	if _, ok, _ := c.Match(srv.URL + "/missing"); ok {
		t.Error("Match() should miss for an uncached URL")
	}
}

func TestAddAllFailsOnMissingResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewStorage(t.TempDir(), srv.Client(), slog.Default())
	c, err := s.Open("agent-shell-v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := c.AddAll(context.Background(), []string{srv.URL + "/nope"}); err == nil {
		t.Error("AddAll() should fail when a manifest resource is missing")
	}
}

func TestKeysAndDelete(t *testing.T) {
	s := NewStorage(t.TempDir(), nil, slog.Default())

	for _, name := range []string{"agent-shell-v1", "agent-shell-v2"} {
		if _, err := s.Open(name); err != nil {
			t.Fatalf("Open(%q) error = %v", name, err)
		}
	}

	names, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(names)
	if !slices.Equal(names, []string{"agent-shell-v1", "agent-shell-v2"}) {
		t.Fatalf("Keys() = %v", names)
	}

	existed, err := s.Delete("agent-shell-v1")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v", existed, err)
	}
	existed, err = s.Delete("agent-shell-v1")
	if err != nil || existed {
		t.Fatalf("second Delete() = %v, %v, want false, nil", existed, err)
	}

	names, err = s.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !slices.Equal(names, []string{"agent-shell-v2"}) {
		t.Errorf("Keys() after delete = %v", names)
	}
}

func TestOpenRejectsBadNames(t *testing.T) {
	s := NewStorage(t.TempDir(), nil, slog.Default())
	for _, name := range []string{"", "../escape", "UPPER", "a/b", ".dot"} {
		if _, err := s.Open(name); err == nil {
			t.Errorf("Open(%q) should reject the name", name)
		}
	}
}

func TestDiscoverAssets(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<link rel="stylesheet" href="/static/app.css">
			<link rel="icon" href="/static/favicon.ico">
			<link rel="preconnect" href="https://fonts.example.com">
			<script src="/static/app.js"></script>
			<script src="https://cdn.example.com/lib.js"></script>
		</head><body>
			<img src="/static/logo.png">
			<img src="/static/logo.png">
		</body></html>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := NewStorage(t.TempDir(), srv.Client(), slog.Default())
	assets, err := s.DiscoverAssets(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("DiscoverAssets() error = %v", err)
	}

	want := []string{
		srv.URL + "/static/app.css",
		srv.URL + "/static/favicon.ico",
		srv.URL + "/static/app.js",
		srv.URL + "/static/logo.png",
	}
	sort.Strings(assets)
	sort.Strings(want)
	if !slices.Equal(assets, want) {
		t.Errorf("DiscoverAssets() = %v, want %v", assets, want)
	}
}
