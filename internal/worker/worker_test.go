package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webpush-agent/internal/cache"
	"webpush-agent/internal/clients"
	"webpush-agent/internal/display"
	"webpush-agent/internal/state"
	"webpush-agent/pkg/push"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newShellServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/app.js", "/app.css", "/offline.html":
			w.Header().Set("Content-Type", "text/plain")
			if _, err := w.Write([]byte("shell " + r.URL.Path)); err != nil {
				t.Errorf("write response: %v", err)
			}
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T, provider display.Provider, cacheName string, manifest []string) (*Worker, *cache.Storage, *clients.Registry) {
	t.Helper()
	logger := testLogger()
	store := state.New(nil, "", t.TempDir(), logger)
	caches := cache.NewStorage(t.TempDir(), http.DefaultClient, logger)
	registry := clients.New(logger)
	w := New(&Config{
		Store:     store,
		Caches:    caches,
		Surface:   display.New(provider, logger),
		Registry:  registry,
		Logger:    logger,
		CacheName: cacheName,
		Manifest:  manifest,
		Budget:    10 * time.Second,
	})
	return w, caches, registry
}

func TestRegisterInstallsAndActivates(t *testing.T) {
	srv := newShellServer(t)
	manifest := []string{srv.URL + "/", srv.URL + "/app.js"}
	w, caches, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "site-cache-v1", manifest)

	ctx := context.Background()
	open := registry.Add("/orders")

	if err := w.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	list := registry.List(ctx)
	if len(list) != 1 || list[0].ID != open.ID || !list[0].Controlled {
		t.Errorf("List() = %+v, want the open window claimed on activate", list)
	}

	reg, err := w.Registration(ctx)
	if err != nil {
		t.Fatalf("Registration() error = %v", err)
	}
	if reg == nil || reg.State != StateActive {
		t.Fatalf("Registration() = %+v, want state %q", reg, StateActive)
	}
	if reg.CacheName != "site-cache-v1" {
		t.Errorf("Registration().CacheName = %q, want site-cache-v1", reg.CacheName)
	}

	c, err := caches.Open("site-cache-v1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, res := range manifest {
		entry, ok, err := c.Match(res)
		if err != nil || !ok {
			t.Fatalf("Match(%q) = %v, %v, %v, want cached entry", res, entry, ok, err)
		}
	}
}

func TestRegisterFailsWhenPrecacheFails(t *testing.T) {
	srv := newShellServer(t)
	manifest := []string{srv.URL + "/", srv.URL + "/does-not-exist.js"}
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "site-cache-v1", manifest)

	ctx := context.Background()
	if err := w.Register(ctx); err == nil {
		t.Fatal("Register() = nil error, want precache failure")
	}

	reg, err := w.Registration(ctx)
	if err != nil {
		t.Fatalf("Registration() error = %v", err)
	}
	if reg == nil || reg.State != StateInstalling {
		t.Errorf("Registration() state = %v, want %q after failed install", reg, StateInstalling)
	}
}

func TestActivateSweepsStaleGenerations(t *testing.T) {
	srv := newShellServer(t)
	manifest := []string{srv.URL + "/"}
	w, caches, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "site-cache-v2", manifest)

	ctx := context.Background()

	// A previous generation left behind by an older worker version.
	old, err := caches.Open("site-cache-v1")
	if err != nil {
		t.Fatalf("Open(v1) error = %v", err)
	}
	if err := old.Put(srv.URL+"/", "text/plain", []byte("old shell")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := w.Register(ctx); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	names, err := caches.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(names) != 1 || names[0] != "site-cache-v2" {
		t.Errorf("Keys() after activate = %v, want [site-cache-v2]", names)
	}
}

func TestRegisterIsIdempotentOnceActive(t *testing.T) {
	srv := newShellServer(t)
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "site-cache-v1", []string{srv.URL + "/"})

	ctx := context.Background()
	if err := w.Register(ctx); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	srv.Close() // shell unreachable: a re-register must not refetch
	if err := w.Register(ctx); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}
}

func TestPushWithoutPayloadShowsNothing(t *testing.T) {
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)

	err := w.Push(context.Background(), PushEvent{ID: "d1", ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got := w.surface.Active(); len(got) != 0 {
		t.Errorf("Active() = %d notifications, want 0", len(got))
	}
}

func TestPushShowsNotification(t *testing.T) {
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)

	data := []byte(`{"title":"New order","body":"Order #42 placed","data":{"notification_type":"order","notification_id":42}}`)
	if err := w.Push(context.Background(), PushEvent{ID: "d1", Data: data}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	active := w.surface.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d notifications, want 1", len(active))
	}
	shown := active[0]
	if shown.Title != "New order" {
		t.Errorf("Title = %q, want New order", shown.Title)
	}
	if shown.Options.Tag != "notification-42" {
		t.Errorf("Tag = %q, want notification-42", shown.Options.Tag)
	}
	if len(shown.Options.Actions) != 1 || shown.Options.Actions[0].Action != "open" {
		t.Errorf("Actions = %+v, want single open action", shown.Options.Actions)
	}
}

func TestPushRepeatReplacesByTag(t *testing.T) {
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	first := []byte(`{"title":"One","data":{"notification_id":"7"}}`)
	second := []byte(`{"title":"Two","data":{"notification_id":"7"}}`)
	if err := w.Push(ctx, PushEvent{ID: "d1", Data: first}); err != nil {
		t.Fatalf("first Push() error = %v", err)
	}
	if err := w.Push(ctx, PushEvent{ID: "d2", Data: second}); err != nil {
		t.Fatalf("second Push() error = %v", err)
	}

	active := w.surface.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d notifications, want 1 after tag replacement", len(active))
	}
	if active[0].Title != "Two" {
		t.Errorf("Title = %q, want Two", active[0].Title)
	}
}

func TestPushGarbageShowsFallback(t *testing.T) {
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)

	if err := w.Push(context.Background(), PushEvent{ID: "d1", Data: []byte("{broken")}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	active := w.surface.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d notifications, want 1", len(active))
	}
	if active[0].Title != "New notification" {
		t.Errorf("Title = %q, want the fallback title", active[0].Title)
	}
}

func TestPushRetriesWithMinimalOptions(t *testing.T) {
	w, _, _ := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)

	// Three actions exceed the surface limit, so the first display attempt
	// fails and the handler retries with body-only options.
	data := []byte(`{"title":"Busy","body":"lots to do","data":{"notification_id":1},` +
		`"actions":[{"action":"a","title":"A"},{"action":"b","title":"B"},{"action":"c","title":"C"}]}`)
	if err := w.Push(context.Background(), PushEvent{ID: "d1", Data: data}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	active := w.surface.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d notifications, want 1 from the minimal retry", len(active))
	}
	shown := active[0]
	if shown.Options.Body != "lots to do" {
		t.Errorf("Body = %q, want lots to do", shown.Options.Body)
	}
	if len(shown.Options.Actions) != 0 || shown.Options.Tag != "" || shown.Options.Icon != "" {
		t.Errorf("minimal retry kept rich options: %+v", shown.Options)
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }
func (failingProvider) Send(context.Context, string, push.Options) error {
	return errors.New("tray unavailable")
}

func TestPushDropsWhenDisplayKeepsFailing(t *testing.T) {
	w, _, _ := newTestWorker(t, failingProvider{}, "c", nil)

	err := w.Push(context.Background(), PushEvent{ID: "d1", Data: []byte(`{"title":"hi"}`)})
	if err != nil {
		t.Fatalf("Push() error = %v, want nil even when display fails", err)
	}
	if got := w.surface.Active(); len(got) != 0 {
		t.Errorf("Active() = %d notifications, want 0 after drop", len(got))
	}
}

func TestClickFocusesExistingWindow(t *testing.T) {
	w, _, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	registry.Add("/orders/42")

	data := []byte(`{"title":"Order","data":{"notification_type":"order","notification_id":42,"related_object_id":42}}`)
	if err := w.Push(ctx, PushEvent{ID: "d1", Data: data}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	shown := w.surface.Active()[0]

	if err := w.Click(ctx, ClickEvent{NotificationID: shown.ID, Action: "view-order"}); err != nil {
		t.Fatalf("Click() error = %v", err)
	}

	if _, ok := w.surface.Get(shown.ID); ok {
		t.Error("notification still shown after click")
	}
	list := registry.List(ctx)
	if len(list) != 1 {
		t.Fatalf("List() = %d clients, want the existing window focused, not a new one", len(list))
	}
	if !list[0].Focused {
		t.Error("existing window not focused after click")
	}
}

func TestClickOpensWindowWhenNoneMatches(t *testing.T) {
	w, _, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	data := []byte(`{"title":"Msg","data":{"notification_type":"message","notification_id":9,"chat_id":"abc"}}`)
	if err := w.Push(ctx, PushEvent{ID: "d1", Data: data}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	shown := w.surface.Active()[0]

	if err := w.Click(ctx, ClickEvent{NotificationID: shown.ID, Action: "reply"}); err != nil {
		t.Fatalf("Click() error = %v", err)
	}

	list := registry.List(ctx)
	if len(list) != 1 {
		t.Fatalf("List() = %d clients, want 1 opened window", len(list))
	}
	if want := "/messages?chat=abc"; list[0].URL != want {
		t.Errorf("opened URL = %q, want %q", list[0].URL, want)
	}
}

func TestClickUnknownNotificationIsHarmless(t *testing.T) {
	w, _, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	if err := w.Click(ctx, ClickEvent{NotificationID: "nope"}); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if got := registry.List(ctx); len(got) != 0 {
		t.Errorf("List() = %d clients, want no navigation for an unknown click", len(got))
	}
}

func TestClickIsIdempotent(t *testing.T) {
	w, _, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	if err := w.Push(ctx, PushEvent{ID: "d1", Data: []byte(`{"title":"hi","data":{"link":"/deals"}}`)}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	shown := w.surface.Active()[0]

	for i := 0; i < 2; i++ {
		if err := w.Click(ctx, ClickEvent{NotificationID: shown.ID}); err != nil {
			t.Fatalf("Click() #%d error = %v", i+1, err)
		}
	}

	list := registry.List(ctx)
	if len(list) != 1 {
		t.Fatalf("List() = %d clients, want 1 after a double click", len(list))
	}
	if list[0].URL != "/deals" {
		t.Errorf("opened URL = %q, want /deals", list[0].URL)
	}
}

func TestCloseRemovesNotification(t *testing.T) {
	w, _, registry := newTestWorker(t, display.NewLogProvider(testLogger()), "c", nil)
	ctx := context.Background()

	if err := w.Push(ctx, PushEvent{ID: "d1", Data: []byte(`{"title":"hi"}`)}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	shown := w.surface.Active()[0]

	if err := w.Close(ctx, CloseEvent{NotificationID: shown.ID}); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := w.surface.Active(); len(got) != 0 {
		t.Errorf("Active() = %d notifications, want 0 after close", len(got))
	}
	if got := registry.List(ctx); len(got) != 0 {
		t.Errorf("List() = %d clients, want no navigation on close", len(got))
	}
}

func TestDispatcherAbandonsOverrunningHandler(t *testing.T) {
	d := newDispatcher(50*time.Millisecond, testLogger())

	err := d.waitUntil(context.Background(), "push", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "push event") {
		t.Fatalf("waitUntil() error = %v, want lifetime budget exceeded", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waitUntil() error = %v, want context.DeadlineExceeded", err)
	}
}
