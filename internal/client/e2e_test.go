package client

import (
	"context"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/cebarrett/todo/internal/app"
	"github.com/cebarrett/todo/internal/auth"
	"github.com/cebarrett/todo/internal/store"
)

func newAPIServer(t *testing.T) (*httptest.Server, *auth.Verifier) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, "file:client-e2e?mode=memory&_txlock=immediate")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	migrations, err := store.Migrations(store.DriverSQLite, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatal(err)
	}

	verifier := auth.NewVerifier([]byte("e2e-secret"), "todo-api", "todo")
	server, err := app.NewHTTPServer(app.New(store.NewSQLStore(db, store.DriverSQLite), verifier), app.HTTPConfig{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, verifier
}

func TestControllerAgainstServer(t *testing.T) {
	srv, verifier := newAPIServer(t)
	token, err := verifier.Issue("alice", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	api := New(srv.URL, token, Options{Backoff: time.Millisecond})
	notifier := &recordingNotifier{}
	c := NewController(api, ControllerOptions{Notifier: notifier})
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	a, _ := c.Add("Buy milk")
	b, _ := c.Add("Walk dog")
	cc, _ := c.Add("Pay bills")
	flush(t, c)

	if err := c.Reorder([]string{cc, a, b}); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(a); err != nil {
		t.Fatal(err)
	}
	flush(t, c)

	server, err := api.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := visibleTexts(server); !slices.Equal(got, []string{"Pay bills", "Walk dog"}) {
		t.Fatalf("server list = %v", got)
	}
	if got := visibleTexts(c.Items()); !slices.Equal(got, []string{"Pay bills", "Walk dog"}) {
		t.Fatalf("visible list = %v", got)
	}
	if notifier.count() != 0 {
		t.Fatalf("unexpected failures %+v", notifier.failures)
	}

	other, _ := verifier.Issue("bob", nil, time.Hour)
	if _, err := New(srv.URL, other, Options{}).Update(context.Background(), server[0].ID, UpdateRequest{Text: ptr("mine now")}); KindOf(err) != KindNotFound {
		t.Fatalf("cross-owner update = %v", err)
	}
	if _, err := New(srv.URL, "", Options{}).List(context.Background()); KindOf(err) != KindAuth {
		t.Fatalf("anonymous list = %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
