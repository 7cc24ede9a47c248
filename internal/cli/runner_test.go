package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cebarrett/todo/internal/app"
	"github.com/cebarrett/todo/internal/auth"
	"github.com/cebarrett/todo/internal/store"
)

type testRunner struct {
	*Runner
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	env    map[string]string
}

func newTestRunner(t *testing.T) *testRunner {
	t.Helper()
	tr := &testRunner{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, env: map[string]string{}}
	tr.Runner = &Runner{
		Stdout: tr.stdout,
		Stderr: tr.stderr,
		Home:   t.TempDir(),
		Getenv: func(key string) string { return tr.env[key] },
	}
	return tr
}

func (tr *testRunner) run(args ...string) int {
	tr.stdout.Reset()
	tr.stderr.Reset()
	return tr.Run(context.Background(), args)
}

func startServer(t *testing.T) (string, *auth.Verifier) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, "file:cli-"+strings.ReplaceAll(t.Name(), "/", "-")+"?mode=memory&_txlock=immediate")
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
	verifier := auth.NewVerifier([]byte("cli-secret"), "todo-api", "todo")
	server, err := app.NewHTTPServer(app.New(store.NewSQLStore(db, store.DriverSQLite), verifier), app.HTTPConfig{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv.URL, verifier
}

func TestLoginLogout(t *testing.T) {
	tr := newTestRunner(t)

	if code := tr.run("login", "Bearer abc.def.ghi"); code != 0 {
		t.Fatalf("login exit %d: %s", code, tr.stderr)
	}
	info, err := os.Stat(credFilePath(tr.Home))
	if err != nil {
		t.Fatalf("credentials not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("credentials mode = %v", info.Mode().Perm())
	}
	token, err := getToken(tr.Home, tr.Getenv)
	if err != nil || token == nil || token.Token != "abc.def.ghi" || token.Source != "file" {
		t.Fatalf("getToken() = %+v, %v", token, err)
	}

	tr.env["TODO_TOKEN"] = "from-env"
	if token, _ := getToken(tr.Home, tr.Getenv); token.Token != "from-env" || token.Source != "env" {
		t.Fatalf("env token not preferred: %+v", token)
	}
	delete(tr.env, "TODO_TOKEN")

	if code := tr.run("logout"); code != 0 {
		t.Fatalf("logout exit %d", code)
	}
	if token, _ := getToken(tr.Home, tr.Getenv); token != nil {
		t.Fatalf("token survived logout: %+v", token)
	}
}

func TestNotLoggedIn(t *testing.T) {
	tr := newTestRunner(t)
	if code := tr.run("ls"); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(tr.stderr.String(), "not logged in") {
		t.Fatalf("stderr = %q", tr.stderr.String())
	}
}

func TestUsageErrors(t *testing.T) {
	tr := newTestRunner(t)
	for _, args := range [][]string{{}, {"add"}, {"done"}, {"done", "x"}, {"edit", "1"}, {"bogus"}} {
		if code := tr.run(args...); code != 2 {
			t.Errorf("%v: expected exit 2, got %d", args, code)
		}
	}
	if code := tr.run("help"); code != 0 || !strings.Contains(tr.stdout.String(), "Subcommands") {
		t.Fatalf("help exit %d", code)
	}
}

func TestListWorkflow(t *testing.T) {
	url, verifier := startServer(t)
	tr := newTestRunner(t)
	tr.env["TODO_SERVER"] = url
	token, _ := verifier.Issue("alice", nil, time.Hour)
	if code := tr.run("login", token); code != 0 {
		t.Fatalf("login exit %d", code)
	}

	for _, text := range []string{"Buy milk", "Walk dog", "Pay bills"} {
		if code := tr.run(append([]string{"add"}, strings.Fields(text)...)...); code != 0 {
			t.Fatalf("add %q exit %d: %s", text, code, tr.stderr)
		}
	}
	if code := tr.run("order", "3", "1", "2"); code != 0 {
		t.Fatalf("order exit %d: %s", code, tr.stderr)
	}
	if code := tr.run("done", "2"); code != 0 {
		t.Fatalf("done exit %d: %s", code, tr.stderr)
	}
	if code := tr.run("up", "3"); code != 0 {
		t.Fatalf("up exit %d: %s", code, tr.stderr)
	}
	if code := tr.run("edit", "1", "Pay", "all", "bills"); code != 0 {
		t.Fatalf("edit exit %d: %s", code, tr.stderr)
	}
	if code := tr.run("rm", "9"); code != 2 {
		t.Fatalf("rm out of range exit %d", code)
	}

	if code := tr.run("ls"); code != 0 {
		t.Fatalf("ls exit %d", code)
	}
	out := tr.stdout.String()
	pay := strings.Index(out, "Pay all bills")
	walk := strings.Index(out, "Walk dog")
	milk := strings.Index(out, "Buy milk")
	if pay < 0 || walk < 0 || milk < 0 || !(pay < walk && walk < milk) {
		t.Fatalf("unexpected listing:\n%s", out)
	}

	if code := tr.run("find", "dog"); code != 0 || !strings.Contains(tr.stdout.String(), "Walk dog") {
		t.Fatalf("find exit %d: %s", code, tr.stdout)
	}
}

func TestFailedChangeIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"FORBIDDEN","error":"Forbidden"}`))
	}))
	defer srv.Close()

	tr := newTestRunner(t)
	tr.env["TODO_SERVER"] = srv.URL
	tr.env["TODO_TOKEN"] = "read-only"

	if code := tr.run("add", "Buy", "milk"); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(tr.stderr.String(), "change undone") || !strings.Contains(tr.stderr.String(), "not authorized") {
		t.Fatalf("stderr = %q", tr.stderr.String())
	}
}

func TestConfigFile(t *testing.T) {
	tr := newTestRunner(t)
	path := configPath(tr.Home)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("server = \"https://todo.example.com\"\ntimeout_seconds = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(tr.Home, tr.Getenv)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Server != "https://todo.example.com" || cfg.Timeout() != 3*time.Second || cfg.Retries != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	tr.env["TODO_SERVER"] = "http://localhost:9999"
	if cfg, _ := loadConfig(tr.Home, tr.Getenv); cfg.Server != "http://localhost:9999" {
		t.Fatalf("TODO_SERVER not applied: %+v", cfg)
	}
}
