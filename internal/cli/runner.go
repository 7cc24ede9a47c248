// Package cli implements the todo terminal client on top of the optimistic
// controller.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cebarrett/todo/internal/client"
)

// Runner holds what a command run needs from its environment.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Home   string
	Getenv func(string) string
}

// NewRunner wires the runner to the process environment.
func NewRunner() (*Runner, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home: %w", err)
	}
	return &Runner{Stdout: os.Stdout, Stderr: os.Stderr, Home: home, Getenv: os.Getenv}, nil
}

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		r.printHelp()
		return 2
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		r.printHelp()
		return 0

	case "login":
		if len(a) != 1 {
			fail(r.Stderr, "usage: todo login <token>")
			return 2
		}
		if err := setToken(r.Home, a[0]); err != nil {
			fail(r.Stderr, "login: "+err.Error())
			return 1
		}
		ok(r.Stdout, "logged in")
		return 0

	case "logout":
		if err := deleteToken(r.Home); err != nil {
			fail(r.Stderr, "logout: "+err.Error())
			return 1
		}
		ok(r.Stdout, "logged out")
		return 0

	case "ls":
		return r.withSession(ctx, func(s *session) int {
			renderList(r.Stdout, s.controller.Items())
			return 0
		})

	case "add":
		if len(a) == 0 {
			fail(r.Stderr, "usage: todo add <text...>")
			return 2
		}
		return r.withSession(ctx, func(s *session) int {
			if _, err := s.controller.Add(strings.Join(a, " ")); err != nil {
				fail(r.Stderr, "add: "+err.Error())
				return 1
			}
			return s.finish(ctx, "added")
		})

	case "done", "rm", "up", "down":
		if len(a) != 1 {
			fail(r.Stderr, fmt.Sprintf("usage: todo %s <index>", cmd))
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			fail(r.Stderr, cmd+": not a number: "+a[0])
			return 2
		}
		return r.withSession(ctx, func(s *session) int {
			id, found := s.idAt(n)
			if !found {
				return 2
			}
			var err error
			switch cmd {
			case "done":
				err = s.controller.Toggle(id)
			case "rm":
				err = s.controller.Remove(id)
			case "up":
				err = s.controller.MoveUp(id)
			case "down":
				err = s.controller.MoveDown(id)
			}
			if err != nil {
				fail(r.Stderr, cmd+": "+err.Error())
				return 1
			}
			return s.finish(ctx, map[string]string{"done": "toggled", "rm": "removed", "up": "moved up", "down": "moved down"}[cmd])
		})

	case "edit":
		if len(a) < 2 {
			fail(r.Stderr, "usage: todo edit <index> <text...>")
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			fail(r.Stderr, "edit: not a number: "+a[0])
			return 2
		}
		return r.withSession(ctx, func(s *session) int {
			id, found := s.idAt(n)
			if !found {
				return 2
			}
			if err := s.controller.Edit(id, strings.Join(a[1:], " ")); err != nil {
				fail(r.Stderr, "edit: "+err.Error())
				return 1
			}
			return s.finish(ctx, "edited")
		})

	case "order":
		if len(a) == 0 {
			fail(r.Stderr, "usage: todo order <index...>")
			return 2
		}
		return r.withSession(ctx, func(s *session) int {
			ids := make([]string, 0, len(a))
			for _, raw := range a {
				n, err := strconv.Atoi(raw)
				if err != nil {
					fail(r.Stderr, "order: not a number: "+raw)
					return 2
				}
				id, found := s.idAt(n)
				if !found {
					return 2
				}
				ids = append(ids, id)
			}
			if err := s.controller.Reorder(ids); err != nil {
				fail(r.Stderr, "order: "+err.Error())
				return 2
			}
			return s.finish(ctx, "reordered")
		})

	case "find":
		if len(a) == 0 {
			fail(r.Stderr, "usage: todo find <query...>")
			return 2
		}
		return r.withSession(ctx, func(s *session) int {
			resp, err := s.api.Search(ctx, strings.Join(a, " "), 0)
			if err != nil {
				fail(r.Stderr, "find: "+err.Error())
				return 1
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(r.Stdout, mutedStyle.Render("no matches"))
				return 0
			}
			for _, hit := range resp.Results {
				box := boxUnchecked
				if hit.Completed {
					box = boxChecked
				}
				fmt.Fprintf(r.Stdout, "%s %s\n", box, hit.Text)
			}
			return 0
		})
	}

	fail(r.Stderr, "unknown subcommand: "+cmd)
	fmt.Fprintln(r.Stderr)
	r.printHelp()
	return 2
}

func (r *Runner) printHelp() {
	fmt.Fprint(r.Stdout, `todo - your todo list in the terminal

Usage:
  todo <subcommand> [args]

Subcommands:
  login <token>          Save an API token (or set TODO_TOKEN)
  logout                 Forget the saved token
  ls                     List items
  add <text...>          Add a new item
  done <index>           Toggle done for item at 1-based index
  edit <index> <text...> Replace the text of an item
  rm <index>             Remove item at 1-based index
  up <index>             Move an item up one place
  down <index>           Move an item down one place
  order <index...>       Put every item in the given order
  find <query...>        Search item text

Configuration:
  ~/.config/todo/config.toml  server, timeout_seconds, retries
  TODO_SERVER                 overrides server
`)
}

// session is one command's connection to the server: a loaded controller
// whose failures are printed as they arrive.
type session struct {
	api        *client.Client
	controller *client.Controller
	stdout     io.Writer
	stderr     io.Writer

	mu       sync.Mutex
	failures int
}

func (r *Runner) withSession(ctx context.Context, fn func(*session) int) int {
	cfg, err := loadConfig(r.Home, r.Getenv)
	if err != nil {
		fail(r.Stderr, err.Error())
		return 1
	}
	token, err := getToken(r.Home, r.Getenv)
	if err != nil {
		fail(r.Stderr, err.Error())
		return 1
	}
	if token == nil {
		fail(r.Stderr, "not logged in: run `todo login <token>` or set TODO_TOKEN")
		return 1
	}

	s := &session{stdout: r.Stdout, stderr: r.Stderr}
	s.api = client.New(cfg.Server, token.Token, client.Options{Timeout: cfg.Timeout(), Attempts: cfg.Retries})
	s.controller = client.NewController(s.api, client.ControllerOptions{
		Notifier: client.NotifyFunc(s.notify),
	})
	defer s.controller.Close()

	if err := s.controller.Load(ctx); err != nil {
		fail(r.Stderr, describe(err))
		return 1
	}
	return fn(s)
}

func (s *session) notify(f client.Failure) {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
	msg := f.Op + " failed: " + describe(f.Err)
	if f.Text != "" {
		msg += fmt.Sprintf(" (%q)", f.Text)
	}
	fail(s.stderr, msg+"; change undone")
}

func (s *session) idAt(n int) (string, bool) {
	items := s.controller.Items()
	if n < 1 || n > len(items) {
		fail(s.stderr, fmt.Sprintf("no item %d (have %d)", n, len(items)))
		return "", false
	}
	return items[n-1].ID, true
}

// finish waits for the server to settle every queued change and reports the outcome.
func (s *session) finish(ctx context.Context, done string) int {
	flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.controller.Flush(flushCtx); err != nil {
		fail(s.stderr, "gave up waiting for the server: "+err.Error())
		return 1
	}
	s.mu.Lock()
	failures := s.failures
	s.mu.Unlock()
	if failures > 0 {
		return 1
	}
	ok(s.stdout, done)
	return 0
}

func describe(err error) string {
	var apiErr *client.Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Kind {
	case client.KindAuth:
		return "not authorized: log in again with `todo login <token>`"
	case client.KindUnavailable:
		return "server unavailable, try again shortly"
	case client.KindNotFound:
		return "item no longer exists"
	default:
		return apiErr.Message
	}
}
