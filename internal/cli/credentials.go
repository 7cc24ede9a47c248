package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const credFileName = "credentials.json"

type tokenInfo struct {
	Token     string    `json:"token"`
	Source    string    `json:"source"` // "env" | "file"
	CreatedAt time.Time `json:"created_at"`
}

func credFilePath(home string) string {
	return filepath.Join(home, ".todo", credFileName)
}

// getToken prefers TODO_TOKEN over the saved credentials. A nil result means
// the user is not logged in.
func getToken(home string, getenv func(string) string) (*tokenInfo, error) {
	if env := strings.TrimSpace(getenv("TODO_TOKEN")); env != "" {
		return &tokenInfo{Token: stripBearer(env), Source: "env"}, nil
	}

	b, err := os.ReadFile(credFilePath(home))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var ti tokenInfo
	if err := json.Unmarshal(b, &ti); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	ti.Token = stripBearer(ti.Token)
	if ti.Token == "" {
		return nil, nil
	}
	return &ti, nil
}

func setToken(home, token string) error {
	token = stripBearer(strings.TrimSpace(token))
	if token == "" {
		return fmt.Errorf("empty token")
	}
	dir := filepath.Dir(credFilePath(home))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.MarshalIndent(tokenInfo{Token: token, Source: "file", CreatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(credFilePath(home), b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func deleteToken(home string) error {
	if err := os.Remove(credFilePath(home)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
