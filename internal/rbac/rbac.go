// Package rbac maps token scopes to the actions they permit on a todo list.
package rbac

type Scope string
type Action string

const (
	ScopeRead  Scope = "todos:read"
	ScopeWrite Scope = "todos:write"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Can reports whether any of scopes permits action. A token without scopes
// is a full-access token for its own owner.
func Can(scopes []Scope, action Action) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		switch scope {
		case ScopeWrite:
			if action == ActionRead || action == ActionWrite {
				return true
			}
		case ScopeRead:
			if action == ActionRead {
				return true
			}
		}
	}
	return false
}

// Normalize keeps the scopes this service understands and drops the rest.
// A token that only carries foreign scopes ends up with ScopeRead so it never
// widens to full access.
func Normalize(raw []string) []Scope {
	if len(raw) == 0 {
		return nil
	}
	scopes := make([]Scope, 0, len(raw))
	for _, value := range raw {
		switch Scope(value) {
		case ScopeRead, ScopeWrite:
			scopes = append(scopes, Scope(value))
		}
	}
	if len(scopes) == 0 {
		return []Scope{ScopeRead}
	}
	return scopes
}
