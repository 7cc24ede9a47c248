package app

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const (
	schemaCreate  = "create"
	schemaUpdate  = "update"
	schemaReorder = "reorder"
	schemaMove    = "move"
	schemaRPC     = "rpc"
)

const maxBodyBytes = 1 << 20

type bodyValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newBodyValidator() (*bodyValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	entries, err := fs.ReadDir(schemaFiles, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		data, err := schemaFiles.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(schemaURL(entry.Name()), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
		names = append(names, entry.Name())
	}

	v := &bodyValidator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[strings.TrimSuffix(name, ".json")] = schema
	}
	return v, nil
}

func schemaURL(file string) string {
	return "https://todo.invalid/schemas/" + file
}

// decode reads the request body, checks it against the named schema and then
// unmarshals it into target.
func (v *bodyValidator) decode(r *http.Request, name string, target any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	if r.Body == nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	if len(data) > maxBodyBytes {
		return domainError(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", nil)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return domainError(http.StatusUnprocessableEntity, "INVALID", "request body failed validation", schemaViolations(ve))
		}
		return domainError(http.StatusUnprocessableEntity, "INVALID", "request body failed validation", nil)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

type violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func schemaViolations(err *jsonschema.ValidationError) []violation {
	var out []violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, violation{Path: pointerToPath(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return out
}

func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.TrimPrefix(ptr, "/")
	return strings.ReplaceAll(ptr, "/", ".")
}
