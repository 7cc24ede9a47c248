package app

import (
	"net/http"
	"time"
)

// rpcRequest is the single-endpoint form of the todo operations. It maps onto
// the same Service calls as the REST routes.
type rpcRequest struct {
	Op              string   `json:"op"`
	ID              string   `json:"id"`
	Text            *string  `json:"text"`
	Completed       *bool    `json:"completed"`
	IDs             []string `json:"ids"`
	Direction       string   `json:"direction"`
	Query           string   `json:"query"`
	Limit           int      `json:"limit"`
	IdempotencyKey  string   `json:"idempotencyKey"`
	UnmodifiedSince string   `json:"unmodifiedSince"`
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request, p Principal) {
	var req rpcRequest
	if err := s.validator.decode(r, schemaRPC, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		result any
		err    error
	)
	switch req.Op {
	case "list":
		result, err = s.service.List(ctx, p)
	case "create":
		text := ""
		if req.Text != nil {
			text = *req.Text
		}
		result, _, err = s.service.Create(ctx, p, text, req.IdempotencyKey)
	case "update":
		input := UpdateInput{Text: req.Text, Completed: req.Completed}
		if req.UnmodifiedSince != "" {
			since, parseErr := time.Parse(time.RFC3339Nano, req.UnmodifiedSince)
			if parseErr != nil {
				s.fail(w, r, invalid("unmodifiedSince must be an RFC 3339 timestamp"))
				return
			}
			input.UnmodifiedSince = since
		}
		result, err = s.service.Update(ctx, p, req.ID, input)
	case "delete":
		err = s.service.Delete(ctx, p, req.ID)
		result = map[string]any{"deleted": req.ID}
	case "reorder":
		result, err = s.service.Reorder(ctx, p, req.IDs)
	case "move":
		result, err = s.service.Move(ctx, p, req.ID, req.Direction)
	case "search":
		result, err = s.service.Search(ctx, p, req.Query, req.Limit)
	default:
		err = invalid("unknown op")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"op": req.Op, "result": result})
}
