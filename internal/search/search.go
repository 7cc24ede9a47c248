package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Snippet   string `json:"snippet"`
}

// Query describes a search request. Owner is always the verified caller.
type Query struct {
	Owner string
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a text search over one owner's items.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a todo item.
type Record struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Order     int64  `json:"order"`
}
