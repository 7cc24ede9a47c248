package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cebarrett/todo/internal/store"
)

// ItemSearcher is the store query the fallback runs.
type ItemSearcher interface {
	Search(ctx context.Context, owner, query string, limit int) ([]store.Item, error)
}

// StoreFallback implements Searcher with a substring match in the database.
type StoreFallback struct {
	items ItemSearcher
}

func NewStoreFallback(items ItemSearcher) *StoreFallback {
	return &StoreFallback{items: items}
}

// Healthy always returns true; if the database is down the whole app is down.
func (f *StoreFallback) Healthy() bool {
	return true
}

func (f *StoreFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	items, err := f.items.Search(ctx, q.Owner, q.Text, limit)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, Result{
			ID:        item.ID,
			Text:      item.Text,
			Completed: item.Completed,
			Snippet:   highlight(item.Text, q.Text),
		})
	}
	return results, len(results), nil
}

// highlight wraps the first case-insensitive match of term in <mark> tags, the
// same markup the Meilisearch path returns. Matching walks runes so the cut
// points are always boundaries in text, whatever case folding does to widths.
func highlight(text, term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return text
	}
	for at := 0; at < len(text); {
		if end, ok := matchFold(text[at:], term); ok {
			end += at
			return text[:at] + "<mark>" + text[at:end] + "</mark>" + text[end:]
		}
		_, size := utf8.DecodeRuneInString(text[at:])
		at += size
	}
	return text
}

// matchFold reports whether text starts with term under simple case folding,
// and the byte length of the matched prefix of text.
func matchFold(text, term string) (int, bool) {
	i := 0
	for _, want := range term {
		if i >= len(text) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(text[i:])
		if got != want && !strings.EqualFold(string(got), string(want)) {
			return 0, false
		}
		i += size
	}
	return i, true
}
