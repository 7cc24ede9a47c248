package search

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
)

// Index is the write side of the external index.
type Index interface {
	Searcher
	IndexItem(r Record) error
	DeleteItem(id string) error
	IndexItems(records []Record) error
}

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	index    Index
	fallback Searcher
	logger   *log.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, logger *log.Logger) *Service {
	return &Service{index: index, fallback: fallback, logger: logger}
}

// Search tries the index if healthy, otherwise falls back to the store. Only a
// fallback failure is returned to the caller.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}, nil
	}
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "index"}, nil
		}
		s.logger.Warn("search index error, falling back to store", "err", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "store"}, nil
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// IndexItem indexes an item (fire-and-forget).
func (s *Service) IndexItem(r Record) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexItem(r); err != nil {
			s.logger.Warn("index item", "id", r.ID, "err", err)
		}
	}()
}

// DeleteItem removes an item from the index (fire-and-forget).
func (s *Service) DeleteItem(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeleteItem(id); err != nil {
			s.logger.Warn("delete item from index", "id", id, "err", err)
		}
	}()
}

// Reindex pushes records to the index synchronously. Called at startup.
func (s *Service) Reindex(records []Record) {
	if !s.indexReady() || len(records) == 0 {
		return
	}
	if err := s.index.IndexItems(records); err != nil {
		s.logger.Warn("reindex items", "count", len(records), "err", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
