package service

import (
	"context"
	"fmt"
	"strings"

	"filesearch/internal/port/outbound"
)

// SearchService validates and runs hybrid queries against the index.
type SearchService struct {
	index outbound.SearchIndex
}

func NewSearchService(index outbound.SearchIndex) *SearchService {
	return &SearchService{index: index}
}

// Search runs one query after normalizing its inputs.
func (s *SearchService) Search(ctx context.Context, q outbound.SearchQuery) ([]outbound.SearchResult, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" && q.Vector == nil {
		return nil, fmt.Errorf("search needs query text, a vector, or both")
	}
	return s.index.Query(ctx, q)
}
