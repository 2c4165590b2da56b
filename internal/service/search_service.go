package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/textindex"
)

// SearchService answers full-text queries over a user's indexed favorites.
// The index holds only a thin projection, so hits are re-hydrated live.
type SearchService struct {
	users   UserStore
	index   TextIndex
	sources SourceProvider
	fields  []string
}

// NewSearchService creates a search service querying the default text fields
func NewSearchService(users UserStore, index TextIndex, sources SourceProvider) *SearchService {
	return &SearchService{
		users:   users,
		index:   index,
		sources: sources,
		fields:  textindex.TextFields,
	}
}

// Search returns one page of favorites matching every term of query,
// newest first. An empty query returns an empty set without any lookups.
func (s *SearchService) Search(ctx context.Context, userID, query string, offset int) (*models.SearchResultSet, error) {
	empty := &models.SearchResultSet{Total: 0, Results: []models.Item{}}

	query = strings.TrimSpace(query)
	if query == "" {
		return empty, nil
	}
	if offset < 0 {
		offset = 0
	}

	hits, err := s.index.Query(ctx, userID, query, s.fields, offset)
	if err != nil {
		return nil, err
	}
	if hits.Total == 0 || len(hits.IDs) == 0 {
		empty.Total = hits.Total
		return empty, nil
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	source, err := s.sources.ForUser(user)
	if err != nil {
		return nil, err
	}

	items, err := source.Lookup(ctx, hits.IDs)
	if err != nil {
		return nil, err
	}
	if len(items) < len(hits.IDs) {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"hits":     len(hits.IDs),
			"hydrated": len(items),
		}).Debug("some hits no longer available at source")
	}

	sortNewestFirst(items)
	return &models.SearchResultSet{Total: hits.Total, Results: items}, nil
}

// sortNewestFirst orders items by creation time descending. Items whose
// creation time cannot be parsed go last, in their original order.
func sortNewestFirst(items []models.Item) {
	times := make(map[string]time.Time, len(items))
	for i := range items {
		if t, err := items[i].CreatedTime(); err == nil {
			times[items[i].IDStr] = t
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti, iok := times[items[i].IDStr]
		tj, jok := times[items[j].IDStr]
		switch {
		case iok && jok:
			return ti.After(tj)
		case iok:
			return true
		default:
			return false
		}
	})
}
