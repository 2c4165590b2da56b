package adapter

import (
	"context"

	"github.com/faveindex/internal/models"
)

// ContentSource is one user's authenticated view of the content API
type ContentSource interface {
	// FetchFavoritesPage returns one page of favorites at or below cursor.
	// An empty cursor starts from the newest favorite.
	FetchFavoritesPage(ctx context.Context, cursor string) (*FavoritesPage, error)

	// Hydrate fetches full bodies for ids in groups of at most the lookup limit.
	// On failure it returns the items of the groups that completed.
	Hydrate(ctx context.Context, ids []string) ([]models.Item, error)

	// Lookup fetches full bodies for up to one group of ids in a single call.
	Lookup(ctx context.Context, ids []string) ([]models.Item, error)
}

// FavoritesPage is one page of the favorites feed
type FavoritesPage struct {
	Items      []models.Item
	NextCursor string
}
