package models

import (
	"encoding/json"
	"time"
)

// CreatedAtLayout is the source API's creation-time format
const CreatedAtLayout = "Mon Jan 2 15:04:05 -0700 2006"

// Item is a favorited post as returned by the content source.
// Decoding into this type keeps only the fields served back to clients.
type Item struct {
	CreatedAt     string          `json:"created_at"`
	IDStr         string          `json:"id_str"`
	Text          string          `json:"text"`
	Entities      json.RawMessage `json:"entities,omitempty"`
	User          ItemUser        `json:"user"`
	IsQuoteStatus bool            `json:"is_quote_status"`
	QuotedStatus  *Item           `json:"quoted_status,omitempty"`
}

// ItemUser is the author of an item
type ItemUser struct {
	IDStr                string `json:"id_str"`
	Name                 string `json:"name"`
	ScreenName           string `json:"screen_name"`
	URL                  string `json:"url,omitempty"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https,omitempty"`
}

// CreatedTime parses CreatedAt
func (i *Item) CreatedTime() (time.Time, error) {
	return time.Parse(CreatedAtLayout, i.CreatedAt)
}

// ItemIDs returns the id of each item in order
func ItemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for n := range items {
		ids[n] = items[n].IDStr
	}
	return ids
}
