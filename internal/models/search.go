package models

// SearchResultSet is one page of hydrated search results, newest first
type SearchResultSet struct {
	Total   int    `json:"total"`
	Results []Item `json:"results"`
}

// IndexHits is one page of matching ids from the text index
type IndexHits struct {
	Total int
	IDs   []string
}
