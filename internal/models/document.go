package models

import "fmt"

// IndexedDocument is the text-searchable projection of an Item
type IndexedDocument struct {
	ID                 string `json:"id"`
	Timestamp          int64  `json:"ts"`
	Text               string `json:"text"`
	AuthorName         string `json:"user_name"`
	AuthorHandle       string `json:"user_handle"`
	QuotedText         string `json:"quoted_text,omitempty"`
	QuotedAuthorName   string `json:"quoted_user_name,omitempty"`
	QuotedAuthorHandle string `json:"quoted_user_handle,omitempty"`
}

// NewIndexedDocument projects item into a document.
// It fails only when the creation time cannot be parsed.
func NewIndexedDocument(item *Item) (*IndexedDocument, error) {
	created, err := item.CreatedTime()
	if err != nil {
		return nil, fmt.Errorf("item %s: parse created_at %q: %w", item.IDStr, item.CreatedAt, err)
	}

	doc := &IndexedDocument{
		ID:           item.IDStr,
		Timestamp:    created.Unix(),
		Text:         item.Text,
		AuthorName:   item.User.Name,
		AuthorHandle: item.User.ScreenName,
	}
	if q := item.QuotedStatus; q != nil {
		doc.QuotedText = q.Text
		doc.QuotedAuthorName = q.User.Name
		doc.QuotedAuthorHandle = q.User.ScreenName
	}
	return doc, nil
}
