package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndexedDocument(t *testing.T) {
	item := &Item{
		CreatedAt: "Wed Oct 10 20:19:24 +0000 2018",
		IDStr:     "1050118621198921728",
		Text:      "To make room for more expression",
		User:      ItemUser{Name: "Twitter", ScreenName: "twitter"},
		QuotedStatus: &Item{
			Text: "quoted body",
			User: ItemUser{Name: "Quoted Author", ScreenName: "quoted"},
		},
	}

	doc, err := NewIndexedDocument(item)
	require.NoError(t, err)

	assert.Equal(t, "1050118621198921728", doc.ID)
	assert.Equal(t, time.Date(2018, 10, 10, 20, 19, 24, 0, time.UTC).Unix(), doc.Timestamp)
	assert.Equal(t, "Twitter", doc.AuthorName)
	assert.Equal(t, "twitter", doc.AuthorHandle)
	assert.Equal(t, "quoted body", doc.QuotedText)
	assert.Equal(t, "Quoted Author", doc.QuotedAuthorName)
	assert.Equal(t, "quoted", doc.QuotedAuthorHandle)
}

func TestNewIndexedDocumentWithoutQuote(t *testing.T) {
	doc, err := NewIndexedDocument(&Item{
		CreatedAt: "Thu Apr 6 15:24:15 -0500 2017",
		IDStr:     "1",
		Text:      "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, 4, 6, 20, 24, 15, 0, time.UTC).Unix(), doc.Timestamp)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "quoted_")
	assert.Contains(t, string(raw), `"ts":`)
}

func TestNewIndexedDocumentMalformedTime(t *testing.T) {
	_, err := NewIndexedDocument(&Item{CreatedAt: "2018-10-10T20:19:24Z", IDStr: "1"})
	assert.Error(t, err)
}

func TestItemDecodingTrimsFields(t *testing.T) {
	raw := `{
		"created_at": "Wed Oct 10 20:19:24 +0000 2018",
		"id": 1050118621198921728,
		"id_str": "1050118621198921728",
		"text": "hi",
		"favorite_count": 10,
		"entities": {"hashtags": []},
		"user": {"id_str": "6253282", "name": "API", "screen_name": "api", "followers_count": 5},
		"is_quote_status": true,
		"quoted_status": {"id_str": "2", "text": "inner", "user": {"name": "Q", "screen_name": "q"}, "retweet_count": 1}
	}`

	var item Item
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	out, err := json.Marshal(item)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.NotContains(t, fields, "favorite_count")
	assert.NotContains(t, fields, "id")
	assert.NotContains(t, fields["user"], "followers_count")
	assert.NotContains(t, fields["quoted_status"], "retweet_count")
	assert.Equal(t, "inner", item.QuotedStatus.Text)
}

func TestUserRecordIsLocked(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		user UserRecord
		want bool
	}{
		{"unlocked", UserRecord{}, false},
		{"locked without lease", UserRecord{Lock: true}, true},
		{"locked with live lease", UserRecord{Lock: true, LockExpiresAt: &future}, true},
		{"locked with expired lease", UserRecord{Lock: true, LockExpiresAt: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.IsLocked(now))
		})
	}
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "12345", ExternalID("twitter|12345"))
	assert.Equal(t, "12345", ExternalID("12345"))
	assert.Equal(t, "", ExternalID("twitter|"))
}
