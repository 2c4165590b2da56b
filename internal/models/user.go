// Package models provides data models for the favorites indexer.
package models

import (
	"strings"
	"time"
)

// UserRecord is the per-user indexing state
type UserRecord struct {
	ID                   string     `json:"id" db:"id"`
	ScreenName           string     `json:"screenName" db:"screen_name"`
	IndexedEntries       int        `json:"indexedEntries" db:"indexed_entries"`
	LastIndexTime        *time.Time `json:"lastIndexTime,omitempty" db:"last_index_time"`
	Lock                 bool       `json:"lock" db:"lock"`
	LockExpiresAt        *time.Time `json:"lockExpiresAt,omitempty" db:"lock_expires_at"`
	EncryptedToken       string     `json:"-" db:"encrypted_token"`
	EncryptedTokenSecret string     `json:"-" db:"encrypted_token_secret"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsLocked reports whether a run currently holds the lock at now.
// A lock whose lease has expired is treated as released.
func (u *UserRecord) IsLocked(now time.Time) bool {
	if !u.Lock {
		return false
	}
	if u.LockExpiresAt == nil {
		return true
	}
	return now.Before(*u.LockExpiresAt)
}

// ExternalID returns the source-platform id embedded in the user id
func (u *UserRecord) ExternalID() string {
	return ExternalID(u.ID)
}

// UserUpdate is a partial update; nil fields are left unchanged
type UserUpdate struct {
	ScreenName           *string
	IndexedEntries       *int
	LastIndexTime        *time.Time
	EncryptedToken       *string
	EncryptedTokenSecret *string
}

// ExternalID extracts the numeric account id from a "provider|id" user id.
// Ids without a provider prefix are returned unchanged.
func ExternalID(userID string) string {
	if i := strings.LastIndex(userID, "|"); i >= 0 {
		return userID[i+1:]
	}
	return userID
}
