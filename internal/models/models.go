package models

import (
	"time"
)

// KVEntry is a single key-value record stored by the PostgreSQL backend.
// Chat metadata, chat chunks, user sessions and OTP records all share this table.
type KVEntry struct {
	Key       string     `gorm:"column:entry_key;type:varchar(512);primaryKey" json:"key"`
	Value     string     `gorm:"type:text;not null" json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

// Expired reports whether the entry has passed its expiry at now.
// Entries without an expiry never expire.
func (e *KVEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// ExpiryFrom converts a TTL into an absolute expiry. A non-positive TTL yields nil.
func ExpiryFrom(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}
