package models

import "time"

// DefaultSyncKey identifies the cursor used when only one downstream consumer exists.
const DefaultSyncKey = "n8n_sync"

// SyncCursor is the persisted progress marker of one sync target.
type SyncCursor struct {
	Key           string     `json:"key"`
	LastSyncAt    *time.Time `json:"lastSyncAt"`
	LastSyncCount int64      `json:"lastSyncCount"`
	TotalSynced   int64      `json:"totalSynced"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

