// Package audit records what changed the link's configuration or session:
// setting changes, session state transitions and manual discovery runs.
//
// Setting values are never recorded, only the key that changed.
package audit

import (
	"context"
	"time"
)

// Actions.
const (
	ActionSettingChanged = "setting_changed"
	ActionSessionState   = "session_state"
	ActionDiscoveryRun   = "discovery_run"
)

// Entity types.
const (
	EntitySetting   = "setting"
	EntitySession   = "session"
	EntityDiscovery = "discovery"
)

// Sources.
const (
	SourceAPI     = "api"
	SourceSession = "session"
)

// Entry is a single audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action     string // optional
	EntityType string // optional
	EntityID   string // optional
	Limit      int    // default 50, max 200
	Offset     int
}

// Page limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
