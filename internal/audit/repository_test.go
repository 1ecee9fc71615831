package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arlo/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	e := &Entry{Action: ActionSessionState, EntityType: EntitySession, Source: SourceSession,
		Details: map[string]any{"state": "authenticated"}}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(e.ID) != len("aud-")+8 || e.ID[:4] != "aud-" {
		t.Errorf("ID = %q", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("result = %+v", res)
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.EntityID != "" || got.UserID != "" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["state"] != "authenticated" {
		t.Errorf("details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestList_Filters(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionSettingChanged, EntityType: EntitySetting, EntityID: "arlo_username", UserID: "admin", Source: SourceAPI},
		{Action: ActionSettingChanged, EntityType: EntitySetting, EntityID: "imap_host", UserID: "admin", Source: SourceAPI},
		{Action: ActionDiscoveryRun, EntityType: EntityDiscovery, UserID: "admin", Source: SourceAPI},
		{Action: ActionSessionState, EntityType: EntitySession, Source: SourceSession},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all newest first", Filter{}, 4, ActionSessionState},
		{"by action", Filter{Action: ActionSettingChanged}, 2, ActionSettingChanged},
		{"by entity", Filter{EntityType: EntitySetting, EntityID: "arlo_username"}, 1, ActionSettingChanged},
		{"no match", Filter{EntityType: "nope"}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantTotal {
				t.Fatalf("total = %d, entries = %d, want %d", res.Total, len(res.Entries), tt.wantTotal)
			}
			if tt.wantFirst != "" && res.Entries[0].Action != tt.wantFirst {
				t.Errorf("first action = %s, want %s", res.Entries[0].Action, tt.wantFirst)
			}
		})
	}
}

func TestList_Paging(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for range 3 {
		if err := repo.Create(ctx, &Entry{Action: ActionDiscoveryRun, EntityType: EntityDiscovery, Source: SourceAPI}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 || len(res.Entries) != 1 || res.Limit != 2 || res.Offset != 2 {
		t.Errorf("result = %+v", res)
	}

	res, err = repo.List(ctx, Filter{Limit: MaxLimit + 1, Offset: -1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 {
		t.Errorf("limit = %d offset = %d", res.Limit, res.Offset)
	}
}
