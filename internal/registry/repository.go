package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for manifest persistence.
// This abstraction allows SQLite in production and a mock in unit tests.
type Repository interface {
	// Get retrieves a manifest by native ID.
	// Returns ErrDeviceNotFound if it does not exist.
	Get(ctx context.Context, nativeID string) (*Manifest, error)

	// List retrieves every stored manifest.
	List(ctx context.Context) ([]Manifest, error)

	// ListByProvider retrieves the direct children of provider.
	// An empty provider lists root devices.
	ListByProvider(ctx context.Context, provider string) ([]Manifest, error)

	// Upsert inserts or replaces a manifest.
	Upsert(ctx context.Context, m *Manifest) error

	// Delete removes a manifest.
	// Returns ErrDeviceNotFound if it does not exist.
	Delete(ctx context.Context, nativeID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectManifest = `
	SELECT native_id, provider_native_id, name, type, interfaces, info
	FROM devices`

// Get retrieves a manifest by native ID.
func (r *SQLiteRepository) Get(ctx context.Context, nativeID string) (*Manifest, error) {
	row := r.db.QueryRowContext(ctx, selectManifest+` WHERE native_id = ?`, nativeID)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	return m, nil
}

// List retrieves every stored manifest ordered by native ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Manifest, error) {
	return r.query(ctx, selectManifest+` ORDER BY native_id`)
}

// ListByProvider retrieves the direct children of provider.
func (r *SQLiteRepository) ListByProvider(ctx context.Context, provider string) ([]Manifest, error) {
	return r.query(ctx, selectManifest+` WHERE provider_native_id IS ? ORDER BY native_id`, nullString(provider))
}

// Upsert inserts or replaces a manifest, keeping its original created_at.
func (r *SQLiteRepository) Upsert(ctx context.Context, m *Manifest) error {
	ifaces := m.Interfaces
	if ifaces == nil {
		ifaces = []string{}
	}
	ifacesJSON, err := json.Marshal(ifaces)
	if err != nil {
		return fmt.Errorf("marshalling interfaces: %w", err)
	}
	infoJSON, err := json.Marshal(m.Info)
	if err != nil {
		return fmt.Errorf("marshalling info: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO devices (native_id, provider_native_id, name, type, interfaces, info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(native_id) DO UPDATE SET
			provider_native_id = excluded.provider_native_id,
			name = excluded.name,
			type = excluded.type,
			interfaces = excluded.interfaces,
			info = excluded.info,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		m.NativeID, nullString(m.ProviderNativeID), m.Name, string(m.Type),
		string(ifacesJSON), string(infoJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting manifest %s: %w", m.NativeID, err)
	}
	return nil
}

// Delete removes a manifest.
func (r *SQLiteRepository) Delete(ctx context.Context, nativeID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE native_id = ?`, nativeID)
	if err != nil {
		return fmt.Errorf("deleting manifest %s: %w", nativeID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Manifest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying manifests: %w", err)
	}
	defer rows.Close()

	var out []Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning manifest: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating manifests: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanManifest(s scanner) (*Manifest, error) {
	var (
		m          Manifest
		provider   sql.NullString
		typ        string
		ifacesJSON string
		infoJSON   string
	)
	if err := s.Scan(&m.NativeID, &provider, &m.Name, &typ, &ifacesJSON, &infoJSON); err != nil {
		return nil, err
	}
	m.ProviderNativeID = provider.String
	m.Type = Type(typ)
	if err := json.Unmarshal([]byte(ifacesJSON), &m.Interfaces); err != nil {
		return nil, fmt.Errorf("unmarshalling interfaces: %w", err)
	}
	if err := json.Unmarshal([]byte(infoJSON), &m.Info); err != nil {
		return nil, fmt.Errorf("unmarshalling info: %w", err)
	}
	return &m, nil
}

// nullString stores "" as NULL so root devices share one provider value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
