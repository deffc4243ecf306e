package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known meta keys.
const (
	MetaLastSyncTime = "last_sync_time"
	MetaMetrics      = "metrics"
)

// GetMeta returns the raw value stored under key.
func (s *Store) GetMeta(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// GetMetaJSON decodes the value stored under key into v.
// Returns false if the key is absent.
func (s *Store) GetMetaJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.GetMeta(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode meta %s: %w", key, err)
	}
	return true, nil
}

// SetMetaJSON encodes v as JSON and stores it under key.
func (s *Store) SetMetaJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode meta %s: %w", key, err)
	}
	return s.SetMeta(ctx, key, raw)
}
