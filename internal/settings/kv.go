package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// kv is a namespaced key-value table. Values are opaque strings; the
// settings layer stores JSON in them.
type kv struct {
	db *sql.DB
}

func newKV(db *sql.DB) (*kv, error) {
	s := &kv{db: db}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings_kv (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// get returns "" and no error for a missing key.
func (s *kv) get(namespace, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM settings_kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// setAll upserts several keys in one transaction.
func (s *kv) setAll(namespace string, values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range values {
		_, err := tx.Exec(
			`INSERT INTO settings_kv (namespace, key, value, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (namespace, key) DO UPDATE
			 SET value = excluded.value, updated_at = excluded.updated_at`,
			namespace, key, value, now,
		)
		if err != nil {
			return fmt.Errorf("set %s/%s: %w", namespace, key, err)
		}
	}
	return tx.Commit()
}

func (s *kv) deleteNamespace(namespace string) error {
	if _, err := s.db.Exec(`DELETE FROM settings_kv WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

// list returns every key in namespace. The map is empty, not nil, when
// nothing is stored.
func (s *kv) list(namespace string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM settings_kv WHERE namespace = ? ORDER BY key`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
