// Package storage provides a sqlite-backed world state for the in-process
// test peer. Keys are scoped by chaincode namespace; the latest write wins.
package storage

import (
	"database/sql"
	"fmt"
)

type WorldState struct {
	backend *sql.DB
}

func New(db *sql.DB) *WorldState {
	return &WorldState{backend: db}
}

// KV is a single key/value pair from a range scan.
type KV struct {
	Namespace string
	Key       string
	Value     []byte
}

// Init creates the world state table if it doesn't exist.
func (s *WorldState) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worldstate (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB,
		PRIMARY KEY (namespace, key)
	);
	CREATE INDEX IF NOT EXISTS idx_worldstate_ns_key ON worldstate (namespace, key);
	`
	if _, err := s.backend.Exec(schema); err != nil {
		return fmt.Errorf("init worldstate table: %w", err)
	}
	return nil
}

// Get returns the value of a key, or nil when the key does not exist.
func (s *WorldState) Get(namespace, key string) ([]byte, error) {
	row := s.backend.QueryRow(
		"SELECT value FROM worldstate WHERE namespace = $1 AND key = $2",
		namespace, key,
	)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

// Put writes a key, replacing any previous value.
func (s *WorldState) Put(namespace, key string, value []byte) error {
	_, err := s.backend.Exec(`
	INSERT INTO worldstate (namespace, key, value)
	VALUES ($1, $2, $3)
	ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value;
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting a nonexistent key is not an error.
func (s *WorldState) Delete(namespace, key string) error {
	if _, err := s.backend.Exec(
		"DELETE FROM worldstate WHERE namespace = $1 AND key = $2",
		namespace, key,
	); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// GetRange returns all keys in [startKey, endKey) ordered by key. An empty
// endKey leaves the range unbounded at the top.
func (s *WorldState) GetRange(namespace, startKey, endKey string) ([]KV, error) {
	query := `
	SELECT namespace, key, value FROM worldstate
	WHERE namespace = $1 AND key >= $2 AND ($3 = '' OR key < $3)
	ORDER BY key;
	`
	rows, err := s.backend.Query(query, namespace, startKey, endKey)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer rows.Close()

	var result []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Namespace, &kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan range result: %w", err)
		}
		result = append(result, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate range results: %w", err)
	}
	return result, nil
}
