package artifact

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a content-addressed store of serialized artifacts keyed by the
// compilation input hash, backed by a local sqlite file.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			hash       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing artifact cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached artifact for an input hash, or nil on a miss. A
// stored blob that no longer deserializes is treated as a miss so a format
// bump invalidates stale entries transparently.
func (c *Cache) Get(hash string) (*CompiledExperiment, error) {
	var data []byte
	err := c.db.QueryRow(`SELECT data FROM artifacts WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact cache: %w", err)
	}
	out, err := Deserialize(data)
	if err != nil {
		return nil, nil
	}
	return out, nil
}

// Put stores an artifact under an input hash, replacing any previous entry.
func (c *Cache) Put(hash string, art *CompiledExperiment) error {
	data, err := art.Serialize()
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO artifacts (hash, data, created_at) VALUES (?, ?, ?)`,
		hash, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing artifact cache: %w", err)
	}
	return nil
}
