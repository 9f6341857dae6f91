// Package factors computes per-security technical factor vectors from
// trailing price history and aggregates them into portfolio-level exposures,
// pre-warmed each night so pattern reads never pay the computation.
package factors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache stores msgpack-encoded factor vectors in calc_cache with a TTL.
// Keys are pack-scoped, so a restatement never serves stale vectors.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a calc cache over the derived store.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("repo", "calc_cache").Logger(),
	}
}

// Get decodes the cached payload into dest. The second return is false when
// the key is absent or expired.
func (c *Cache) Get(key string, dest interface{}) (bool, error) {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRow(`SELECT payload, expires_at FROM calc_cache WHERE key = ?`, key).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query calc cache: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		return false, nil
	}
	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached payload for %s: %w", key, err)
	}
	return true, nil
}

// Set encodes value with msgpack and stores it under key for ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", key, err)
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(`INSERT INTO calc_cache (key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, payload, now, now+int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to write calc cache: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries past their expiry and returns how many went.
func (c *Cache) PurgeExpired() (int64, error) {
	result, err := c.db.Exec(`DELETE FROM calc_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge calc cache: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
