package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// SaveBlob stores blob under key if version is newer than what is stored. It reports whether
// the row was written; an older or equal version is silently ignored.
func (db *DB) SaveBlob(ctx context.Context, key string, version int64, blob []byte) (bool, error) {
	packed := encoder.EncodeAll(blob, nil)
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO collection_state(id, version, blob, raw_size, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			blob = excluded.blob,
			raw_size = excluded.raw_size,
			saved_at = excluded.saved_at
		WHERE excluded.version > collection_state.version`,
		key, version, packed, len(blob), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("save blob %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LoadBlob returns the stored blob and its version. A missing key returns (nil, 0, nil).
func (db *DB) LoadBlob(ctx context.Context, key string) ([]byte, int64, error) {
	var packed []byte
	var version int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT blob, version FROM collection_state WHERE id = ?", key).Scan(&packed, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load blob %s: %w", key, err)
	}
	blob, err := decoder.DecodeAll(packed, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("decompress blob %s: %w", key, err)
	}
	return blob, version, nil
}

// BlobInfo describes a stored blob without decoding it.
type BlobInfo struct {
	Key        string
	Version    int64
	RawSize    int
	PackedSize int
	SavedAt    string
}

// Blobs lists every stored blob.
func (db *DB) Blobs(ctx context.Context) ([]BlobInfo, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, version, raw_size, length(blob), saved_at FROM collection_state ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BlobInfo
	for rows.Next() {
		var b BlobInfo
		if err := rows.Scan(&b.Key, &b.Version, &b.RawSize, &b.PackedSize, &b.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CollectionStore is the local durable store for one user's canonical collection.
type CollectionStore struct {
	db  *DB
	key string
}

// Collection returns the collection store keyed by user.
func (db *DB) Collection(userID string) *CollectionStore {
	return &CollectionStore{db: db, key: "collection:" + userID}
}

func (s *CollectionStore) Load(ctx context.Context) ([]byte, int64, error) {
	return s.db.LoadBlob(ctx, s.key)
}

func (s *CollectionStore) Save(ctx context.Context, version int64, blob []byte) error {
	_, err := s.db.SaveBlob(ctx, s.key, version, blob)
	return err
}

// Key returns the row key the collection is stored under.
func (s *CollectionStore) Key() string { return s.key }
