package shadow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsonmerge "github.com/apapsch/go-jsonmerge/v2"

	"github.com/mattercloud/mcc-core/internal/infrastructure/database"
)

// shadowSchema is the backing table for the local shadow store. One row per
// (thing, shard); the document column holds the full JSON state document.
const shadowSchema = `
CREATE TABLE IF NOT EXISTS shadows (
	thing      TEXT NOT NULL,
	shard      TEXT NOT NULL,
	document   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (thing, shard)
);
`

// SQLiteStore is the Store implementation backed by the local SQLite
// database. It is the system of record when the controller runs without a
// cloud shadow service.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates the store and ensures its schema exists.
func NewSQLiteStore(ctx context.Context, db *database.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, shadowSchema); err != nil {
		return nil, fmt.Errorf("shadow: creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns a shard's document, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, thing, shard string) (json.RawMessage, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT document FROM shadows WHERE thing = ? AND shard = ?",
		thing, shard,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, thing, shard)
	}
	if err != nil {
		return nil, fmt.Errorf("shadow: reading %s/%s: %w", thing, shard, err)
	}
	return json.RawMessage(doc), nil
}

// Update merges doc into the shard's existing document and stores the
// result. A missing shard is created from the document as-is.
func (s *SQLiteStore) Update(ctx context.Context, thing, shard string, doc json.RawMessage) (json.RawMessage, error) {
	existing, err := s.Get(ctx, thing, shard)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	merged := doc
	if existing != nil {
		merged, err = mergeDocuments(existing, doc)
		if err != nil {
			return nil, fmt.Errorf("shadow: merging %s/%s: %w", thing, shard, err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shadows (thing, shard, document, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (thing, shard) DO UPDATE SET
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		thing, shard, string(merged), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("shadow: writing %s/%s: %w", thing, shard, err)
	}
	return merged, nil
}

// Delete removes a shard. Deleting a missing shard is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, thing, shard string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM shadows WHERE thing = ? AND shard = ?",
		thing, shard,
	)
	if err != nil {
		return fmt.Errorf("shadow: deleting %s/%s: %w", thing, shard, err)
	}
	return nil
}

// List returns one page of shard names in lexical order. The page token is
// an opaque offset.
func (s *SQLiteStore) List(ctx context.Context, thing, pageToken string) ([]string, string, error) {
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("shadow: invalid page token %q", pageToken)
		}
		offset = n
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT shard FROM shadows WHERE thing = ? ORDER BY shard LIMIT ? OFFSET ?",
		thing, listPageSize+1, offset,
	)
	if err != nil {
		return nil, "", fmt.Errorf("shadow: listing %s: %w", thing, err)
	}
	defer rows.Close()

	var shards []string
	for rows.Next() {
		var shard string
		if err := rows.Scan(&shard); err != nil {
			return nil, "", fmt.Errorf("shadow: scanning shard name: %w", err)
		}
		shards = append(shards, shard)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("shadow: listing %s: %w", thing, err)
	}

	next := ""
	if len(shards) > listPageSize {
		shards = shards[:listPageSize]
		next = strconv.Itoa(offset + listPageSize)
	}
	return shards, next, nil
}

// mergeDocuments applies a JSON merge of patch onto data, copying keys that
// only exist in the patch.
func mergeDocuments(data, patch json.RawMessage) (json.RawMessage, error) {
	merger := &jsonmerge.Merger{CopyNonexistent: true}
	merged, err := merger.MergeBytes(data, patch)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(merged), nil
}
