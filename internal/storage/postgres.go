// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"form-relay/internal/model"
)

// PostgresStore keeps each collection as a table of JSONB documents.
type PostgresStore struct {
	DB    *sql.DB
	table string
}

func NewPostgresStore(ctx context.Context, dsn, collection string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	s := &PostgresStore{DB: db, table: pq.QuoteIdentifier(collection)}
	if err := s.EnsureCollection(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[Store] PostgreSQL connected, collection %s", collection)
	return s, nil
}

// EnsureCollection creates the collection table if not exists
func (s *PostgresStore) EnsureCollection(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.table)

	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create collection table: %w", err)
	}
	return nil
}

// InsertMessage inserts a record as one document
func (s *PostgresStore) InsertMessage(ctx context.Context, record *model.Record) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, document) VALUES ($1, $2)`, s.table)
	if _, err := s.DB.ExecContext(ctx, query, uuid.New(), doc); err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	return nil
}

// ListMessages returns the stored documents oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context) ([]model.Record, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT document FROM %s ORDER BY created_at, id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		var r model.Record
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Close(context.Context) error {
	return s.DB.Close()
}
