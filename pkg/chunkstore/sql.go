// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/docqa/pkg/document"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLBackend stores records in one table, chunks encoded as JSON.
// Supported dialects are sqlite, postgres and mysql.
type SQLBackend struct {
	db      *sql.DB
	dialect string
	table   string
}

// NewSQLBackend creates the table if it does not exist.
func NewSQLBackend(ctx context.Context, db *sql.DB, dialect, table string) (*SQLBackend, error) {
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	if table == "" {
		table = "parsed_documents"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	b := &SQLBackend{db: db, dialect: dialect, table: table}
	if err := b.createTable(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) createTable(ctx context.Context) error {
	pathType, chunksType := "TEXT", "TEXT"
	if b.dialect == "mysql" {
		pathType, chunksType = "VARCHAR(768)", "LONGTEXT"
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    path %s PRIMARY KEY,
    size_bytes BIGINT NOT NULL,
    modified_at BIGINT NOT NULL,
    stored_at BIGINT NOT NULL,
    chunk_count INTEGER NOT NULL,
    chunks %s NOT NULL
)`, b.table, pathType, chunksType)

	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s table: %w", b.table, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) Get(ctx context.Context, path string) (*Record, error) {
	query := b.rebind(fmt.Sprintf(`SELECT size_bytes, modified_at, stored_at, chunks FROM %s WHERE path = ?`, b.table))

	var size, modified, stored int64
	var chunks string
	err := b.db.QueryRowContext(ctx, query, path).Scan(&size, &modified, &stored, &chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Path: path,
		Fingerprint: document.Fingerprint{
			SizeBytes:  size,
			ModifiedAt: time.Unix(0, modified),
		},
		StoredAt: time.Unix(0, stored),
	}
	if err := json.Unmarshal([]byte(chunks), &rec.Chunks); err != nil {
		return nil, fmt.Errorf("corrupt chunks: %w", err)
	}
	return rec, nil
}

func (b *SQLBackend) Head(ctx context.Context, path string) (document.Fingerprint, error) {
	query := b.rebind(fmt.Sprintf(`SELECT size_bytes, modified_at FROM %s WHERE path = ?`, b.table))

	var size, modified int64
	err := b.db.QueryRowContext(ctx, query, path).Scan(&size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Fingerprint{}, ErrNotFound
	}
	if err != nil {
		return document.Fingerprint{}, err
	}
	return document.Fingerprint{SizeBytes: size, ModifiedAt: time.Unix(0, modified)}, nil
}

// Put deletes and inserts in one transaction.
func (b *SQLBackend) Put(ctx context.Context, rec *Record) error {
	chunks, err := json.Marshal(rec.Chunks)
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, b.rebind(fmt.Sprintf(`DELETE FROM %s WHERE path = ?`, b.table)), rec.Path); err != nil {
		return fmt.Errorf("failed to delete previous record: %w", err)
	}

	insert := b.rebind(fmt.Sprintf(`INSERT INTO %s (path, size_bytes, modified_at, stored_at, chunk_count, chunks) VALUES (?, ?, ?, ?, ?, ?)`, b.table))
	if _, err := tx.ExecContext(ctx, insert,
		rec.Path,
		rec.Fingerprint.SizeBytes,
		rec.Fingerprint.ModifiedAt.UnixNano(),
		rec.StoredAt.UnixNano(),
		len(rec.Chunks),
		string(chunks),
	); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return tx.Commit()
}

func (b *SQLBackend) Delete(ctx context.Context, path string) error {
	res, err := b.db.ExecContext(ctx, b.rebind(fmt.Sprintf(`DELETE FROM %s WHERE path = ?`, b.table)), path)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	query := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(chunk_count), 0) FROM %s`, b.table)
	if err := b.db.QueryRowContext(ctx, query).Scan(&st.Documents, &st.Chunks); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (b *SQLBackend) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, b.table))
	return err
}

// Close is a no-op; the *sql.DB belongs to the pool that opened it.
func (b *SQLBackend) Close() error { return nil }

var _ Backend = (*SQLBackend)(nil)
