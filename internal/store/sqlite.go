package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shiv248/collabd/pkg/logger"
	"github.com/shiv248/collabd/pkg/ot"
)

var sqliteLog = logger.For("store")

// SQLiteStore persists documents and their operation log in SQLite, the
// same driver and embedded-migration approach the original single-writer
// server used, extended with a version column and a CAS-guarded update.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) a SQLite database at uri and
// applies pending migrations.
func NewSQLite(uri string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers anyway; avoid SQLITE_BUSY churn.

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(docID string) (*Document, error) {
	var (
		doc           Document
		contentJSON   []byte
		collabJSON    string
		createdAtUnix int64
		updatedAtUnix int64
	)

	err := s.db.QueryRow(
		`SELECT id, title, content, version, owner, collaborators, created_at, updated_at
		 FROM documents WHERE id = ?`, docID,
	).Scan(&doc.ID, &doc.Title, &contentJSON, &doc.Version, &doc.Owner, &collabJSON, &createdAtUnix, &updatedAtUnix)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}

	content := ot.New()
	if err := json.Unmarshal(contentJSON, content); err != nil {
		return nil, fmt.Errorf("store: decode content: %w", err)
	}
	if err := json.Unmarshal([]byte(collabJSON), &doc.Collaborators); err != nil {
		return nil, fmt.Errorf("store: decode collaborators: %w", err)
	}
	doc.Content = content
	doc.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()

	return &doc, nil
}

func (s *SQLiteStore) OpsSince(docID string, fromVersion int) ([]LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT version, delta, user_id, conn_id, created_at
		 FROM operations WHERE doc_id = ? AND version > ? ORDER BY version ASC`,
		docID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("store: opsSince: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry     LogEntry
			deltaJSON []byte
			createdAt int64
		)
		if err := rows.Scan(&entry.Version, &deltaJSON, &entry.UserID, &entry.ConnID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: opsSince scan: %w", err)
		}
		delta := ot.New()
		if err := json.Unmarshal(deltaJSON, delta); err != nil {
			return nil, fmt.Errorf("store: decode op delta: %w", err)
		}
		entry.DocID = docID
		entry.Delta = delta
		entry.Timestamp = time.Unix(createdAt, 0).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Commit atomically swaps a document's content and version, guarded by
// an exact match on expectedVersion (the optimistic version gate). The
// caller must have already verified newVersion == expectedVersion+1.
func (s *SQLiteStore) Commit(docID string, expectedVersion int, newContent *ot.Delta, newVersion int) (CommitResult, error) {
	if newVersion != expectedVersion+1 {
		return Conflict, fmt.Errorf("store: commit: newVersion %d is not expectedVersion+1 (%d)", newVersion, expectedVersion+1)
	}

	contentJSON, err := json.Marshal(newContent)
	if err != nil {
		return Conflict, fmt.Errorf("store: encode content: %w", err)
	}

	result, err := s.db.Exec(
		`UPDATE documents SET content = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
		contentJSON, newVersion, time.Now().Unix(), docID, expectedVersion,
	)
	if err != nil {
		return Conflict, fmt.Errorf("store: commit exec: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return Conflict, fmt.Errorf("store: commit rows affected: %w", err)
	}
	if rows == 0 {
		return Conflict, nil
	}

	sqliteLog.WithDoc(docID).Debug("committed version %d", newVersion)
	return Committed, nil
}

// AppendLog inserts an immutable log entry. A duplicate (docID, version)
// pair returns ErrDuplicate and writes nothing; the caller treats that as
// success, since the commit already succeeded once and the retry is
// idempotent.
func (s *SQLiteStore) AppendLog(entry LogEntry) error {
	deltaJSON, err := json.Marshal(entry.Delta)
	if err != nil {
		return fmt.Errorf("store: encode op delta: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO operations (doc_id, version, delta, user_id, conn_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.DocID, entry.Version, deltaJSON, entry.UserID, entry.ConnID, ts.Unix(),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: appendLog: %w", err)
	}
	return nil
}

// CreateDocument inserts a brand-new document at the version doc carries
// (0 for a fresh document); the timestamps are set to now. Not part of
// the Store interface (documents are created by the out-of-scope
// metadata service) but kept here for tests and local bootstrapping.
func (s *SQLiteStore) CreateDocument(doc *Document) error {
	contentJSON, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("store: encode content: %w", err)
	}
	collabJSON, err := json.Marshal(doc.Collaborators)
	if err != nil {
		return fmt.Errorf("store: encode collaborators: %w", err)
	}
	now := time.Now().Unix()

	_, err = s.db.Exec(
		`INSERT INTO documents (id, title, content, version, owner, collaborators, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, contentJSON, doc.Version, doc.Owner, collabJSON, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: createDocument: %w", err)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
