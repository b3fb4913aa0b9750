// Package store implements the document persistence layer: the
// optimistic, version-gated commit path and the append-only operation
// log that backs reconnect catch-up.
package store

import (
	"errors"
	"time"

	"github.com/shiv248/collabd/pkg/ot"
)

// ErrNotFound is returned by Load when the document does not exist.
var ErrNotFound = errors.New("store: document not found")

// ErrDuplicate is returned by AppendLog when an entry for (docID,
// version) already exists; the caller treats this as success.
var ErrDuplicate = errors.New("store: duplicate log entry")

// CommitResult is the outcome of a conditional Commit call.
type CommitResult int

const (
	Committed CommitResult = iota
	Conflict
)

// Document is the durable representation of a collaboratively edited
// document. Content is a Delta so that the exact same compose/transform
// machinery that operates on edits also represents document state.
type Document struct {
	ID            string
	Title         string
	Content       *ot.Delta
	Version       int
	Owner         string
	Collaborators []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LogEntry is one committed operation, immutable once written. Version
// is the post-commit value: the first entry for any document is always
// version 1, never 0.
type LogEntry struct {
	DocID     string
	Version   int
	Delta     *ot.Delta
	UserID    string
	ConnID    string
	Timestamp time.Time
}

// Store is the Document Store component. Commit is the only mutator of
// a document's version; the log is append-only.
type Store interface {
	Load(docID string) (*Document, error)
	OpsSince(docID string, fromVersion int) ([]LogEntry, error)
	Commit(docID string, expectedVersion int, newContent *ot.Delta, newVersion int) (CommitResult, error)
	AppendLog(entry LogEntry) error
}
