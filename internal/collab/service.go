package collab

import (
	"fmt"

	"github.com/shiv248/collabd/internal/store"
	"github.com/shiv248/collabd/pkg/logger"
	"github.com/shiv248/collabd/pkg/ot"
)

var serviceLog = logger.For("collab.service")

// ApplyResult is returned by DocumentService.ApplyOperation on success.
type ApplyResult struct {
	TransformedDelta *ot.Delta
	NewVersion       int
}

// DocumentService is the Document Service component: it owns the
// transform-then-commit loop, restarted on optimistic-concurrency
// conflicts for at most MaxRetries attempts in total.
type DocumentService struct {
	Store      store.Store
	MaxRetries int
}

// NewDocumentService constructs a DocumentService with the spec's
// recommended retry bound when maxRetries <= 0 is passed.
func NewDocumentService(s store.Store, maxRetries int) *DocumentService {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &DocumentService{Store: s, MaxRetries: maxRetries}
}

// ApplyOperation transforms a client's delta against any operations it
// missed, commits the result under the version gate, and appends it to
// the log. It restarts from scratch on a Commit conflict (another writer
// won the race) and gives up with ErrTooMuchContention once MaxRetries
// attempts have all conflicted.
func (s *DocumentService) ApplyOperation(docID string, clientDelta *ot.Delta, clientVersion int, userID, connID string) (*ApplyResult, error) {
	log := serviceLog.WithDoc(docID)

	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		doc, err := s.Store.Load(docID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("collab: load document: %w", err)
		}

		if clientVersion > doc.Version {
			return nil, ErrVersionAhead
		}

		var transformed *ot.Delta
		if clientVersion < doc.Version {
			entries, err := s.Store.OpsSince(docID, clientVersion)
			if err != nil {
				return nil, fmt.Errorf("collab: opsSince: %w", err)
			}
			committed := make([]*ot.Delta, len(entries))
			for i, e := range entries {
				committed[i] = e.Delta
			}
			transformed, err = ot.TransformMultiple(clientDelta, committed)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
			}
		} else {
			transformed = clientDelta
		}

		newContent, err := ot.Compose(doc.Content, transformed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		newVersion := doc.Version + 1

		result, err := s.Store.Commit(docID, doc.Version, newContent, newVersion)
		if err != nil {
			return nil, fmt.Errorf("collab: commit: %w", err)
		}
		if result == store.Conflict {
			log.Debug("commit conflict on attempt %d, restarting", attempt)
			continue
		}

		err = s.Store.AppendLog(store.LogEntry{
			DocID:   docID,
			Version: newVersion,
			Delta:   transformed,
			UserID:  userID,
			ConnID:  connID,
		})
		if err != nil && err != store.ErrDuplicate {
			return nil, fmt.Errorf("collab: appendLog: %w", err)
		}

		return &ApplyResult{TransformedDelta: transformed, NewVersion: newVersion}, nil
	}

	return nil, ErrTooMuchContention
}
