package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shiv248/collabd/internal/lock"
	"github.com/shiv248/collabd/internal/room"
	"github.com/shiv248/collabd/internal/store"
	"github.com/shiv248/collabd/internal/wire"
	"github.com/shiv248/collabd/pkg/logger"
	"github.com/shiv248/collabd/pkg/ot"
)

var sessionLog = logger.For("collab.session")

// Authorizer decides whether a user may read/write a document. The
// shipped implementation checks only owner/collaborator membership,
// matching the spec's explicit non-goal of access control "beyond"
// that check.
type Authorizer interface {
	Authorize(docID, userID string) error
}

// DocAuthorizer authorizes against the Document Store's owner and
// collaborators fields.
type DocAuthorizer struct {
	Store store.Store
}

func (a *DocAuthorizer) Authorize(docID, userID string) error {
	doc, err := a.Store.Load(docID)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("collab: authorize load: %w", err)
	}
	if doc.Owner == userID {
		return nil
	}
	for _, c := range doc.Collaborators {
		if c == userID {
			return nil
		}
	}
	return ErrUnauthorized
}

// Deps bundles every collaborator a Session needs. Router, Store, and
// Lock are the only injected global state, exactly as the spec's design
// notes call for, which is what lets tests substitute in-memory fakes.
type Deps struct {
	Store  store.Store
	Docs   *DocumentService
	Lock   lock.Service
	Router *room.Router
	Auth   Authorizer

	LockTTL           time.Duration
	LockDeadline      time.Duration
	LockRetryInterval time.Duration
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.LockTTL == 0 {
		out.LockTTL = 3 * time.Second
	}
	if out.LockDeadline == 0 {
		out.LockDeadline = 3 * time.Second
	}
	if out.LockRetryInterval == 0 {
		out.LockRetryInterval = 50 * time.Millisecond
	}
	return out
}

// Session is the Collaboration Session component: the protocol handler
// for one live connection, covering join/send-op/cursor/leave and
// disconnect cleanup.
type Session struct {
	ConnID string
	UserID string

	conn room.Conn
	deps Deps

	joined map[string]bool
}

// NewSession creates a Session bound to a single connection.
func NewSession(connID, userID string, conn room.Conn, deps Deps) *Session {
	return &Session{
		ConnID: connID,
		UserID: userID,
		conn:   conn,
		deps:   deps.withDefaults(),
		joined: make(map[string]bool),
	}
}

// JoinDoc authorizes the user, subscribes the connection to the
// document's room, and replies with either a full snapshot or a
// catch-up batch of ops depending on whether fromVersion was supplied.
func (s *Session) JoinDoc(docID string, fromVersion *int) error {
	if err := s.deps.Auth.Authorize(docID, s.UserID); err != nil {
		s.sendErr(err)
		return err
	}

	doc, err := s.deps.Store.Load(docID)
	if err != nil {
		if err == store.ErrNotFound {
			s.sendErr(ErrNotFound)
			return ErrNotFound
		}
		return fmt.Errorf("collab: join load: %w", err)
	}

	s.deps.Router.Subscribe(docID, s.conn)
	s.joined[docID] = true

	if fromVersion != nil {
		entries, err := s.deps.Store.OpsSince(docID, *fromVersion)
		if err != nil {
			return fmt.Errorf("collab: join opsSince: %w", err)
		}
		ops := make([]wire.LoggedOp, len(entries))
		for i, e := range entries {
			ops[i] = wire.LoggedOp{Version: e.Version, Delta: e.Delta, UserID: e.UserID}
		}
		s.conn.Send(wire.NewCatchupOps(docID, ops, doc.Version))
	} else {
		s.conn.Send(wire.NewDocSnapshot(docID, doc.Content, doc.Version))
	}

	s.deps.Router.Broadcast(docID, s.ConnID, wire.NewUserJoined(docID, wire.UserInfo{UserID: s.UserID}))
	return nil
}

// SendOp acquires the per-document lock (falling back to pure optimistic
// concurrency on timeout), applies the operation through the Document
// Service, and on success broadcasts the transformed delta to every
// other subscriber while acking the sender. A failed ApplyOperation is
// reported to the sender as an op-error carrying baseVersion, never as
// a terminal error: it is always retriable by rejoining at baseVersion,
// which is exactly what the client Core's OpError handler does. Nothing
// is ever broadcast on failure. The lock, once acquired, is always
// released.
func (s *Session) SendOp(ctx context.Context, docID string, delta *ot.Delta, baseVersion int) {
	key := lock.DocKey(docID)
	owner := newLockOwner(s.ConnID)

	held, err := lock.Acquire(ctx, s.deps.Lock, key, owner, s.deps.LockTTL, s.deps.LockRetryInterval, s.deps.LockDeadline)
	if err != nil {
		sessionLog.WithDoc(docID).Warn("lock acquire error, proceeding optimistically: %v", err)
	}
	defer func() {
		if held {
			if err := s.deps.Lock.Release(ctx, key, owner); err != nil {
				sessionLog.WithDoc(docID).Warn("lock release error: %v", err)
			}
		}
	}()

	result, err := s.deps.Docs.ApplyOperation(docID, delta, baseVersion, s.UserID, s.ConnID)
	if err != nil {
		s.conn.Send(wire.NewOpError(docID, errorCode(err), err.Error(), baseVersion))
		return
	}

	s.conn.Send(wire.NewOpAck(docID, result.NewVersion))
	s.deps.Router.Broadcast(docID, s.ConnID, wire.NewReceiveOp(docID, result.TransformedDelta, result.NewVersion, s.UserID))
}

func (s *Session) CursorUpdate(docID string, r wire.CursorRange) {
	if !s.joined[docID] {
		return
	}
	s.deps.Router.Broadcast(docID, s.ConnID, wire.NewRemoteCursor(docID, s.UserID, r))
}

// LeaveDoc unsubscribes the connection from a single document's room and
// announces the departure to whoever remains.
func (s *Session) LeaveDoc(docID string) {
	s.deps.Router.Unsubscribe(docID, s.ConnID)
	delete(s.joined, docID)
	s.deps.Router.Broadcast(docID, "", wire.NewUserLeft(docID, s.UserID))
}

// Disconnect unsubscribes the connection from every room it had joined
// and announces the departure in each one. Already-accepted commits are
// not rolled back; reconnecting clients reconcile via catch-up.
func (s *Session) Disconnect() {
	docIDs := s.deps.Router.UnsubscribeAll(s.ConnID)
	for _, docID := range docIDs {
		s.deps.Router.Broadcast(docID, "", wire.NewUserLeft(docID, s.UserID))
	}
	s.joined = make(map[string]bool)
}

func (s *Session) sendErr(err error) {
	s.conn.Send(wire.NewError(errorCode(err), err.Error()))
}

func newLockOwner(connID string) string {
	return connID + ":" + uuid.NewString()
}

func errorCode(err error) string {
	switch err {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrNotFound:
		return "not_found"
	case ErrProtocol:
		return "protocol_error"
	case ErrVersionAhead:
		return "version_ahead"
	case ErrTooMuchContention:
		return "too_much_contention"
	case ErrTransport:
		return "transport_error"
	default:
		return "error"
	}
}
