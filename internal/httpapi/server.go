// Package httpapi is the HTTP/WebSocket transport: it upgrades connections
// at /api/socket/{docId}, authenticates them, and binds each one to its own
// collab.Session for the lifetime of the socket.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/collabd/internal/collab"
	"github.com/shiv248/collabd/internal/config"
	"github.com/shiv248/collabd/internal/lock"
	"github.com/shiv248/collabd/internal/room"
	"github.com/shiv248/collabd/internal/store"
	"github.com/shiv248/collabd/internal/wire"
	"github.com/shiv248/collabd/pkg/logger"
)

var serverLog = logger.For("httpapi.server")

// Server is the Transport component: it owns the document room registry
// and wires every accepted connection to a fresh collab.Session.
type Server struct {
	mux *http.ServeMux

	store  store.Store
	docs   *collab.DocumentService
	locks  lock.Service
	router *room.Router
	auth   Authenticator
	cfg    config.Config

	mu           sync.Mutex
	lastAccessed map[string]time.Time
}

// NewServer wires the transport on top of an already-constructed store,
// lock service, and document service, matching the teacher's pattern of
// taking pre-built dependencies rather than constructing them itself.
func NewServer(st store.Store, docs *collab.DocumentService, locks lock.Service, auth Authenticator, cfg config.Config) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		store:        st,
		docs:         docs,
		locks:        locks,
		router:       room.NewRouter(),
		auth:         auth,
		cfg:          cfg,
		lastAccessed: make(map[string]time.Time),
	}
	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades the connection, authenticates the caller, and runs
// the session's read loop until the socket closes.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/api/socket/")
	if docID == "" {
		http.Error(w, "document ID required", http.StatusBadRequest)
		return
	}

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		serverLog.WithDoc(docID).Warn("websocket upgrade failed: %v", err)
		return
	}

	s.touch(docID)
	connID := uuid.NewString()
	wsc := newWSConn(connID, conn, s.cfg.BroadcastBufferSize, s.cfg.WSWriteTimeout)
	defer wsc.Close()

	sess := collab.NewSession(connID, userID, wsc, collab.Deps{
		Store:             s.store,
		Docs:              s.docs,
		Lock:              s.locks,
		Router:            s.router,
		Auth:              &collab.DocAuthorizer{Store: s.store},
		LockTTL:           s.cfg.LockTTL,
		LockDeadline:      s.cfg.LockDeadline,
		LockRetryInterval: s.cfg.LockRetry,
	})
	defer sess.Disconnect()

	if err := s.readLoop(r.Context(), conn, sess); err != nil {
		serverLog.WithDoc(docID).Debug("connection %s closed: %v", connID, err)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop is the per-connection message pump, shaped after the teacher's
// Connection.Handle: read one client message at a time under a deadline,
// dispatch it, repeat until the socket errors or closes normally.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *collab.Session) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.WSReadTimeout)
		var msg wire.ClientMsg
		err := wsjson.Read(readCtx, conn, &msg)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		s.dispatch(ctx, &msg, sess)
	}
}

func (s *Server) dispatch(ctx context.Context, msg *wire.ClientMsg, sess *collab.Session) {
	switch {
	case msg.JoinDoc != nil:
		s.touch(msg.JoinDoc.DocID)
		if err := sess.JoinDoc(msg.JoinDoc.DocID, msg.JoinDoc.FromVersion); err != nil {
			serverLog.WithDoc(msg.JoinDoc.DocID).Debug("join-doc failed for %s: %v", sess.UserID, err)
		}
	case msg.SendOp != nil:
		s.touch(msg.SendOp.DocID)
		sess.SendOp(ctx, msg.SendOp.DocID, msg.SendOp.Delta, msg.SendOp.BaseVersion)
	case msg.CursorUpdate != nil:
		sess.CursorUpdate(msg.CursorUpdate.DocID, msg.CursorUpdate.Range)
	case msg.LeaveDoc != nil:
		sess.LeaveDoc(msg.LeaveDoc.DocID)
	}
}

func (s *Server) touch(docID string) {
	s.mu.Lock()
	s.lastAccessed[docID] = time.Now()
	s.mu.Unlock()
}

// handleStats reports coarse liveness counters, matching the teacher's
// /api/stats endpoint.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	numDocs := len(s.lastAccessed)
	s.mu.Unlock()

	fmt.Fprintf(w, `{"numDocuments":%d}`, numDocs)
}

// StartCleaner periodically evicts bookkeeping for documents that have had
// no activity within cfg.IdleExpiry. Every edit is already durably
// committed as it happens, so there is no snapshot left to flush; this
// only prunes the in-memory last-accessed tracking and logs rooms that
// outlived their last subscriber, generalizing the teacher's
// cleanupExpiredDocuments from an in-memory document map to a
// durably-backed one.
func (s *Server) StartCleaner(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupIdle()
		}
	}
}

func (s *Server) cleanupIdle() {
	now := time.Now()
	var expired []string

	s.mu.Lock()
	for docID, last := range s.lastAccessed {
		if now.Sub(last) > s.cfg.IdleExpiry {
			expired = append(expired, docID)
		}
	}
	for _, docID := range expired {
		delete(s.lastAccessed, docID)
	}
	s.mu.Unlock()

	for _, docID := range expired {
		if len(s.router.Subscribers(docID)) == 0 {
			serverLog.WithDoc(docID).Info("evicted idle room bookkeeping")
		}
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	serverLog.Info("listening on %s", addr)
	return http.ListenAndServe(addr, s)
}
