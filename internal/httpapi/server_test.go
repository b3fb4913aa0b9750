package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/collabd/internal/collab"
	"github.com/shiv248/collabd/internal/config"
	"github.com/shiv248/collabd/internal/lock"
	"github.com/shiv248/collabd/internal/store"
	"github.com/shiv248/collabd/internal/wire"
	"github.com/shiv248/collabd/pkg/ot"
)

func testConfig() config.Config {
	return config.Config{
		BroadcastBufferSize: 16,
		WSReadTimeout:       5 * time.Minute,
		WSWriteTimeout:      5 * time.Second,
		LockTTL:             time.Second,
		LockDeadline:        200 * time.Millisecond,
		LockRetry:           10 * time.Millisecond,
	}
}

// newTestServer wires a Server over a fresh in-memory store and lock
// service, mirroring the teacher's testServer(t) constructor but
// assembling the store/lock/document-service trio our Server takes as
// already-built dependencies instead of opening a database file.
func newTestServer(t *testing.T) (*Server, *store.MemStore) {
	t.Helper()
	st := store.NewMem()
	docs := collab.NewDocumentService(st, 5)
	return NewServer(st, docs, lock.NewMem(), DevAuthenticator{}, testConfig()), st
}

func connectWebSocket(t *testing.T, server *httptest.Server, docID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/socket/" + docID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readServerMsg(t *testing.T, conn *websocket.Conn) *wire.ServerMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg wire.ServerMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read server message: %v", err)
	}
	return &msg
}

func sendClientMsg(t *testing.T, conn *websocket.Conn, msg *wire.ClientMsg) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write client message: %v", err)
	}
}

func TestJoinDocReturnsSnapshot(t *testing.T) {
	srv, st := newTestServer(t)
	st.Put(&store.Document{ID: "doc-1", Content: ot.New().Insert("hello", nil), Version: 1, Owner: "alice"})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-1", "alice")
	sendClientMsg(t, conn, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})

	msg := readServerMsg(t, conn)
	if msg.DocSnapshot == nil {
		t.Fatalf("expected docSnapshot, got %+v", msg)
	}
	if msg.DocSnapshot.Version != 1 {
		t.Fatalf("expected version 1, got %d", msg.DocSnapshot.Version)
	}
	if got := textOfDelta(msg.DocSnapshot.Content); got != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got)
	}
}

func TestUnauthorizedJoinReceivesTerminalError(t *testing.T) {
	srv, st := newTestServer(t)
	st.Put(&store.Document{ID: "doc-1", Content: ot.New().Insert("secret", nil), Version: 1, Owner: "alice"})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-1", "mallory")
	sendClientMsg(t, conn, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})

	msg := readServerMsg(t, conn)
	if msg.Error == nil {
		t.Fatalf("expected a terminal error message, got %+v", msg)
	}
	if msg.Error.Code != "unauthorized" {
		t.Fatalf("expected code 'unauthorized', got %q", msg.Error.Code)
	}
	if msg.OpError != nil {
		t.Fatalf("unauthorized join must never be reported as a retriable op-error")
	}
}

func TestSendOpBroadcastsToOtherSubscribersAndAcksSender(t *testing.T) {
	srv, st := newTestServer(t)
	st.Put(&store.Document{ID: "doc-1", Content: ot.New().Insert("hi", nil), Version: 1, Owner: "alice"})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	author := connectWebSocket(t, ts, "doc-1", "alice")
	sendClientMsg(t, author, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})
	readServerMsg(t, author) // doc-snapshot

	watcher := connectWebSocket(t, ts, "doc-1", "bob")
	sendClientMsg(t, watcher, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})
	readServerMsg(t, watcher) // doc-snapshot
	readServerMsg(t, author)  // user-joined, broadcast from bob joining

	edit := ot.New().Retain(2, nil).Insert("!", nil)
	sendClientMsg(t, author, &wire.ClientMsg{SendOp: &wire.SendOpMsg{DocID: "doc-1", Delta: edit, BaseVersion: 1}})

	ack := readServerMsg(t, author)
	if ack.OpAck == nil {
		t.Fatalf("expected opAck for the sender, got %+v", ack)
	}
	if ack.OpAck.Version != 2 {
		t.Fatalf("expected ack version 2, got %d", ack.OpAck.Version)
	}

	received := readServerMsg(t, watcher)
	if received.ReceiveOp == nil {
		t.Fatalf("expected receiveOp for the other subscriber, got %+v", received)
	}
	if received.ReceiveOp.Version != 2 || received.ReceiveOp.UserID != "alice" {
		t.Fatalf("unexpected receiveOp payload: %+v", received.ReceiveOp)
	}

	doc, err := st.Load("doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := textOfDelta(doc.Content); got != "hi!" {
		t.Fatalf("expected converged content 'hi!', got %q", got)
	}
}

// alwaysConflictStore embeds a real Store and overrides only Commit, so
// every ApplyOperation attempt exhausts the retry loop and returns
// ErrTooMuchContention deterministically, without racing goroutines
// against each other to manufacture a real conflict.
type alwaysConflictStore struct {
	store.Store
}

func (alwaysConflictStore) Commit(docID string, expectedVersion int, newContent *ot.Delta, newVersion int) (store.CommitResult, error) {
	return store.Conflict, nil
}

func TestSendOpContentionProducesRetriableOpErrorNotTerminalError(t *testing.T) {
	st := store.NewMem()
	st.Put(&store.Document{ID: "doc-1", Content: ot.New().Insert("hi", nil), Version: 1, Owner: "alice"})

	docs := collab.NewDocumentService(alwaysConflictStore{Store: st}, 2)
	srv := NewServer(st, docs, lock.NewMem(), DevAuthenticator{}, testConfig())

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-1", "alice")

	edit := ot.New().Retain(2, nil).Insert("!", nil)
	sendClientMsg(t, conn, &wire.ClientMsg{SendOp: &wire.SendOpMsg{DocID: "doc-1", Delta: edit, BaseVersion: 1}})

	msg := readServerMsg(t, conn)
	if msg.OpError == nil {
		t.Fatalf("expected opError for a contention failure, got %+v", msg)
	}
	if msg.Error != nil {
		t.Fatalf("a retriable contention failure must never be reported as a terminal error")
	}
	if msg.OpError.Code != "too_much_contention" {
		t.Fatalf("expected code 'too_much_contention', got %q", msg.OpError.Code)
	}
	if msg.OpError.BaseVersion != 1 {
		t.Fatalf("expected baseVersion 1 so the client can rejoin and retry, got %d", msg.OpError.BaseVersion)
	}

	// The connection must still be usable after a retriable failure:
	// a client reconciling per the op-error rejoins at baseVersion.
	sendClientMsg(t, conn, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})
	snapshot := readServerMsg(t, conn)
	if snapshot.DocSnapshot == nil {
		t.Fatalf("expected the connection to survive and still answer join-doc, got %+v", snapshot)
	}
}

func TestStatsEndpointReportsTrackedDocuments(t *testing.T) {
	srv, st := newTestServer(t)
	st.Put(&store.Document{ID: "doc-1", Content: ot.New().Insert("hi", nil), Version: 1, Owner: "alice"})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-1", "alice")
	sendClientMsg(t, conn, &wire.ClientMsg{JoinDoc: &wire.JoinDocMsg{DocID: "doc-1"}})
	readServerMsg(t, conn)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(body); got != `{"numDocuments":1}` {
		t.Fatalf("expected one tracked document, got %s", got)
	}
}

func TestSocketRequiresDocumentID(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/socket/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing document ID, got %d", resp.StatusCode)
	}
}

func textOfDelta(d *ot.Delta) string {
	out := ""
	for _, op := range d.Ops {
		out += op.Insert
	}
	return out
}
