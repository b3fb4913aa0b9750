// Package wire defines the WebSocket message protocol exchanged between
// a collaborative editing client and the server: a tagged-union JSON
// envelope per direction, exactly one field populated per message.
package wire

import (
	"encoding/json"

	"github.com/shiv248/collabd/pkg/ot"
)

// CursorRange is a cursor or selection anchor/head pair, in the same
// target-length index space the document's Delta operates in.
type CursorRange struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// UserInfo is a connected participant's display identity.
type UserInfo struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Hue    uint32 `json:"hue"`
}

// ClientMsg is a message sent from client to server. Only one field is
// populated per message.
type ClientMsg struct {
	JoinDoc      *JoinDocMsg      `json:"joinDoc,omitempty"`
	SendOp       *SendOpMsg       `json:"sendOp,omitempty"`
	CursorUpdate *CursorUpdateMsg `json:"cursorUpdate,omitempty"`
	LeaveDoc     *LeaveDocMsg     `json:"leaveDoc,omitempty"`
}

type JoinDocMsg struct {
	DocID       string `json:"docId"`
	FromVersion *int   `json:"fromVersion,omitempty"`
}

type SendOpMsg struct {
	DocID       string    `json:"docId"`
	Delta       *ot.Delta `json:"delta"`
	BaseVersion int       `json:"baseVersion"`
}

type CursorUpdateMsg struct {
	DocID string      `json:"docId"`
	Range CursorRange `json:"range"`
}

type LeaveDocMsg struct {
	DocID string `json:"docId"`
}

// ServerMsg is a message sent from server to client. Only one field is
// populated per message.
type ServerMsg struct {
	DocSnapshot  *DocSnapshotMsg  `json:"docSnapshot,omitempty"`
	CatchupOps   *CatchupOpsMsg   `json:"catchupOps,omitempty"`
	ReceiveOp    *ReceiveOpMsg    `json:"receiveOp,omitempty"`
	OpAck        *OpAckMsg        `json:"opAck,omitempty"`
	OpError      *OpErrorMsg      `json:"opError,omitempty"`
	RemoteCursor *RemoteCursorMsg `json:"remoteCursor,omitempty"`
	UserJoined   *UserJoinedMsg   `json:"userJoined,omitempty"`
	UserLeft     *UserLeftMsg     `json:"userLeft,omitempty"`
	Error        *ErrorMsg        `json:"error,omitempty"`
}

type DocSnapshotMsg struct {
	DocID   string    `json:"docId"`
	Content *ot.Delta `json:"content"`
	Version int       `json:"version"`
}

// LoggedOp is one operation-log entry as replayed to a catching-up
// client: the transformed delta that was actually committed, never the
// client's pre-transform submission.
type LoggedOp struct {
	Version int       `json:"version"`
	Delta   *ot.Delta `json:"delta"`
	UserID  string    `json:"userId"`
}

type CatchupOpsMsg struct {
	DocID          string     `json:"docId"`
	Ops            []LoggedOp `json:"ops"`
	CurrentVersion int        `json:"currentVersion"`
}

type ReceiveOpMsg struct {
	DocID   string    `json:"docId"`
	Delta   *ot.Delta `json:"delta"`
	Version int       `json:"version"`
	UserID  string    `json:"userId"`
}

type OpAckMsg struct {
	DocID   string `json:"docId"`
	Version int    `json:"version"`
}

type OpErrorMsg struct {
	DocID       string `json:"docId"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	BaseVersion int    `json:"baseVersion"`
}

type RemoteCursorMsg struct {
	DocID  string      `json:"docId"`
	UserID string      `json:"userId"`
	Range  CursorRange `json:"range"`
}

type UserJoinedMsg struct {
	DocID string   `json:"docId"`
	User  UserInfo `json:"user"`
}

type UserLeftMsg struct {
	DocID  string `json:"docId"`
	UserID string `json:"userId"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON ensures exactly the populated field is emitted, matching
// the tagged-union shape on the wire.
func (m ServerMsg) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 1)
	switch {
	case m.DocSnapshot != nil:
		out["docSnapshot"] = m.DocSnapshot
	case m.CatchupOps != nil:
		out["catchupOps"] = m.CatchupOps
	case m.ReceiveOp != nil:
		out["receiveOp"] = m.ReceiveOp
	case m.OpAck != nil:
		out["opAck"] = m.OpAck
	case m.OpError != nil:
		out["opError"] = m.OpError
	case m.RemoteCursor != nil:
		out["remoteCursor"] = m.RemoteCursor
	case m.UserJoined != nil:
		out["userJoined"] = m.UserJoined
	case m.UserLeft != nil:
		out["userLeft"] = m.UserLeft
	case m.Error != nil:
		out["error"] = m.Error
	}
	return json.Marshal(out)
}

func NewDocSnapshot(docID string, content *ot.Delta, version int) *ServerMsg {
	return &ServerMsg{DocSnapshot: &DocSnapshotMsg{DocID: docID, Content: content, Version: version}}
}

func NewCatchupOps(docID string, ops []LoggedOp, currentVersion int) *ServerMsg {
	return &ServerMsg{CatchupOps: &CatchupOpsMsg{DocID: docID, Ops: ops, CurrentVersion: currentVersion}}
}

func NewReceiveOp(docID string, delta *ot.Delta, version int, userID string) *ServerMsg {
	return &ServerMsg{ReceiveOp: &ReceiveOpMsg{DocID: docID, Delta: delta, Version: version, UserID: userID}}
}

func NewOpAck(docID string, version int) *ServerMsg {
	return &ServerMsg{OpAck: &OpAckMsg{DocID: docID, Version: version}}
}

func NewOpError(docID, code, message string, baseVersion int) *ServerMsg {
	return &ServerMsg{OpError: &OpErrorMsg{DocID: docID, Code: code, Message: message, BaseVersion: baseVersion}}
}

func NewRemoteCursor(docID, userID string, r CursorRange) *ServerMsg {
	return &ServerMsg{RemoteCursor: &RemoteCursorMsg{DocID: docID, UserID: userID, Range: r}}
}

func NewUserJoined(docID string, user UserInfo) *ServerMsg {
	return &ServerMsg{UserJoined: &UserJoinedMsg{DocID: docID, User: user}}
}

func NewUserLeft(docID, userID string) *ServerMsg {
	return &ServerMsg{UserLeft: &UserLeftMsg{DocID: docID, UserID: userID}}
}

func NewError(code, message string) *ServerMsg {
	return &ServerMsg{Error: &ErrorMsg{Code: code, Message: message}}
}
