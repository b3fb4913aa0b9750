// Package collab implements the Document Service and Collaboration
// Session components: the serialized per-document write path and the
// per-connection protocol handler built on top of it.
package collab

import "errors"

// Errors surfaced at the session boundary. Only ErrVersionAhead and
// ErrTooMuchContention are expected in normal operation; the rest
// indicate a client or transport bug.
var (
	ErrUnauthorized      = errors.New("collab: unauthorized")
	ErrNotFound          = errors.New("collab: document not found")
	ErrProtocol          = errors.New("collab: protocol error")
	ErrVersionAhead      = errors.New("collab: client version ahead of server")
	ErrTooMuchContention = errors.New("collab: too much contention")
	ErrTransport         = errors.New("collab: transport error")
)
