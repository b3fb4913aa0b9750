// Package client implements the buffering state machine a collaborative
// editor client runs locally: at most one operation in flight to the
// server at a time, with any further local edits composed into a single
// pending operation until the in-flight one is acknowledged.
package client

import "github.com/shiv248/collabd/pkg/ot"

// View receives the deltas the core decides should be applied to the
// visible document. A real editor widget implements this; tests use a
// plain string buffer.
type View interface {
	Apply(delta *ot.Delta)
	Replace(content *ot.Delta)
}

// Transport sends an operation to the server. A real client wires this
// to its WebSocket connection.
type Transport interface {
	SendOp(delta *ot.Delta, baseVersion int)
	JoinDoc(fromVersion *int)
}

// Core holds the three cells of client-side session state described by
// the protocol: the last version known to be in sync with the server, an
// operation already sent and awaiting acknowledgement, and a second
// operation accumulating further local edits behind it.
type Core struct {
	knownVersion int
	inFlightOp   *ot.Delta
	pendingOp    *ot.Delta

	view      View
	transport Transport
}

// New creates a client core bound to a view and transport, both required.
func New(view View, transport Transport) *Core {
	return &Core{view: view, transport: transport}
}

// KnownVersion returns the last version number the client has converged
// on with the server. It only moves forward.
func (c *Core) KnownVersion() int { return c.knownVersion }

// HasOutstandingOp reports whether any local edit is unacknowledged.
func (c *Core) HasOutstandingOp() bool {
	return c.inFlightOp != nil || c.pendingOp != nil
}

// LocalEdit is called when the user makes an edit in the view. If no op
// is already in flight, the edit is sent immediately; otherwise it is
// composed into the pending buffer. An edit is never sent while another
// is still in flight.
func (c *Core) LocalEdit(delta *ot.Delta) error {
	if c.inFlightOp == nil {
		c.inFlightOp = delta
		c.transport.SendOp(delta, c.knownVersion)
		return nil
	}

	if c.pendingOp == nil {
		c.pendingOp = delta
		return nil
	}

	composed, err := ot.Compose(c.pendingOp, delta)
	if err != nil {
		return err
	}
	c.pendingOp = composed
	return nil
}

// OpAck is called when the server confirms the in-flight op landed at
// the given version. It clears the in-flight slot, advances
// knownVersion, and promotes any pending op into flight.
func (c *Core) OpAck(version int) {
	c.knownVersion = version
	c.inFlightOp = nil

	if c.pendingOp != nil {
		toSend := c.pendingOp
		c.pendingOp = nil
		c.inFlightOp = toSend
		c.transport.SendOp(toSend, c.knownVersion)
	}
}

// ReceiveOp applies a remote operation that landed at the given version.
// When the client has no unacknowledged local edits it is applied to the
// view directly; otherwise it is transformed against whatever the client
// has in flight (and pending), and the client's own buffers are
// transformed in turn so they remain valid against the new base.
func (c *Core) ReceiveOp(delta *ot.Delta, version int, userID string) error {
	if c.inFlightOp == nil && c.pendingOp == nil {
		c.view.Apply(delta)
		c.knownVersion = version
		return nil
	}

	remote := delta

	if c.inFlightOp != nil {
		remotePrime, err := c.inFlightOp.Transform(remote, true)
		if err != nil {
			return err
		}
		inFlightPrime, err := remote.Transform(c.inFlightOp, false)
		if err != nil {
			return err
		}
		remote = remotePrime
		c.inFlightOp = inFlightPrime
	}

	if c.pendingOp != nil {
		remotePrime, err := c.pendingOp.Transform(remote, true)
		if err != nil {
			return err
		}
		pendingPrime, err := remote.Transform(c.pendingOp, false)
		if err != nil {
			return err
		}
		remote = remotePrime
		c.pendingOp = pendingPrime
	}

	c.view.Apply(remote)
	c.knownVersion = version
	_ = userID
	return nil
}

// DocSnapshot replaces the view wholesale and resets all session state,
// used on initial join and on error recovery.
func (c *Core) DocSnapshot(content *ot.Delta, version int) {
	c.view.Replace(content)
	c.knownVersion = version
	c.inFlightOp = nil
	c.pendingOp = nil
}

// CatchupOps applies a batch of operations received during reconnect, in
// ascending version order, each handled exactly as ReceiveOp would.
func (c *Core) CatchupOps(ops []VersionedDelta, currentVersion int) error {
	for _, op := range ops {
		if err := c.ReceiveOp(op.Delta, op.Version, op.UserID); err != nil {
			return err
		}
	}
	c.knownVersion = currentVersion
	return nil
}

// VersionedDelta pairs a delta with the version it landed at and the
// user that authored it, the shape catch-up batches are made of.
type VersionedDelta struct {
	Delta   *ot.Delta
	Version int
	UserID  string
}

// OpError clears both local buffers (the server rejected or could not
// place the in-flight operation) and re-requests a full resync.
func (c *Core) OpError() {
	c.inFlightOp = nil
	c.pendingOp = nil
	v := c.knownVersion
	c.transport.JoinDoc(&v)
}
