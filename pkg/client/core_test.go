package client

import (
	"testing"

	"github.com/shiv248/collabd/pkg/ot"
)

type fakeView struct {
	applied  []*ot.Delta
	replaced *ot.Delta
}

func (v *fakeView) Apply(d *ot.Delta)   { v.applied = append(v.applied, d) }
func (v *fakeView) Replace(d *ot.Delta) { v.replaced = d }

type fakeTransport struct {
	sent     []sentOp
	rejoined []*int
}

type sentOp struct {
	delta       *ot.Delta
	baseVersion int
}

func (t *fakeTransport) SendOp(d *ot.Delta, baseVersion int) {
	t.sent = append(t.sent, sentOp{delta: d, baseVersion: baseVersion})
}

func (t *fakeTransport) JoinDoc(fromVersion *int) {
	t.rejoined = append(t.rejoined, fromVersion)
}

func TestLocalEditSendsImmediatelyWhenIdle(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	edit := ot.New().Insert("a", nil)
	if err := c.LocalEdit(edit); err != nil {
		t.Fatal(err)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(tr.sent))
	}
	if !c.HasOutstandingOp() {
		t.Fatal("expected outstanding op after send")
	}
}

func TestLocalEditBuffersWhileInFlight(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	first := ot.New().Insert("a", nil)
	second := ot.New().Retain(1, nil).Insert("b", nil)
	third := ot.New().Retain(2, nil).Insert("c", nil)

	if err := c.LocalEdit(first); err != nil {
		t.Fatal(err)
	}
	if err := c.LocalEdit(second); err != nil {
		t.Fatal(err)
	}
	if err := c.LocalEdit(third); err != nil {
		t.Fatal(err)
	}

	// Only the first edit was ever sent: the rest compose into pendingOp.
	if len(tr.sent) != 1 {
		t.Fatalf("expected exactly 1 send while an op is in flight, got %d", len(tr.sent))
	}
	if c.pendingOp == nil {
		t.Fatal("expected pendingOp to hold the composed later edits")
	}
}

func TestOpAckPromotesPendingOp(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	first := ot.New().Insert("a", nil)
	second := ot.New().Retain(1, nil).Insert("b", nil)

	_ = c.LocalEdit(first)
	_ = c.LocalEdit(second)

	c.OpAck(1)

	if c.knownVersion != 1 {
		t.Fatalf("knownVersion = %d, want 1", c.knownVersion)
	}
	if len(tr.sent) != 2 {
		t.Fatalf("expected pendingOp promoted and sent, got %d sends", len(tr.sent))
	}
	if c.pendingOp != nil {
		t.Fatal("pendingOp should be cleared after promotion")
	}
	if c.inFlightOp == nil {
		t.Fatal("promoted op should now be in flight")
	}

	c.OpAck(2)
	if c.HasOutstandingOp() {
		t.Fatal("no buffers should remain outstanding after the second ack")
	}
}

func TestReceiveOpAppliesDirectlyWhenIdle(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	remote := ot.New().Insert("x", nil)
	if err := c.ReceiveOp(remote, 5, "user-1"); err != nil {
		t.Fatal(err)
	}

	if len(view.applied) != 1 {
		t.Fatalf("expected remote op applied directly, got %d applications", len(view.applied))
	}
	if c.knownVersion != 5 {
		t.Fatalf("knownVersion = %d, want 5", c.knownVersion)
	}
}

func TestReceiveOpTransformsAgainstInFlight(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	local := ot.New().Insert("L", nil)
	_ = c.LocalEdit(local)

	remote := ot.New().Insert("R", nil)
	if err := c.ReceiveOp(remote, 1, "user-2"); err != nil {
		t.Fatal(err)
	}

	if len(view.applied) != 1 {
		t.Fatalf("expected exactly one application to the view, got %d", len(view.applied))
	}
	// inFlightOp must have been rewritten to apply after the remote op.
	if c.inFlightOp == nil {
		t.Fatal("inFlightOp should survive the remote op, just transformed")
	}
}

func TestDocSnapshotResetsState(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	_ = c.LocalEdit(ot.New().Insert("a", nil))
	snapshot := ot.New().Insert("server state", nil)
	c.DocSnapshot(snapshot, 42)

	if c.HasOutstandingOp() {
		t.Fatal("DocSnapshot should clear both buffers")
	}
	if c.knownVersion != 42 {
		t.Fatalf("knownVersion = %d, want 42", c.knownVersion)
	}
	if view.replaced != snapshot {
		t.Fatal("expected view to be replaced with the snapshot")
	}
}

func TestOpErrorClearsBuffersAndRejoins(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	_ = c.LocalEdit(ot.New().Insert("a", nil))
	_ = c.LocalEdit(ot.New().Retain(1, nil).Insert("b", nil))

	c.OpError()

	if c.HasOutstandingOp() {
		t.Fatal("OpError should clear both buffers")
	}
	if len(tr.rejoined) != 1 {
		t.Fatalf("expected exactly one rejoin request, got %d", len(tr.rejoined))
	}
}

func TestCatchupOpsAppliesAscendingAndSetsVersion(t *testing.T) {
	view, tr := &fakeView{}, &fakeTransport{}
	c := New(view, tr)

	ops := []VersionedDelta{
		{Delta: ot.New().Insert("a", nil), Version: 4, UserID: "u1"},
		{Delta: ot.New().Retain(1, nil).Insert("b", nil), Version: 5, UserID: "u2"},
		{Delta: ot.New().Retain(2, nil).Insert("c", nil), Version: 6, UserID: "u1"},
	}

	if err := c.CatchupOps(ops, 6); err != nil {
		t.Fatal(err)
	}

	if len(view.applied) != 3 {
		t.Fatalf("expected 3 ops applied in order, got %d", len(view.applied))
	}
	if c.knownVersion != 6 {
		t.Fatalf("knownVersion = %d, want 6", c.knownVersion)
	}
}
