//go:build js && wasm

// Command ot-wasm compiles the client-side buffering Core to WebAssembly,
// exposing it to a JavaScript editor through a single global constructor.
// The JS caller supplies the View (apply/replace callbacks onto whatever
// widget it renders) and the Transport (sendOp/joinDoc callbacks onto its
// own WebSocket), and drives Core entirely through JSON-encoded deltas so
// no Go pointers ever have to cross the JS boundary.
package main

import (
	"encoding/json"
	"syscall/js"

	"github.com/shiv248/collabd/pkg/client"
	"github.com/shiv248/collabd/pkg/ot"
)

// jsView forwards Apply/Replace to JS-supplied callbacks.
type jsView struct {
	apply   js.Value
	replace js.Value
}

func (v *jsView) Apply(delta *ot.Delta) {
	v.apply.Invoke(string(marshalDelta(delta)))
}

func (v *jsView) Replace(content *ot.Delta) {
	v.replace.Invoke(string(marshalDelta(content)))
}

// jsTransport forwards SendOp/JoinDoc to JS-supplied callbacks.
type jsTransport struct {
	sendOp  js.Value
	joinDoc js.Value
}

func (t *jsTransport) SendOp(delta *ot.Delta, baseVersion int) {
	t.sendOp.Invoke(string(marshalDelta(delta)), baseVersion)
}

func (t *jsTransport) JoinDoc(fromVersion *int) {
	if fromVersion == nil {
		t.joinDoc.Invoke(js.Null())
		return
	}
	t.joinDoc.Invoke(*fromVersion)
}

func marshalDelta(d *ot.Delta) []byte {
	data, err := json.Marshal(d)
	if err != nil {
		return []byte(`{"ops":[]}`)
	}
	return data
}

func unmarshalDelta(s string) (*ot.Delta, error) {
	var d ot.Delta
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// wrapCore builds the JS-facing object for one client.Core instance.
func wrapCore(core *client.Core) js.Value {
	obj := make(map[string]interface{})

	obj["localEdit"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		delta, err := unmarshalDelta(args[0].String())
		if err != nil {
			return err.Error()
		}
		if err := core.LocalEdit(delta); err != nil {
			return err.Error()
		}
		return nil
	})

	obj["opAck"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		core.OpAck(args[0].Int())
		return nil
	})

	obj["receiveOp"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		delta, err := unmarshalDelta(args[0].String())
		if err != nil {
			return err.Error()
		}
		version := args[1].Int()
		userID := args[2].String()
		if err := core.ReceiveOp(delta, version, userID); err != nil {
			return err.Error()
		}
		return nil
	})

	obj["docSnapshot"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		content, err := unmarshalDelta(args[0].String())
		if err != nil {
			return err.Error()
		}
		core.DocSnapshot(content, args[1].Int())
		return nil
	})

	obj["catchupOps"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var raw []struct {
			Delta   json.RawMessage `json:"delta"`
			Version int             `json:"version"`
			UserID  string          `json:"userId"`
		}
		if err := json.Unmarshal([]byte(args[0].String()), &raw); err != nil {
			return err.Error()
		}
		ops := make([]client.VersionedDelta, len(raw))
		for i, r := range raw {
			var d ot.Delta
			if err := json.Unmarshal(r.Delta, &d); err != nil {
				return err.Error()
			}
			ops[i] = client.VersionedDelta{Delta: &d, Version: r.Version, UserID: r.UserID}
		}
		if err := core.CatchupOps(ops, args[1].Int()); err != nil {
			return err.Error()
		}
		return nil
	})

	obj["opError"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		core.OpError()
		return nil
	})

	obj["knownVersion"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return core.KnownVersion()
	})

	obj["hasOutstandingOp"] = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return core.HasOutstandingOp()
	})

	return js.ValueOf(obj)
}

func main() {
	constructor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		opts := args[0]
		view := &jsView{
			apply:   opts.Get("apply"),
			replace: opts.Get("replace"),
		}
		transport := &jsTransport{
			sendOp:  opts.Get("sendOp"),
			joinDoc: opts.Get("joinDoc"),
		}
		core := client.New(view, transport)
		return wrapCore(core)
	})

	js.Global().Set("CollabCore", constructor)

	println("collabd client core WASM module loaded")

	<-make(chan struct{})
}
