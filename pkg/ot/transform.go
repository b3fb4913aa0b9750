package ot

// Compose returns the delta that results from applying b immediately
// after a. It is associative (but not commutative): Compose(Compose(a,b),c)
// equals Compose(a, Compose(b,c)). b.BaseLen() must not exceed
// a.TargetLen(); a shorter b leaves the rest of a's output unchanged, as
// if b ended in a plain retain (see chop).
func Compose(a, b *Delta) (*Delta, error) {
	if b.BaseLen() > a.TargetLen() {
		return nil, protoErrf("compose: b.BaseLen=%d > a.TargetLen=%d", b.BaseLen(), a.TargetLen())
	}

	ita := newIterator(a)
	itb := newIterator(b)
	result := New()

	for ita.hasNext() || itb.hasNext() {
		switch {
		case itb.peekIsInsert():
			result.push(itb.next(maxInt))
		case ita.peekIsDelete():
			result.push(ita.next(maxInt))
		default:
			length := min(ita.peekLength(), itb.peekLength())
			opA := ita.next(length)
			opB := itb.next(length)

			switch {
			case opB.isDelete():
				if opA.isRetain() {
					result.push(opB)
				}
				// opA insert + opB delete: the inserted text never
				// survives, so it contributes nothing to the result.
			case opA.isRetain():
				result.push(Op{Retain: length, Attrs: composeAttrs(opA.Attrs, opB.Attrs, true)})
			default: // opA insert, opB retain
				result.push(Op{Insert: opA.Insert, Attrs: composeAttrs(opA.Attrs, opB.Attrs, false)})
			}
		}
	}

	return chop(result), nil
}

// Transform returns the delta equivalent to b, adjusted so it can be
// applied after a instead of against a's shared base. priority==true
// means a is treated as having happened first for tie-breaking purposes
// (its inserts are not shifted by b's inserts at the same position).
func (a *Delta) Transform(b *Delta, priority bool) (*Delta, error) {
	if a.BaseLen() != b.BaseLen() {
		return nil, protoErrf("transform: base length mismatch a=%d b=%d", a.BaseLen(), b.BaseLen())
	}

	ita := newIterator(a)
	itb := newIterator(b)
	result := New()

	for ita.hasNext() || itb.hasNext() {
		switch {
		case ita.peekIsInsert() && (priority || !itb.peekIsInsert()):
			result.Retain(ita.next(maxInt).length(), nil)
		case itb.peekIsInsert():
			result.push(itb.next(maxInt))
		default:
			length := min(ita.peekLength(), itb.peekLength())
			opA := ita.next(length)
			opB := itb.next(length)

			switch {
			case opA.isDelete():
				// b's retain/delete over already-deleted text vanishes.
			case opB.isDelete():
				result.push(opB)
			default:
				result.Retain(length, transformAttrs(opA.Attrs, opB.Attrs, priority))
			}
		}
	}

	return chop(result), nil
}

// TransformMultiple transforms incoming against each committed delta in
// order, left to right, with every committed op treated as having
// priority over incoming at each step (it was accepted first).
func TransformMultiple(incoming *Delta, committed []*Delta) (*Delta, error) {
	result := incoming
	for i, c := range committed {
		transformed, err := c.Transform(result, true)
		if err != nil {
			return nil, protoErrf("transformMultiple: step %d: %v", i, err)
		}
		result = transformed
	}
	return result, nil
}

// Invert returns the delta that undoes d, given the document (an
// insert-only delta) that d was applied to.
func (d *Delta) Invert(base *Delta) *Delta {
	baseIndex := 0
	inverted := New()

	for _, op := range d.Ops {
		switch {
		case op.isInsert():
			inverted.Delete(op.length())
		case op.isRetain() && len(op.Attrs) == 0:
			inverted.Retain(op.Retain, nil)
			baseIndex += op.Retain
		default:
			length := op.length()
			for _, baseOp := range Slice(base, baseIndex, baseIndex+length).Ops {
				if op.isDelete() {
					inverted.push(baseOp)
				} else {
					inverted.Retain(baseOp.length(), invertAttrs(baseOp.Attrs, op.Attrs))
				}
			}
			baseIndex += length
		}
	}

	return inverted
}

// Slice returns the portion of d spanning [start, end) measured in
// target-length units. d is normally an insert-only document delta.
func Slice(d *Delta, start, end int) *Delta {
	result := New()
	it := newIterator(d)
	index := 0

	for index < end && it.hasNext() {
		var next Op
		if index < start {
			next = it.next(start - index)
		} else {
			next = it.next(end - index)
		}
		if next.length() == 0 && index >= start {
			break
		}
		if index >= start {
			result.push(next)
		}
		index += next.length()
	}

	return result
}

// chop drops a trailing plain retain: it carries no information (the
// document simply ends there) and keeping it would make otherwise-equal
// deltas compare unequal.
func chop(d *Delta) *Delta {
	if n := len(d.Ops); n > 0 {
		last := d.Ops[n-1]
		if last.isRetain() && len(last.Attrs) == 0 {
			d.Ops = d.Ops[:n-1]
		}
	}
	return d
}

func composeAttrs(a, b Attrs, keepNull bool) Attrs {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(Attrs, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v == nil && !keepNull {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func transformAttrs(a, b Attrs, priority bool) Attrs {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return nil
	}
	if !priority {
		return b
	}
	out := make(Attrs)
	for k, v := range b {
		if _, exists := a[k]; !exists {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func invertAttrs(base, target Attrs) Attrs {
	out := make(Attrs)
	for k, v := range base {
		if tv, ok := target[k]; !ok || tv != v {
			out[k] = v
		}
	}
	for k := range target {
		if _, ok := base[k]; !ok {
			out[k] = nil
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
