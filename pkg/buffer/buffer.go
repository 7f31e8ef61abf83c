// Package buffer provides owned byte buffers for cryptographic material.
//
// A Buffer exclusively owns its storage: copies are always deep copies, and
// Release zeroizes the storage before dropping it. Key blobs, EC point
// coordinates and signature components must never alias each other, so the
// usual Go habit of sharing slices is deliberately unavailable here.
package buffer

// Buffer is an owned, explicitly sized byte sequence. The zero value is an
// empty buffer with no storage.
type Buffer struct {
	data []byte
}

// New returns a Buffer owning a fresh copy of b. New(nil) returns an
// empty buffer.
func New(b []byte) Buffer {
	if len(b) == 0 {
		return Buffer{}
	}
	data := make([]byte, len(b))
	copy(data, b)
	return Buffer{data: data}
}

// Size returns the number of owned bytes. A size of zero means the buffer
// owns no storage.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Bytes returns a copy of the owned storage. The caller owns the returned
// slice; mutating it never affects the buffer.
func (b *Buffer) Bytes() []byte {
	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Set replaces the owned storage with a fresh copy of src, releasing the
// previous storage first.
func (b *Buffer) Set(src []byte) {
	b.Release()
	if len(src) == 0 {
		return
	}
	b.data = make([]byte, len(src))
	copy(b.data, src)
}

// CopyFrom releases the destination's storage and deep-copies src into it.
// Copying a buffer onto itself is a no-op.
func (b *Buffer) CopyFrom(src *Buffer) {
	if b == src {
		return
	}
	b.Set(src.data)
}

// Clone returns an independent deep copy.
func (b *Buffer) Clone() Buffer {
	return New(b.data)
}

// Release zeroizes and drops the owned storage, restoring the empty
// invariant. Releasing an empty buffer is a no-op.
func (b *Buffer) Release() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.data = nil
}

// Pair is a two-buffer aggregate for values that travel together, such as
// EC point coordinates or the components of an ECDSA signature.
type Pair struct {
	One Buffer
	Two Buffer
}

// NewPair returns a Pair owning fresh copies of one and two.
func NewPair(one, two []byte) Pair {
	return Pair{One: New(one), Two: New(two)}
}

// CopyFrom applies Buffer.CopyFrom to both fields independently.
func (p *Pair) CopyFrom(src *Pair) {
	p.One.CopyFrom(&src.One)
	p.Two.CopyFrom(&src.Two)
}

// Clone returns an independent deep copy of both fields.
func (p *Pair) Clone() Pair {
	return Pair{One: p.One.Clone(), Two: p.Two.Clone()}
}

// Release releases both fields. Idempotent.
func (p *Pair) Release() {
	p.One.Release()
	p.Two.Release()
}
