package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
)

// Tensor couples a descriptor with a raw element buffer. The buffer may
// be unbound (nil) for pool-managed scratch tensors until the owning
// pool assigns arena storage.
//
// Tensor does not perform memory safety beyond the checks of Go's slice
// types; out-of-range element indices panic.
type Tensor struct {
	desc Desc
	data []byte
}

// New allocates a tensor with heap-backed zeroed storage.
func New(desc Desc) (*Tensor, error) {
	return NewWith(HeapAllocator(), desc)
}

// NewWith allocates a tensor through the given allocation backend.
func NewWith(alloc Allocator, desc Desc) (*Tensor, error) {
	if err := desc.Check(); err != nil {
		return nil, err
	}
	buf, err := alloc.Alloc(desc.ByteSize())
	if err != nil {
		return nil, fmt.Errorf("alloc tensor %s: %w", desc, err)
	}
	return &Tensor{desc: desc.Clone(), data: buf}, nil
}

// NewUnbound creates a tensor with no storage. Used by scratch pools
// that bind arena memory later.
func NewUnbound(desc Desc) (*Tensor, error) {
	if err := desc.Check(); err != nil {
		return nil, err
	}
	return &Tensor{desc: desc.Clone()}, nil
}

// FromF32 builds a bound tensor from float32 values, encoding into the
// descriptor's dtype. The value count must match the shape.
func FromF32(desc Desc, values []float32) (*Tensor, error) {
	t, err := New(desc)
	if err != nil {
		return nil, err
	}
	if len(values) != desc.NumElements() {
		return nil, fmt.Errorf("value count %d does not match shape %s", len(values), desc)
	}
	t.WriteF32(values)
	return t, nil
}

// Desc returns a copy of the tensor's descriptor.
func (t *Tensor) Desc() Desc { return t.desc.Clone() }

// DType returns the element dtype.
func (t *Tensor) DType() DType { return t.desc.DType }

// NumElements returns the total element count.
func (t *Tensor) NumElements() int { return t.desc.NumElements() }

// Bytes exposes the raw buffer, or nil if unbound.
func (t *Tensor) Bytes() []byte { return t.data }

// Bound reports whether storage is attached.
func (t *Tensor) Bound() bool { return t.data != nil }

// Bind attaches storage. The slice must cover exactly the descriptor's
// byte size. Pool-internal.
func (t *Tensor) Bind(buf []byte) error {
	if len(buf) != t.desc.ByteSize() {
		return fmt.Errorf("bind %s: buffer is %d bytes, need %d", t.desc, len(buf), t.desc.ByteSize())
	}
	t.data = buf
	return nil
}

// Unbind detaches storage without freeing it.
func (t *Tensor) Unbind() { t.data = nil }

// F32At decodes element i (flattened row-major index) to float32.
func (t *Tensor) F32At(i int) float32 {
	switch t.desc.DType {
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	case F16:
		return F16BitsToF32(binary.LittleEndian.Uint16(t.data[i*2:]))
	case BF16:
		return BF16BitsToF32(binary.LittleEndian.Uint16(t.data[i*2:]))
	default:
		panic("tensor: element access on invalid dtype")
	}
}

// SetF32At encodes v into element i in the tensor's dtype.
func (t *Tensor) SetF32At(i int, v float32) {
	switch t.desc.DType {
	case F32:
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(v))
	case F16:
		binary.LittleEndian.PutUint16(t.data[i*2:], F32ToF16Bits(v))
	case BF16:
		binary.LittleEndian.PutUint16(t.data[i*2:], F32ToBF16Bits(v))
	default:
		panic("tensor: element access on invalid dtype")
	}
}

// ReadF32 decodes the whole tensor into dst, which must hold
// NumElements values.
func (t *Tensor) ReadF32(dst []float32) {
	n := t.desc.NumElements()
	if len(dst) < n {
		panic("tensor: read buffer too small")
	}
	for i := 0; i < n; i++ {
		dst[i] = t.F32At(i)
	}
}

// WriteF32 encodes src into the tensor. src must hold NumElements
// values.
func (t *Tensor) WriteF32(src []float32) {
	n := t.desc.NumElements()
	if len(src) < n {
		panic("tensor: write buffer too small")
	}
	for i := 0; i < n; i++ {
		t.SetF32At(i, src[i])
	}
}

// F32s decodes the whole tensor into a fresh slice.
func (t *Tensor) F32s() []float32 {
	out := make([]float32, t.desc.NumElements())
	t.ReadF32(out)
	return out
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	n := t.desc.NumElements()
	for i := 0; i < n; i++ {
		t.SetF32At(i, v)
	}
}

// FillRand fills the tensor with reproducible pseudo-random values in a
// small range around zero to avoid overflow in accumulations. The same
// seed always produces the same contents.
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	n := t.desc.NumElements()
	for i := 0; i < n; i++ {
		t.SetF32At(i, (rng.Float32()-0.5)*0.2)
	}
}
