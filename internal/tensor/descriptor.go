package tensor

import (
	"fmt"
	"strings"
)

// Layout tags the memory order of a tensor buffer. Every kernel in this
// module works on row-major data; the tag exists so mixed-layout operand
// sets can be rejected up front instead of silently misread.
type Layout uint8

const (
	RowMajor Layout = iota
	ColMajor
)

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	default:
		return "unknown"
	}
}

// Desc is static tensor metadata: shape, element dtype and layout. It
// carries no data. Dimension 0 is the fastest-moving (width) dimension,
// so a [w, h] descriptor stores h rows of w elements.
//
// A Desc bound to a configured kernel must not be mutated afterwards;
// kernels capture sizes at configure time.
type Desc struct {
	Shape  []int
	DType  DType
	Layout Layout
}

// NewDesc builds a row-major descriptor from a dtype and dimensions.
func NewDesc(dt DType, dims ...int) Desc {
	shape := make([]int, len(dims))
	copy(shape, dims)
	return Desc{Shape: shape, DType: dt, Layout: RowMajor}
}

// Check reports whether the descriptor is well formed: a known dtype and
// at least one strictly positive dimension.
func (d Desc) Check() error {
	if d.DType.ElemSize() == 0 {
		return fmt.Errorf("descriptor has invalid dtype")
	}
	if len(d.Shape) == 0 {
		return fmt.Errorf("descriptor has no dimensions")
	}
	for i, s := range d.Shape {
		if s <= 0 {
			return fmt.Errorf("descriptor dimension %d is %d", i, s)
		}
	}
	return nil
}

// Dims returns the number of dimensions.
func (d Desc) Dims() int { return len(d.Shape) }

// Dim returns the size of dimension i, or 1 for dimensions beyond the
// shape (so a [n] vector behaves as [n, 1] where convenient).
func (d Desc) Dim(i int) int {
	if i < 0 {
		panic("negative dimension index")
	}
	if i >= len(d.Shape) {
		return 1
	}
	return d.Shape[i]
}

// NumElements returns the total element count.
func (d Desc) NumElements() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// ByteSize returns the buffer size required to hold the tensor.
func (d Desc) ByteSize() int {
	return d.NumElements() * d.DType.ElemSize()
}

// SameShape reports whether both descriptors have identical shapes.
func (d Desc) SameShape(o Desc) bool {
	if len(d.Shape) != len(o.Shape) {
		return false
	}
	for i := range d.Shape {
		if d.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy; descriptors handed to callers must not
// alias internal shape slices.
func (d Desc) Clone() Desc {
	shape := make([]int, len(d.Shape))
	copy(shape, d.Shape)
	return Desc{Shape: shape, DType: d.DType, Layout: d.Layout}
}

func (d Desc) String() string {
	parts := make([]string, len(d.Shape))
	for i, s := range d.Shape {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("[%s]%s", strings.Join(parts, ","), d.DType)
}
