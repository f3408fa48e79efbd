package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// BinaryOp selects the arithmetic of an Elementwise kernel.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	default:
		return "unknown"
	}
}

// Elementwise computes dst = a <op> b. b may either match a's shape or
// be a vector of length a.Dim(0), in which case it is broadcast across
// rows (the bias / peephole-coefficient case). dst may alias a.
type Elementwise struct {
	op        BinaryOp
	a, b, dst *tensor.Tensor
	broadcast bool
}

func NewElementwise() *Elementwise { return &Elementwise{} }

func (k *Elementwise) Name() string { return k.op.String() }

// ValidateElementwise checks operand compatibility, allowing row
// broadcast of b.
func ValidateElementwise(op BinaryOp, a, b, dst tensor.Desc) error {
	name := op.String()
	if op > OpMul {
		return fmt.Errorf("kernel elementwise: unsupported op")
	}
	if err := checkEqual(name, a, dst); err != nil {
		return err
	}
	if err := b.Check(); err != nil {
		return fmt.Errorf("kernel %s: %w", name, err)
	}
	if b.DType != a.DType {
		return fmt.Errorf("kernel %s: dtype %s does not match %s", name, b.DType, a.DType)
	}
	if a.SameShape(b) {
		return nil
	}
	if b.Dims() == 1 && b.Dim(0) == a.Dim(0) {
		return nil
	}
	return fmt.Errorf("kernel %s: shape %s is neither %s nor a broadcastable [%d] vector", name, b, a, a.Dim(0))
}

func (k *Elementwise) Configure(op BinaryOp, a, b, dst *tensor.Tensor) error {
	if err := ValidateElementwise(op, a.Desc(), b.Desc(), dst.Desc()); err != nil {
		return err
	}
	k.op, k.a, k.b, k.dst = op, a, b, dst
	k.broadcast = !a.Desc().SameShape(b.Desc())
	return nil
}

func (k *Elementwise) Run(q *device.Queue) error {
	if k.a == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		n := k.a.NumElements()
		w := k.a.Desc().Dim(0)
		for i := 0; i < n; i++ {
			bi := i
			if k.broadcast {
				bi = i % w
			}
			av, bv := k.a.F32At(i), k.b.F32At(bi)
			var v float32
			switch k.op {
			case OpAdd:
				v = av + bv
			case OpSub:
				v = av - bv
			case OpMul:
				v = av * bv
			}
			k.dst.SetF32At(i, v)
		}
		return nil
	})
}
