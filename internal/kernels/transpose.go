package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Transpose writes the 2D transpose of src into dst: [w, h] -> [h, w].
// src and dst must not alias.
type Transpose struct {
	src, dst *tensor.Tensor
}

func NewTranspose() *Transpose { return &Transpose{} }

func (k *Transpose) Name() string { return "transpose" }

func ValidateTranspose(src, dst tensor.Desc) error {
	for _, d := range []tensor.Desc{src, dst} {
		if err := d.Check(); err != nil {
			return fmt.Errorf("kernel transpose: %w", err)
		}
		if d.Layout != tensor.RowMajor {
			return fmt.Errorf("kernel transpose: only row-major operands are supported")
		}
	}
	if dst.DType != src.DType {
		return fmt.Errorf("kernel transpose: operand dtypes differ")
	}
	if dst.Dim(0) != src.Dim(1) || dst.Dim(1) != src.Dim(0) {
		return fmt.Errorf("kernel transpose: dst shape %s, want [%d,%d]", dst, src.Dim(1), src.Dim(0))
	}
	return nil
}

func (k *Transpose) Configure(src, dst *tensor.Tensor) error {
	if err := ValidateTranspose(src.Desc(), dst.Desc()); err != nil {
		return err
	}
	k.src, k.dst = src, dst
	return nil
}

func (k *Transpose) Run(q *device.Queue) error {
	if k.src == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		w := k.src.Desc().Dim(0)
		h := k.src.Desc().Dim(1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				k.dst.SetF32At(x*h+y, k.src.F32At(y*w+x))
			}
		}
		return nil
	})
}
