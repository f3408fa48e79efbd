package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// WidthConcat concatenates tensors along dimension 0. All inputs must
// share height and dtype; the output width is the sum of input widths.
type WidthConcat struct {
	srcs []*tensor.Tensor
	dst  *tensor.Tensor
}

func NewWidthConcat() *WidthConcat { return &WidthConcat{} }

func (k *WidthConcat) Name() string { return "width-concat" }

func ValidateWidthConcat(srcs []tensor.Desc, dst tensor.Desc) error {
	if len(srcs) < 2 {
		return fmt.Errorf("kernel width-concat: need at least two inputs, have %d", len(srcs))
	}
	if err := dst.Check(); err != nil {
		return fmt.Errorf("kernel width-concat: %w", err)
	}
	if dst.Layout != tensor.RowMajor {
		return fmt.Errorf("kernel width-concat: only row-major operands are supported")
	}
	width := 0
	for i, s := range srcs {
		if err := s.Check(); err != nil {
			return fmt.Errorf("kernel width-concat: input %d: %w", i, err)
		}
		if s.DType != dst.DType {
			return fmt.Errorf("kernel width-concat: input %d dtype %s differs from %s", i, s.DType, dst.DType)
		}
		if s.Dim(1) != dst.Dim(1) {
			return fmt.Errorf("kernel width-concat: input %d height %d differs from %d", i, s.Dim(1), dst.Dim(1))
		}
		width += s.Dim(0)
	}
	if dst.Dim(0) != width {
		return fmt.Errorf("kernel width-concat: output width %d, want %d", dst.Dim(0), width)
	}
	return nil
}

func (k *WidthConcat) Configure(srcs []*tensor.Tensor, dst *tensor.Tensor) error {
	descs := make([]tensor.Desc, len(srcs))
	for i, s := range srcs {
		descs[i] = s.Desc()
	}
	if err := ValidateWidthConcat(descs, dst.Desc()); err != nil {
		return err
	}
	k.srcs = append([]*tensor.Tensor(nil), srcs...)
	k.dst = dst
	return nil
}

func (k *WidthConcat) Run(q *device.Queue) error {
	if k.dst == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		dw := k.dst.Desc().Dim(0)
		h := k.dst.Desc().Dim(1)
		off := 0
		for _, s := range k.srcs {
			sw := s.Desc().Dim(0)
			for y := 0; y < h; y++ {
				for x := 0; x < sw; x++ {
					k.dst.SetF32At(y*dw+off+x, s.F32At(y*sw+x))
				}
			}
			off += sw
		}
		return nil
	})
}
