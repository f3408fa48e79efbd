package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// GEMM computes out = a x b for row-major 2D tensors: a [k, m] against
// b [n, k] produces out [n, m].
type GEMM struct {
	a, b, out *tensor.Tensor
}

func NewGEMM() *GEMM { return &GEMM{} }

func (k *GEMM) Name() string { return "gemm" }

func ValidateGEMM(a, b, out tensor.Desc) error {
	for _, d := range []tensor.Desc{a, b, out} {
		if err := d.Check(); err != nil {
			return fmt.Errorf("kernel gemm: %w", err)
		}
		if d.Layout != tensor.RowMajor {
			return fmt.Errorf("kernel gemm: only row-major operands are supported")
		}
	}
	if b.DType != a.DType || out.DType != a.DType {
		return fmt.Errorf("kernel gemm: operand dtypes differ")
	}
	if a.Dim(0) != b.Dim(1) {
		return fmt.Errorf("kernel gemm: inner dimensions %d and %d differ", a.Dim(0), b.Dim(1))
	}
	if out.Dim(0) != b.Dim(0) || out.Dim(1) != a.Dim(1) {
		return fmt.Errorf("kernel gemm: output shape %s, want [%d,%d]", out, b.Dim(0), a.Dim(1))
	}
	return nil
}

func (k *GEMM) Configure(a, b, out *tensor.Tensor) error {
	if err := ValidateGEMM(a.Desc(), b.Desc(), out.Desc()); err != nil {
		return err
	}
	k.a, k.b, k.out = a, b, out
	return nil
}

func (k *GEMM) Run(q *device.Queue) error {
	if k.a == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		inner := k.a.Desc().Dim(0)
		m := k.a.Desc().Dim(1)
		n := k.b.Desc().Dim(0)
		for y := 0; y < m; y++ {
			for x := 0; x < n; x++ {
				var sum float32
				for j := 0; j < inner; j++ {
					sum += k.a.F32At(y*inner+j) * k.b.F32At(j*n+x)
				}
				k.out.SetF32At(y*n+x, sum)
			}
		}
		return nil
	})
}
