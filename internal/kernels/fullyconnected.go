package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// FullyConnected computes out = in x weights (+ bias): a [k, batch]
// input against [k, n] weights produces [n, batch]. Weight row u holds
// the k coefficients of output unit u. bias is an optional [n] vector.
type FullyConnected struct {
	in, weights, bias, out *tensor.Tensor
}

func NewFullyConnected() *FullyConnected { return &FullyConnected{} }

func (k *FullyConnected) Name() string { return "fully-connected" }

// ValidateFullyConnected checks the projection shapes. bias may be nil.
func ValidateFullyConnected(in, weights tensor.Desc, bias *tensor.Desc, out tensor.Desc) error {
	for _, d := range []tensor.Desc{in, weights, out} {
		if err := d.Check(); err != nil {
			return fmt.Errorf("kernel fully-connected: %w", err)
		}
		if d.Layout != tensor.RowMajor {
			return fmt.Errorf("kernel fully-connected: only row-major operands are supported")
		}
	}
	if weights.DType != in.DType || out.DType != in.DType {
		return fmt.Errorf("kernel fully-connected: operand dtypes differ")
	}
	kdim, n := weights.Dim(0), weights.Dim(1)
	if in.Dim(0) != kdim {
		return fmt.Errorf("kernel fully-connected: input width %d does not match weight width %d", in.Dim(0), kdim)
	}
	if out.Dim(0) != n {
		return fmt.Errorf("kernel fully-connected: output width %d does not match %d units", out.Dim(0), n)
	}
	if out.Dim(1) != in.Dim(1) {
		return fmt.Errorf("kernel fully-connected: batch %d does not match input batch %d", out.Dim(1), in.Dim(1))
	}
	if bias != nil {
		if err := bias.Check(); err != nil {
			return fmt.Errorf("kernel fully-connected: %w", err)
		}
		if bias.DType != in.DType {
			return fmt.Errorf("kernel fully-connected: bias dtype differs")
		}
		if bias.Dims() != 1 || bias.Dim(0) != n {
			return fmt.Errorf("kernel fully-connected: bias shape %s, want [%d]", *bias, n)
		}
	}
	return nil
}

// Configure binds operands. bias may be nil (layer-norm variants add
// the bias after normalization instead).
func (k *FullyConnected) Configure(in, weights, bias, out *tensor.Tensor) error {
	var biasDesc *tensor.Desc
	if bias != nil {
		d := bias.Desc()
		biasDesc = &d
	}
	if err := ValidateFullyConnected(in.Desc(), weights.Desc(), biasDesc, out.Desc()); err != nil {
		return err
	}
	k.in, k.weights, k.bias, k.out = in, weights, bias, out
	return nil
}

func (k *FullyConnected) Run(q *device.Queue) error {
	if k.in == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		kdim := k.weights.Desc().Dim(0)
		n := k.weights.Desc().Dim(1)
		batch := k.in.Desc().Dim(1)
		for y := 0; y < batch; y++ {
			for u := 0; u < n; u++ {
				var sum float32
				if k.bias != nil {
					sum = k.bias.F32At(u)
				}
				for i := 0; i < kdim; i++ {
					sum += k.in.F32At(y*kdim+i) * k.weights.F32At(u*kdim+i)
				}
				k.out.SetF32At(y*n+u, sum)
			}
		}
		return nil
	})
}
