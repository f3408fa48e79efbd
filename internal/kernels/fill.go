package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Fill sets every element of its destination to a constant.
type Fill struct {
	dst   *tensor.Tensor
	value float32
}

func NewFill() *Fill { return &Fill{} }

func (k *Fill) Name() string { return "fill" }

func ValidateFill(dst tensor.Desc) error {
	if err := dst.Check(); err != nil {
		return fmt.Errorf("kernel fill: %w", err)
	}
	if dst.Layout != tensor.RowMajor {
		return fmt.Errorf("kernel fill: only row-major operands are supported")
	}
	return nil
}

func (k *Fill) Configure(dst *tensor.Tensor, value float32) error {
	if err := ValidateFill(dst.Desc()); err != nil {
		return err
	}
	k.dst, k.value = dst, value
	return nil
}

func (k *Fill) Run(q *device.Queue) error {
	if k.dst == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		k.dst.Fill(k.value)
		return nil
	})
}
