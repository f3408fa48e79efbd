package kernels

import (
	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Copy duplicates src into dst. Shapes and dtypes must match exactly.
type Copy struct {
	src, dst *tensor.Tensor
}

func NewCopy() *Copy { return &Copy{} }

func (k *Copy) Name() string { return "copy" }

func ValidateCopy(src, dst tensor.Desc) error {
	return checkEqual("copy", src, dst)
}

func (k *Copy) Configure(src, dst *tensor.Tensor) error {
	if err := ValidateCopy(src.Desc(), dst.Desc()); err != nil {
		return err
	}
	k.src, k.dst = src, dst
	return nil
}

func (k *Copy) Run(q *device.Queue) error {
	if k.src == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		copy(k.dst.Bytes(), k.src.Bytes())
		return nil
	})
}
