// Package kernels implements the elementary compute kernels that fused
// layers are assembled from. Every kernel follows the same contract: a
// package-level Validate function over descriptors, a Configure method
// that binds operand tensors, and a Run method that enqueues the
// computation on a device queue.
//
// Kernels never allocate; they work entirely in the buffers they were
// configured with. Scratch operands may still be unbound at Configure
// time — buffers are only touched when the enqueued work executes.
package kernels

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Kernel is the capability contract the orchestrator composes. It never
// inspects a kernel beyond this interface.
type Kernel interface {
	Name() string
	Run(q *device.Queue) error
}

// ActivationFunc selects the pointwise nonlinearity of an Activation
// kernel.
type ActivationFunc uint8

const (
	ActNone ActivationFunc = iota
	ActLogistic
	ActTanh
	// ActClip clamps to [B, A].
	ActClip
)

func (f ActivationFunc) String() string {
	switch f {
	case ActNone:
		return "none"
	case ActLogistic:
		return "logistic"
	case ActTanh:
		return "tanh"
	case ActClip:
		return "clip"
	default:
		return "unknown"
	}
}

// ActivationInfo parameterizes an Activation kernel. A and B are only
// meaningful for ActClip.
type ActivationInfo struct {
	Fn ActivationFunc
	A  float32
	B  float32
}

func errConfigured(name string) error {
	return fmt.Errorf("kernel %s: run before configure", name)
}

// checkEqual verifies that two descriptors agree in shape, dtype and
// layout. Shared by most elementwise validators.
func checkEqual(name string, a, b tensor.Desc) error {
	if err := a.Check(); err != nil {
		return fmt.Errorf("kernel %s: %w", name, err)
	}
	if err := b.Check(); err != nil {
		return fmt.Errorf("kernel %s: %w", name, err)
	}
	if !a.SameShape(b) {
		return fmt.Errorf("kernel %s: shape %s does not match %s", name, a, b)
	}
	if a.DType != b.DType {
		return fmt.Errorf("kernel %s: dtype %s does not match %s", name, a.DType, b.DType)
	}
	if a.Layout != b.Layout || a.Layout != tensor.RowMajor {
		return fmt.Errorf("kernel %s: only row-major operands are supported", name)
	}
	return nil
}
