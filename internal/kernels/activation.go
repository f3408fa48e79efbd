package kernels

import (
	"fmt"
	"math"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Activation applies a pointwise nonlinearity. src and dst may alias
// for in-place operation.
type Activation struct {
	src, dst *tensor.Tensor
	info     ActivationInfo
}

func NewActivation() *Activation { return &Activation{} }

func (k *Activation) Name() string { return "activation" }

// ValidateActivation checks an activation configuration without
// touching any buffers.
func ValidateActivation(src, dst tensor.Desc, info ActivationInfo) error {
	if err := checkEqual("activation", src, dst); err != nil {
		return err
	}
	switch info.Fn {
	case ActLogistic, ActTanh:
	case ActClip:
		if info.B > info.A {
			return fmt.Errorf("kernel activation: clip bounds [%v, %v] are inverted", info.B, info.A)
		}
	default:
		return fmt.Errorf("kernel activation: unsupported function %s", info.Fn)
	}
	return nil
}

func (k *Activation) Configure(src, dst *tensor.Tensor, info ActivationInfo) error {
	if err := ValidateActivation(src.Desc(), dst.Desc(), info); err != nil {
		return err
	}
	k.src, k.dst, k.info = src, dst, info
	return nil
}

func (k *Activation) Run(q *device.Queue) error {
	if k.src == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		n := k.src.NumElements()
		switch k.info.Fn {
		case ActLogistic:
			for i := 0; i < n; i++ {
				k.dst.SetF32At(i, logistic(k.src.F32At(i)))
			}
		case ActTanh:
			for i := 0; i < n; i++ {
				k.dst.SetF32At(i, float32(math.Tanh(float64(k.src.F32At(i)))))
			}
		case ActClip:
			lo, hi := k.info.B, k.info.A
			for i := 0; i < n; i++ {
				v := k.src.F32At(i)
				if v < lo {
					v = lo
				} else if v > hi {
					v = hi
				}
				k.dst.SetF32At(i, v)
			}
		}
		return nil
	})
}

// logistic computes the sigmoid activation.
func logistic(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}
