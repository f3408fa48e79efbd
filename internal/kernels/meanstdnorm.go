package kernels

import (
	"math"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// normEpsilon keeps the standard deviation away from zero for constant
// rows.
const normEpsilon = 1e-8

// MeanStdDevNorm normalizes each row of a 2D tensor to zero mean and
// unit standard deviation. src and dst may alias.
type MeanStdDevNorm struct {
	src, dst *tensor.Tensor
}

func NewMeanStdDevNorm() *MeanStdDevNorm { return &MeanStdDevNorm{} }

func (k *MeanStdDevNorm) Name() string { return "mean-stddev-norm" }

func ValidateMeanStdDevNorm(src, dst tensor.Desc) error {
	return checkEqual("mean-stddev-norm", src, dst)
}

func (k *MeanStdDevNorm) Configure(src, dst *tensor.Tensor) error {
	if err := ValidateMeanStdDevNorm(src.Desc(), dst.Desc()); err != nil {
		return err
	}
	k.src, k.dst = src, dst
	return nil
}

func (k *MeanStdDevNorm) Run(q *device.Queue) error {
	if k.src == nil {
		return errConfigured(k.Name())
	}
	return q.Submit(k.Name(), func() error {
		w := k.src.Desc().Dim(0)
		h := k.src.Desc().Dim(1)
		for y := 0; y < h; y++ {
			var sum, sqSum float64
			for x := 0; x < w; x++ {
				v := float64(k.src.F32At(y*w + x))
				sum += v
				sqSum += v * v
			}
			mean := sum / float64(w)
			variance := sqSum/float64(w) - mean*mean
			if variance < 0 {
				variance = 0
			}
			inv := 1.0 / math.Sqrt(variance+normEpsilon)
			for x := 0; x < w; x++ {
				v := float64(k.src.F32At(y*w + x))
				k.dst.SetF32At(y*w+x, float32((v-mean)*inv))
			}
		}
		return nil
	})
}
