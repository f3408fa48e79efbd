package fused

import (
	"testing"

	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// variant selects which optional paths a test configuration enables.
type variant struct {
	cifg       bool
	peephole   bool
	layerNorm  bool
	projection bool
	cellClip   float32
	projClip   float32
}

func (v variant) name() string {
	f := Features{
		CIFG: v.cifg, Peephole: v.peephole, LayerNorm: v.layerNorm,
		Projection: v.projection, CellClip: v.cellClip != 0, ProjectionClip: v.projClip != 0,
	}
	return f.String()
}

type fixture struct {
	inputSize, batch, numUnits, outputSize int

	ops    Operands
	params Params
}

func mkTensor(t *testing.T, dt tensor.DType, seed int64, dims ...int) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.New(tensor.NewDesc(dt, dims...))
	if err != nil {
		t.Fatalf("new tensor %v: %v", dims, err)
	}
	if seed != 0 {
		tensor.FillRand(tt, seed)
	}
	return tt
}

// newFixture builds a complete operand set for the given variant with
// reproducible contents. Without projection the output size equals the
// unit count; with projection they differ so the projection matmul is
// actually exercised.
func newFixture(t *testing.T, dt tensor.DType, v variant) *fixture {
	t.Helper()
	f := &fixture{inputSize: 3, batch: 2, numUnits: 4, outputSize: 4}
	if v.projection {
		f.outputSize = 3
	}
	seed := int64(1)
	next := func() int64 { seed++; return seed }

	gates := 4
	if v.cifg {
		gates = 3
	}

	f.ops = Operands{
		Input:                    mkTensor(t, dt, next(), f.inputSize, f.batch),
		InputToForgetWeights:     mkTensor(t, dt, next(), f.inputSize, f.numUnits),
		InputToCellWeights:       mkTensor(t, dt, next(), f.inputSize, f.numUnits),
		InputToOutputWeights:     mkTensor(t, dt, next(), f.inputSize, f.numUnits),
		RecurrentToForgetWeights: mkTensor(t, dt, next(), f.outputSize, f.numUnits),
		RecurrentToCellWeights:   mkTensor(t, dt, next(), f.outputSize, f.numUnits),
		RecurrentToOutputWeights: mkTensor(t, dt, next(), f.outputSize, f.numUnits),
		ForgetGateBias:           mkTensor(t, dt, next(), f.numUnits),
		CellBias:                 mkTensor(t, dt, next(), f.numUnits),
		OutputGateBias:           mkTensor(t, dt, next(), f.numUnits),
		OutputStateIn:            mkTensor(t, dt, next(), f.outputSize, f.batch),
		CellStateIn:              mkTensor(t, dt, next(), f.numUnits, f.batch),
		ScratchBuffer:            mkTensor(t, dt, 0, gates*f.numUnits, f.batch),
		OutputStateOut:           mkTensor(t, dt, 0, f.outputSize, f.batch),
		CellStateOut:             mkTensor(t, dt, 0, f.numUnits, f.batch),
		Output:                   mkTensor(t, dt, 0, f.outputSize, f.batch),
	}

	f.params = Params{
		Activation:     kernels.ActivationInfo{Fn: kernels.ActTanh},
		CellClip:       v.cellClip,
		ProjectionClip: v.projClip,
	}
	if !v.cifg {
		f.params.InputToInputWeights = mkTensor(t, dt, next(), f.inputSize, f.numUnits)
		f.params.RecurrentToInputWeights = mkTensor(t, dt, next(), f.outputSize, f.numUnits)
		f.params.InputGateBias = mkTensor(t, dt, next(), f.numUnits)
	}
	if v.peephole {
		f.params.CellToForgetWeights = mkTensor(t, dt, next(), f.numUnits)
		f.params.CellToOutputWeights = mkTensor(t, dt, next(), f.numUnits)
		if !v.cifg {
			f.params.CellToInputWeights = mkTensor(t, dt, next(), f.numUnits)
		}
	}
	if v.layerNorm {
		f.params.ForgetLayerNormWeights = mkTensor(t, dt, next(), f.numUnits)
		f.params.CellLayerNormWeights = mkTensor(t, dt, next(), f.numUnits)
		f.params.OutputLayerNormWeights = mkTensor(t, dt, next(), f.numUnits)
		if !v.cifg {
			f.params.InputLayerNormWeights = mkTensor(t, dt, next(), f.numUnits)
		}
	}
	if v.projection {
		f.params.ProjectionWeights = mkTensor(t, dt, next(), f.numUnits, f.outputSize)
		f.params.ProjectionBias = mkTensor(t, dt, next(), f.outputSize)
	}
	return f
}

// allDTypes covers every supported element type.
var allDTypes = []tensor.DType{tensor.F32, tensor.F16, tensor.BF16}

// allVariants is the coverage grid shared by the validator and layer
// tests.
var allVariants = []variant{
	{},
	{cifg: true},
	{peephole: true},
	{layerNorm: true},
	{projection: true},
	{cifg: true, peephole: true},
	{cifg: true, layerNorm: true},
	{peephole: true, layerNorm: true},
	{projection: true, peephole: true},
	{projection: true, layerNorm: true},
	{cifg: true, peephole: true, layerNorm: true},
	{peephole: true, layerNorm: true, projection: true},
	{cifg: true, peephole: true, layerNorm: true, projection: true},
	{cellClip: 1.5},
	{projection: true, projClip: 0.5},
	{cifg: true, cellClip: 2, projection: true, projClip: 1},
}
