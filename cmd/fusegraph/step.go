package main

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/fused"
	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// stepShape is the size and variant selection assembled from the step
// flags, after config-file defaults have been applied.
type stepShape struct {
	inputSize  int
	batch      int
	numUnits   int
	outputSize int

	cifg       bool
	peephole   bool
	layerNorm  bool
	projection bool

	activation kernels.ActivationFunc
	cellClip   float32
	projClip   float32
}

func shapeFromFlags() (stepShape, error) {
	s := stepShape{
		inputSize:  int(inputSize),
		batch:      int(batch),
		numUnits:   int(numUnits),
		outputSize: int(outputSize),
		cifg:       cifg,
		peephole:   peephole,
		layerNorm:  layerNorm,
		projection: projection,
		cellClip:   float32(cellClip),
		projClip:   float32(projClip),
	}
	if s.inputSize <= 0 || s.batch <= 0 || s.numUnits <= 0 {
		return s, fmt.Errorf("input-size, batch and num-units must be positive")
	}
	if s.outputSize == 0 {
		s.outputSize = s.numUnits
	}
	if !s.projection && s.outputSize != s.numUnits {
		return s, fmt.Errorf("output-size %d differs from num-units %d; that needs --projection", s.outputSize, s.numUnits)
	}
	switch activation {
	case "tanh":
		s.activation = kernels.ActTanh
	case "logistic", "sigmoid":
		s.activation = kernels.ActLogistic
	default:
		return s, fmt.Errorf("unknown activation %q", activation)
	}
	return s, nil
}

func (s stepShape) gates() int {
	if s.cifg {
		return 3
	}
	return 4
}

// buildStep allocates the operand and parameter tensors for one step of
// the given shape. Weights and input are filled with reproducible
// pseudo-random values, states start at zero. A nil allocator produces
// unbound tensors, good for graph assembly without touching memory.
func buildStep(alloc tensor.Allocator, dt tensor.DType, s stepShape) (fused.Operands, fused.Params, error) {
	var firstErr error
	seed := int64(0)
	mk := func(randomize bool, dims ...int) *tensor.Tensor {
		if firstErr != nil {
			return nil
		}
		desc := tensor.NewDesc(dt, dims...)
		var t *tensor.Tensor
		var err error
		if alloc == nil {
			t, err = tensor.NewUnbound(desc)
		} else {
			t, err = tensor.NewWith(alloc, desc)
		}
		if err != nil {
			firstErr = err
			return nil
		}
		if randomize && t.Bound() {
			seed++
			tensor.FillRand(t, seed)
		}
		return t
	}

	ops := fused.Operands{
		Input:                    mk(true, s.inputSize, s.batch),
		InputToForgetWeights:     mk(true, s.inputSize, s.numUnits),
		InputToCellWeights:       mk(true, s.inputSize, s.numUnits),
		InputToOutputWeights:     mk(true, s.inputSize, s.numUnits),
		RecurrentToForgetWeights: mk(true, s.outputSize, s.numUnits),
		RecurrentToCellWeights:   mk(true, s.outputSize, s.numUnits),
		RecurrentToOutputWeights: mk(true, s.outputSize, s.numUnits),
		ForgetGateBias:           mk(true, s.numUnits),
		CellBias:                 mk(true, s.numUnits),
		OutputGateBias:           mk(true, s.numUnits),
		OutputStateIn:            mk(false, s.outputSize, s.batch),
		CellStateIn:              mk(false, s.numUnits, s.batch),
		ScratchBuffer:            mk(false, s.gates()*s.numUnits, s.batch),
		OutputStateOut:           mk(false, s.outputSize, s.batch),
		CellStateOut:             mk(false, s.numUnits, s.batch),
		Output:                   mk(false, s.outputSize, s.batch),
	}

	params := fused.Params{
		Activation:     kernels.ActivationInfo{Fn: s.activation},
		CellClip:       s.cellClip,
		ProjectionClip: s.projClip,
	}
	if !s.cifg {
		params.InputToInputWeights = mk(true, s.inputSize, s.numUnits)
		params.RecurrentToInputWeights = mk(true, s.outputSize, s.numUnits)
		params.InputGateBias = mk(true, s.numUnits)
	}
	if s.peephole {
		if !s.cifg {
			params.CellToInputWeights = mk(true, s.numUnits)
		}
		params.CellToForgetWeights = mk(true, s.numUnits)
		params.CellToOutputWeights = mk(true, s.numUnits)
	}
	if s.layerNorm {
		if !s.cifg {
			params.InputLayerNormWeights = mk(true, s.numUnits)
		}
		params.ForgetLayerNormWeights = mk(true, s.numUnits)
		params.CellLayerNormWeights = mk(true, s.numUnits)
		params.OutputLayerNormWeights = mk(true, s.numUnits)
	}

	return ops, params, firstErr
}

// rotateState copies the step outputs back into the state inputs so the
// next Run continues the sequence.
func rotateState(ops fused.Operands) {
	out := make([]float32, ops.OutputStateOut.NumElements())
	ops.OutputStateOut.ReadF32(out)
	ops.OutputStateIn.WriteF32(out)

	cell := make([]float32, ops.CellStateOut.NumElements())
	ops.CellStateOut.ReadF32(cell)
	ops.CellStateIn.WriteF32(cell)
}

func stepAllocator() tensor.Allocator {
	if useMmap {
		return tensor.MmapAllocator()
	}
	return tensor.HeapAllocator()
}

func stepDType() (tensor.DType, error) {
	dt, ok := tensor.ParseDType(dtypeName)
	if !ok {
		return 0, fmt.Errorf("unknown dtype %q", dtypeName)
	}
	return dt, nil
}
