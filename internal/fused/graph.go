package fused

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Phase splits the kernel graph into the one-shot weight reshaping that
// runs at prepare time and the per-step compute that runs on every Run.
type Phase uint8

const (
	PhasePrepare Phase = iota
	PhaseRun
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseRun:
		return "run"
	default:
		return "unknown"
	}
}

// Node is one configured kernel in the graph. Slice order is execution
// order; there is no separate scheduler.
type Node struct {
	Kernel kernels.Kernel
	Label  string
	Phase  Phase
}

// NodeInfo is the serializable view of a node, for graph dumps.
type NodeInfo struct {
	Index  int    `json:"index"`
	Label  string `json:"label"`
	Kernel string `json:"kernel"`
	Phase  string `json:"phase"`
}

// ScratchInfo describes one pooled intermediate tensor.
type ScratchInfo struct {
	Role       string `json:"role"`
	Shape      string `json:"shape"`
	Bytes      int    `json:"bytes"`
	Persistent bool   `json:"persistent"`
}

// Info is the serializable description of a configured layer.
type Info struct {
	Features          string        `json:"features"`
	State             string        `json:"state"`
	Nodes             []NodeInfo    `json:"nodes"`
	Scratch           []ScratchInfo `json:"scratch"`
	PeakScratchBytes  int           `json:"peak_scratch_bytes"`
	TotalScratchBytes int           `json:"total_scratch_bytes"`
}

// builder accumulates nodes and scratch registrations during graph
// assembly. The first failure latches; later calls are no-ops, so the
// assembly code reads straight-line.
type builder struct {
	pool  *Pool
	dt    tensor.DType
	nodes []Node
	err   error
}

func (b *builder) scratch(role string, persistent bool, dims ...int) *tensor.Tensor {
	if b.err != nil {
		return nil
	}
	t, err := b.pool.Manage(role, tensor.NewDesc(b.dt, dims...), persistent)
	if err != nil {
		b.err = err
		return nil
	}
	return t
}

// node configures one kernel and appends it. uses lists every operand
// touched by the kernel so the pool can track live windows; non-pooled
// tensors in the list are ignored.
func (b *builder) node(phase Phase, label string, uses []*tensor.Tensor, configure func() (kernels.Kernel, error)) {
	if b.err != nil {
		return
	}
	k, err := configure()
	if err != nil {
		b.err = fmt.Errorf("node %s: %w", label, err)
		return
	}
	idx := len(b.nodes)
	for _, t := range uses {
		b.pool.NoteUse(t, idx)
	}
	b.nodes = append(b.nodes, Node{Kernel: k, Label: label, Phase: phase})
}

func (b *builder) fc(phase Phase, label string, in, weights, bias, out *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{in, weights, bias, out}, func() (kernels.Kernel, error) {
		k := kernels.NewFullyConnected()
		return k, k.Configure(in, weights, bias, out)
	})
}

func (b *builder) ew(phase Phase, label string, op kernels.BinaryOp, a, x, dst *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{a, x, dst}, func() (kernels.Kernel, error) {
		k := kernels.NewElementwise()
		return k, k.Configure(op, a, x, dst)
	})
}

func (b *builder) act(phase Phase, label string, src, dst *tensor.Tensor, info kernels.ActivationInfo) {
	b.node(phase, label, []*tensor.Tensor{src, dst}, func() (kernels.Kernel, error) {
		k := kernels.NewActivation()
		return k, k.Configure(src, dst, info)
	})
}

func (b *builder) norm(phase Phase, label string, t *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{t}, func() (kernels.Kernel, error) {
		k := kernels.NewMeanStdDevNorm()
		return k, k.Configure(t, t)
	})
}

func (b *builder) concat(phase Phase, label string, srcs []*tensor.Tensor, dst *tensor.Tensor) {
	b.node(phase, label, append(append([]*tensor.Tensor(nil), srcs...), dst), func() (kernels.Kernel, error) {
		k := kernels.NewWidthConcat()
		return k, k.Configure(srcs, dst)
	})
}

func (b *builder) transpose(phase Phase, label string, src, dst *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{src, dst}, func() (kernels.Kernel, error) {
		k := kernels.NewTranspose()
		return k, k.Configure(src, dst)
	})
}

func (b *builder) gemm(phase Phase, label string, a, x, out *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{a, x, out}, func() (kernels.Kernel, error) {
		k := kernels.NewGEMM()
		return k, k.Configure(a, x, out)
	})
}

func (b *builder) fill(phase Phase, label string, dst *tensor.Tensor, v float32) {
	b.node(phase, label, []*tensor.Tensor{dst}, func() (kernels.Kernel, error) {
		k := kernels.NewFill()
		return k, k.Configure(dst, v)
	})
}

func (b *builder) copyT(phase Phase, label string, src, dst *tensor.Tensor) {
	b.node(phase, label, []*tensor.Tensor{src, dst}, func() (kernels.Kernel, error) {
		k := kernels.NewCopy()
		return k, k.Configure(src, dst)
	})
}

// buildGraph assembles the kernel graph for a validated configuration.
// Gate matmuls run against weights concatenated at prepare time so each
// gate is a single fully-connected pass over [input, outputStateIn];
// the cell candidate keeps its two-matmul form because its recurrent
// half needs the transposed weight layout.
func buildGraph(pool *Pool, ops Operands, params Params, feats Features) ([]Node, error) {
	inputSize := ops.Input.Desc().Dim(0)
	batch := ops.Input.Desc().Dim(1)
	numUnits := ops.InputToForgetWeights.Desc().Dim(1)
	outputSize := ops.OutputStateIn.Desc().Dim(0)

	b := &builder{pool: pool, dt: ops.Input.DType()}
	logistic := kernels.ActivationInfo{Fn: kernels.ActLogistic}

	// Prepare phase: reshape weights once.
	wForget := b.scratch("weights-forget", true, inputSize+outputSize, numUnits)
	b.concat(PhasePrepare, "concat-forget-weights",
		[]*tensor.Tensor{ops.InputToForgetWeights, ops.RecurrentToForgetWeights}, wForget)

	var wInput *tensor.Tensor
	if !feats.CIFG {
		wInput = b.scratch("weights-input", true, inputSize+outputSize, numUnits)
		b.concat(PhasePrepare, "concat-input-weights",
			[]*tensor.Tensor{params.InputToInputWeights, params.RecurrentToInputWeights}, wInput)
	}

	wOutput := b.scratch("weights-output", true, inputSize+outputSize, numUnits)
	b.concat(PhasePrepare, "concat-output-weights",
		[]*tensor.Tensor{ops.InputToOutputWeights, ops.RecurrentToOutputWeights}, wOutput)

	cellWeightsT := b.scratch("cell-weights-transposed", true, numUnits, outputSize)
	b.transpose(PhasePrepare, "transpose-cell-weights", ops.RecurrentToCellWeights, cellWeightsT)

	var ones *tensor.Tensor
	if feats.CIFG {
		ones = b.scratch("ones", true, numUnits, batch)
		b.fill(PhasePrepare, "fill-ones", ones, 1)
	}

	// Run phase.
	combined := b.scratch("combined-input", false, inputSize+outputSize, batch)
	b.concat(PhaseRun, "concat-inputs", []*tensor.Tensor{ops.Input, ops.OutputStateIn}, combined)

	forgetGate := b.scratch("forget-gate", false, numUnits, batch)
	forgetBias := ops.ForgetGateBias
	if feats.LayerNorm {
		forgetBias = nil
	}
	b.fc(PhaseRun, "forget-gate-fc", combined, wForget, forgetBias, forgetGate)
	if feats.Peephole {
		peep := b.scratch("forget-peephole", false, numUnits, batch)
		b.ew(PhaseRun, "forget-peephole-mul", kernels.OpMul, ops.CellStateIn, params.CellToForgetWeights, peep)
		b.ew(PhaseRun, "forget-peephole-add", kernels.OpAdd, forgetGate, peep, forgetGate)
	}
	if feats.LayerNorm {
		b.norm(PhaseRun, "forget-norm", forgetGate)
		b.ew(PhaseRun, "forget-norm-scale", kernels.OpMul, forgetGate, params.ForgetLayerNormWeights, forgetGate)
		b.ew(PhaseRun, "forget-norm-bias", kernels.OpAdd, forgetGate, ops.ForgetGateBias, forgetGate)
	}
	b.act(PhaseRun, "forget-sigmoid", forgetGate, forgetGate, logistic)

	inputGate := b.scratch("input-gate", false, numUnits, batch)
	if feats.CIFG {
		// Coupled gate: inputGate = 1 - forgetGate.
		b.ew(PhaseRun, "input-gate-coupled", kernels.OpSub, ones, forgetGate, inputGate)
	} else {
		inputBias := params.InputGateBias
		if feats.LayerNorm {
			inputBias = nil
		}
		b.fc(PhaseRun, "input-gate-fc", combined, wInput, inputBias, inputGate)
		if params.CellToInputWeights != nil {
			peep := b.scratch("input-peephole", false, numUnits, batch)
			b.ew(PhaseRun, "input-peephole-mul", kernels.OpMul, ops.CellStateIn, params.CellToInputWeights, peep)
			b.ew(PhaseRun, "input-peephole-add", kernels.OpAdd, inputGate, peep, inputGate)
		}
		if feats.LayerNorm {
			b.norm(PhaseRun, "input-norm", inputGate)
			b.ew(PhaseRun, "input-norm-scale", kernels.OpMul, inputGate, params.InputLayerNormWeights, inputGate)
			b.ew(PhaseRun, "input-norm-bias", kernels.OpAdd, inputGate, params.InputGateBias, inputGate)
		}
		b.act(PhaseRun, "input-sigmoid", inputGate, inputGate, logistic)
	}

	cellCand := b.scratch("cell-candidate", false, numUnits, batch)
	cellBias := ops.CellBias
	if feats.LayerNorm {
		cellBias = nil
	}
	b.fc(PhaseRun, "cell-fc", ops.Input, ops.InputToCellWeights, cellBias, cellCand)
	cellRecurrent := b.scratch("cell-recurrent", false, numUnits, batch)
	b.gemm(PhaseRun, "cell-gemm", ops.OutputStateIn, cellWeightsT, cellRecurrent)
	b.ew(PhaseRun, "cell-add", kernels.OpAdd, cellCand, cellRecurrent, cellCand)
	if feats.LayerNorm {
		b.norm(PhaseRun, "cell-norm", cellCand)
		b.ew(PhaseRun, "cell-norm-scale", kernels.OpMul, cellCand, params.CellLayerNormWeights, cellCand)
		b.ew(PhaseRun, "cell-norm-bias", kernels.OpAdd, cellCand, ops.CellBias, cellCand)
	}
	b.act(PhaseRun, "cell-activation", cellCand, cellCand, params.Activation)

	// cellStateOut = cellCand*inputGate + cellStateIn*forgetGate.
	cellForget := b.scratch("cell-forget", false, numUnits, batch)
	b.ew(PhaseRun, "cell-input-mul", kernels.OpMul, cellCand, inputGate, ops.CellStateOut)
	b.ew(PhaseRun, "cell-forget-mul", kernels.OpMul, ops.CellStateIn, forgetGate, cellForget)
	b.ew(PhaseRun, "cell-state-add", kernels.OpAdd, ops.CellStateOut, cellForget, ops.CellStateOut)
	if feats.CellClip {
		clip := kernels.ActivationInfo{Fn: kernels.ActClip, A: params.CellClip, B: -params.CellClip}
		b.act(PhaseRun, "cell-clip", ops.CellStateOut, ops.CellStateOut, clip)
	}

	outputGate := b.scratch("output-gate", false, numUnits, batch)
	outputBias := ops.OutputGateBias
	if feats.LayerNorm {
		outputBias = nil
	}
	b.fc(PhaseRun, "output-gate-fc", combined, wOutput, outputBias, outputGate)
	if feats.Peephole {
		peep := b.scratch("output-peephole", false, numUnits, batch)
		b.ew(PhaseRun, "output-peephole-mul", kernels.OpMul, ops.CellStateOut, params.CellToOutputWeights, peep)
		b.ew(PhaseRun, "output-peephole-add", kernels.OpAdd, outputGate, peep, outputGate)
	}
	if feats.LayerNorm {
		b.norm(PhaseRun, "output-norm", outputGate)
		b.ew(PhaseRun, "output-norm-scale", kernels.OpMul, outputGate, params.OutputLayerNormWeights, outputGate)
		b.ew(PhaseRun, "output-norm-bias", kernels.OpAdd, outputGate, ops.OutputGateBias, outputGate)
	}
	b.act(PhaseRun, "output-sigmoid", outputGate, outputGate, logistic)

	cellAct := b.scratch("cell-state-activation", false, numUnits, batch)
	b.act(PhaseRun, "cell-state-activation", ops.CellStateOut, cellAct, params.Activation)

	if feats.Projection {
		hidden := b.scratch("hidden", false, numUnits, batch)
		b.ew(PhaseRun, "hidden-mul", kernels.OpMul, outputGate, cellAct, hidden)
		b.fc(PhaseRun, "projection-fc", hidden, params.ProjectionWeights, params.ProjectionBias, ops.OutputStateOut)
		if feats.ProjectionClip {
			clip := kernels.ActivationInfo{Fn: kernels.ActClip, A: params.ProjectionClip, B: -params.ProjectionClip}
			b.act(PhaseRun, "projection-clip", ops.OutputStateOut, ops.OutputStateOut, clip)
		}
	} else {
		b.ew(PhaseRun, "hidden-mul", kernels.OpMul, outputGate, cellAct, ops.OutputStateOut)
	}

	b.copyT(PhaseRun, "copy-output", ops.OutputStateOut, ops.Output)

	gates := []*tensor.Tensor{cellCand, forgetGate, outputGate}
	if !feats.CIFG {
		gates = append([]*tensor.Tensor{inputGate}, gates...)
	}
	b.concat(PhaseRun, "concat-scratch", gates, ops.ScratchBuffer)

	if b.err != nil {
		return nil, b.err
	}
	return b.nodes, nil
}
