package fused

import (
	"strings"

	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Operands is the required operand set of one LSTM time step. Input
// operands are borrowed from the caller for the duration of Configure
// and Run; output operands are written in place. The layer never frees
// either.
//
// Shapes (dimension 0 first): input [inputSize, batch]; input weights
// [inputSize, numUnits]; recurrent weights [outputSize, numUnits];
// biases [numUnits]; output state [outputSize, batch]; cell state
// [numUnits, batch]; scratch buffer [4*numUnits, batch] (3*numUnits
// under CIFG); output [outputSize, batch].
type Operands struct {
	Input                    *tensor.Tensor
	InputToForgetWeights     *tensor.Tensor
	InputToCellWeights       *tensor.Tensor
	InputToOutputWeights     *tensor.Tensor
	RecurrentToForgetWeights *tensor.Tensor
	RecurrentToCellWeights   *tensor.Tensor
	RecurrentToOutputWeights *tensor.Tensor
	ForgetGateBias           *tensor.Tensor
	CellBias                 *tensor.Tensor
	OutputGateBias           *tensor.Tensor
	OutputStateIn            *tensor.Tensor
	CellStateIn              *tensor.Tensor

	ScratchBuffer  *tensor.Tensor
	OutputStateOut *tensor.Tensor
	CellStateOut   *tensor.Tensor
	Output         *tensor.Tensor
}

// Params carries the optional operands and scalar knobs. Which optional
// paths are active is derived purely from which tensors are non-nil;
// there are no independent enable flags.
type Params struct {
	// Full gating (absent as a group under CIFG).
	InputToInputWeights     *tensor.Tensor
	RecurrentToInputWeights *tensor.Tensor
	InputGateBias           *tensor.Tensor

	// Peephole coefficients. CellToInputWeights is only meaningful
	// without CIFG and may be nil even when the others are present.
	CellToInputWeights  *tensor.Tensor
	CellToForgetWeights *tensor.Tensor
	CellToOutputWeights *tensor.Tensor

	// Output projection.
	ProjectionWeights *tensor.Tensor
	ProjectionBias    *tensor.Tensor

	// Per-gate layer normalization.
	InputLayerNormWeights  *tensor.Tensor
	ForgetLayerNormWeights *tensor.Tensor
	CellLayerNormWeights   *tensor.Tensor
	OutputLayerNormWeights *tensor.Tensor

	// Activation of the cell candidate and the cell output (tanh or
	// logistic).
	Activation kernels.ActivationInfo

	// Clipping thresholds. Zero means disabled.
	CellClip       float32
	ProjectionClip float32
}

// OperandDescs mirrors Operands with descriptors only, for allocation
// free validation.
type OperandDescs struct {
	Input                    *tensor.Desc
	InputToForgetWeights     *tensor.Desc
	InputToCellWeights       *tensor.Desc
	InputToOutputWeights     *tensor.Desc
	RecurrentToForgetWeights *tensor.Desc
	RecurrentToCellWeights   *tensor.Desc
	RecurrentToOutputWeights *tensor.Desc
	ForgetGateBias           *tensor.Desc
	CellBias                 *tensor.Desc
	OutputGateBias           *tensor.Desc
	OutputStateIn            *tensor.Desc
	CellStateIn              *tensor.Desc

	ScratchBuffer  *tensor.Desc
	OutputStateOut *tensor.Desc
	CellStateOut   *tensor.Desc
	Output         *tensor.Desc
}

// ParamDescs mirrors Params with descriptors only.
type ParamDescs struct {
	InputToInputWeights     *tensor.Desc
	RecurrentToInputWeights *tensor.Desc
	InputGateBias           *tensor.Desc

	CellToInputWeights  *tensor.Desc
	CellToForgetWeights *tensor.Desc
	CellToOutputWeights *tensor.Desc

	ProjectionWeights *tensor.Desc
	ProjectionBias    *tensor.Desc

	InputLayerNormWeights  *tensor.Desc
	ForgetLayerNormWeights *tensor.Desc
	CellLayerNormWeights   *tensor.Desc
	OutputLayerNormWeights *tensor.Desc

	Activation kernels.ActivationInfo

	CellClip       float32
	ProjectionClip float32
}

func descOf(t *tensor.Tensor) *tensor.Desc {
	if t == nil {
		return nil
	}
	d := t.Desc()
	return &d
}

// Descs extracts the descriptor view used by Validate.
func (o Operands) Descs() OperandDescs {
	return OperandDescs{
		Input:                    descOf(o.Input),
		InputToForgetWeights:     descOf(o.InputToForgetWeights),
		InputToCellWeights:       descOf(o.InputToCellWeights),
		InputToOutputWeights:     descOf(o.InputToOutputWeights),
		RecurrentToForgetWeights: descOf(o.RecurrentToForgetWeights),
		RecurrentToCellWeights:   descOf(o.RecurrentToCellWeights),
		RecurrentToOutputWeights: descOf(o.RecurrentToOutputWeights),
		ForgetGateBias:           descOf(o.ForgetGateBias),
		CellBias:                 descOf(o.CellBias),
		OutputGateBias:           descOf(o.OutputGateBias),
		OutputStateIn:            descOf(o.OutputStateIn),
		CellStateIn:              descOf(o.CellStateIn),
		ScratchBuffer:            descOf(o.ScratchBuffer),
		OutputStateOut:           descOf(o.OutputStateOut),
		CellStateOut:             descOf(o.CellStateOut),
		Output:                   descOf(o.Output),
	}
}

// Descs extracts the descriptor view used by Validate.
func (p Params) Descs() ParamDescs {
	return ParamDescs{
		InputToInputWeights:     descOf(p.InputToInputWeights),
		RecurrentToInputWeights: descOf(p.RecurrentToInputWeights),
		InputGateBias:           descOf(p.InputGateBias),
		CellToInputWeights:      descOf(p.CellToInputWeights),
		CellToForgetWeights:     descOf(p.CellToForgetWeights),
		CellToOutputWeights:     descOf(p.CellToOutputWeights),
		ProjectionWeights:       descOf(p.ProjectionWeights),
		ProjectionBias:          descOf(p.ProjectionBias),
		InputLayerNormWeights:   descOf(p.InputLayerNormWeights),
		ForgetLayerNormWeights:  descOf(p.ForgetLayerNormWeights),
		CellLayerNormWeights:    descOf(p.CellLayerNormWeights),
		OutputLayerNormWeights:  descOf(p.OutputLayerNormWeights),
		Activation:              p.Activation,
		CellClip:                p.CellClip,
		ProjectionClip:          p.ProjectionClip,
	}
}

// Features is the variant of a configured layer: which optional paths
// are active. It is derived once at configure time and never
// re-derived afterwards.
type Features struct {
	CIFG           bool
	Peephole       bool
	LayerNorm      bool
	Projection     bool
	CellClip       bool
	ProjectionClip bool
}

// Features derives the variant from optional-operand presence and the
// clip thresholds. Consistency of the groups is the validator's job;
// derivation assumes a validated parameter set.
func (p ParamDescs) Features() Features {
	return Features{
		CIFG:           p.InputToInputWeights == nil,
		Peephole:       p.CellToForgetWeights != nil,
		LayerNorm:      p.ForgetLayerNormWeights != nil,
		Projection:     p.ProjectionWeights != nil,
		CellClip:       p.CellClip != 0,
		ProjectionClip: p.ProjectionClip != 0,
	}
}

func (f Features) String() string {
	var parts []string
	if f.CIFG {
		parts = append(parts, "cifg")
	}
	if f.Peephole {
		parts = append(parts, "peephole")
	}
	if f.LayerNorm {
		parts = append(parts, "layer-norm")
	}
	if f.Projection {
		parts = append(parts, "projection")
	}
	if f.CellClip {
		parts = append(parts, "cell-clip")
	}
	if f.ProjectionClip {
		parts = append(parts, "projection-clip")
	}
	if len(parts) == 0 {
		return "standard"
	}
	return strings.Join(parts, "+")
}
