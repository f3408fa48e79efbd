package api

import (
	"fmt"

	"github.com/fusegraph/fusegraph/internal/fused"
	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// TensorDesc is the wire form of a tensor descriptor. Layout defaults
// to row-major when omitted.
type TensorDesc struct {
	Shape  []int  `json:"shape"`
	DType  string `json:"dtype"`
	Layout string `json:"layout,omitempty"`
}

// StepConfig is the wire form of one LSTM step configuration: the
// required operands, the optional parameter tensors, and the scalar
// knobs. Absent optional tensors select the corresponding variant, the
// same way nil params do in the fused package.
type StepConfig struct {
	Input                    *TensorDesc `json:"input"`
	InputToForgetWeights     *TensorDesc `json:"input_to_forget_weights"`
	InputToCellWeights       *TensorDesc `json:"input_to_cell_weights"`
	InputToOutputWeights     *TensorDesc `json:"input_to_output_weights"`
	RecurrentToForgetWeights *TensorDesc `json:"recurrent_to_forget_weights"`
	RecurrentToCellWeights   *TensorDesc `json:"recurrent_to_cell_weights"`
	RecurrentToOutputWeights *TensorDesc `json:"recurrent_to_output_weights"`
	ForgetGateBias           *TensorDesc `json:"forget_gate_bias"`
	CellBias                 *TensorDesc `json:"cell_bias"`
	OutputGateBias           *TensorDesc `json:"output_gate_bias"`
	OutputStateIn            *TensorDesc `json:"output_state_in"`
	CellStateIn              *TensorDesc `json:"cell_state_in"`
	ScratchBuffer            *TensorDesc `json:"scratch_buffer"`
	OutputStateOut           *TensorDesc `json:"output_state_out"`
	CellStateOut             *TensorDesc `json:"cell_state_out"`
	Output                   *TensorDesc `json:"output"`

	InputToInputWeights     *TensorDesc `json:"input_to_input_weights,omitempty"`
	RecurrentToInputWeights *TensorDesc `json:"recurrent_to_input_weights,omitempty"`
	InputGateBias           *TensorDesc `json:"input_gate_bias,omitempty"`
	CellToInputWeights      *TensorDesc `json:"cell_to_input_weights,omitempty"`
	CellToForgetWeights     *TensorDesc `json:"cell_to_forget_weights,omitempty"`
	CellToOutputWeights     *TensorDesc `json:"cell_to_output_weights,omitempty"`
	ProjectionWeights       *TensorDesc `json:"projection_weights,omitempty"`
	ProjectionBias          *TensorDesc `json:"projection_bias,omitempty"`
	InputLayerNormWeights   *TensorDesc `json:"input_layer_norm_weights,omitempty"`
	ForgetLayerNormWeights  *TensorDesc `json:"forget_layer_norm_weights,omitempty"`
	CellLayerNormWeights    *TensorDesc `json:"cell_layer_norm_weights,omitempty"`
	OutputLayerNormWeights  *TensorDesc `json:"output_layer_norm_weights,omitempty"`

	Activation     string  `json:"activation"`
	CellClip       float32 `json:"cell_clip,omitempty"`
	ProjectionClip float32 `json:"projection_clip,omitempty"`
}

// ValidateResponse reports the validator's verdict for one StepConfig.
type ValidateResponse struct {
	RequestID string `json:"request_id"`
	Valid     bool   `json:"valid"`
	Features  string `json:"features,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GraphResponse carries the assembled graph description.
type GraphResponse struct {
	RequestID string `json:"request_id"`
	fused.Info
}

// ResponseError is the error envelope of every failed request.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (d *TensorDesc) toDesc(name string) (*tensor.Desc, error) {
	if d == nil {
		return nil, nil
	}
	dt, ok := tensor.ParseDType(d.DType)
	if !ok {
		return nil, fmt.Errorf("%s: unknown dtype %q", name, d.DType)
	}
	desc := tensor.NewDesc(dt, d.Shape...)
	switch d.Layout {
	case "", tensor.RowMajor.String():
	case tensor.ColMajor.String():
		desc.Layout = tensor.ColMajor
	default:
		return nil, fmt.Errorf("%s: unknown layout %q", name, d.Layout)
	}
	return &desc, nil
}

func parseActivation(s string) (kernels.ActivationInfo, error) {
	switch s {
	case "":
		return kernels.ActivationInfo{}, nil
	case "tanh":
		return kernels.ActivationInfo{Fn: kernels.ActTanh}, nil
	case "logistic", "sigmoid":
		return kernels.ActivationInfo{Fn: kernels.ActLogistic}, nil
	default:
		return kernels.ActivationInfo{}, fmt.Errorf("unknown activation %q", s)
	}
}

// toDescs converts the wire config to the fused package's descriptor
// view. It fails only on malformed fields; semantic validation is the
// fused validator's job.
func (sc *StepConfig) toDescs() (fused.OperandDescs, fused.ParamDescs, error) {
	var (
		ops    fused.OperandDescs
		params fused.ParamDescs
		err    error
	)
	conv := func(dst **tensor.Desc, src *TensorDesc, name string) {
		if err != nil {
			return
		}
		*dst, err = src.toDesc(name)
	}
	conv(&ops.Input, sc.Input, "input")
	conv(&ops.InputToForgetWeights, sc.InputToForgetWeights, "input_to_forget_weights")
	conv(&ops.InputToCellWeights, sc.InputToCellWeights, "input_to_cell_weights")
	conv(&ops.InputToOutputWeights, sc.InputToOutputWeights, "input_to_output_weights")
	conv(&ops.RecurrentToForgetWeights, sc.RecurrentToForgetWeights, "recurrent_to_forget_weights")
	conv(&ops.RecurrentToCellWeights, sc.RecurrentToCellWeights, "recurrent_to_cell_weights")
	conv(&ops.RecurrentToOutputWeights, sc.RecurrentToOutputWeights, "recurrent_to_output_weights")
	conv(&ops.ForgetGateBias, sc.ForgetGateBias, "forget_gate_bias")
	conv(&ops.CellBias, sc.CellBias, "cell_bias")
	conv(&ops.OutputGateBias, sc.OutputGateBias, "output_gate_bias")
	conv(&ops.OutputStateIn, sc.OutputStateIn, "output_state_in")
	conv(&ops.CellStateIn, sc.CellStateIn, "cell_state_in")
	conv(&ops.ScratchBuffer, sc.ScratchBuffer, "scratch_buffer")
	conv(&ops.OutputStateOut, sc.OutputStateOut, "output_state_out")
	conv(&ops.CellStateOut, sc.CellStateOut, "cell_state_out")
	conv(&ops.Output, sc.Output, "output")

	conv(&params.InputToInputWeights, sc.InputToInputWeights, "input_to_input_weights")
	conv(&params.RecurrentToInputWeights, sc.RecurrentToInputWeights, "recurrent_to_input_weights")
	conv(&params.InputGateBias, sc.InputGateBias, "input_gate_bias")
	conv(&params.CellToInputWeights, sc.CellToInputWeights, "cell_to_input_weights")
	conv(&params.CellToForgetWeights, sc.CellToForgetWeights, "cell_to_forget_weights")
	conv(&params.CellToOutputWeights, sc.CellToOutputWeights, "cell_to_output_weights")
	conv(&params.ProjectionWeights, sc.ProjectionWeights, "projection_weights")
	conv(&params.ProjectionBias, sc.ProjectionBias, "projection_bias")
	conv(&params.InputLayerNormWeights, sc.InputLayerNormWeights, "input_layer_norm_weights")
	conv(&params.ForgetLayerNormWeights, sc.ForgetLayerNormWeights, "forget_layer_norm_weights")
	conv(&params.CellLayerNormWeights, sc.CellLayerNormWeights, "cell_layer_norm_weights")
	conv(&params.OutputLayerNormWeights, sc.OutputLayerNormWeights, "output_layer_norm_weights")
	if err != nil {
		return ops, params, err
	}

	params.Activation, err = parseActivation(sc.Activation)
	if err != nil {
		return ops, params, err
	}
	params.CellClip = sc.CellClip
	params.ProjectionClip = sc.ProjectionClip
	return ops, params, nil
}

// toTensors materializes the config as unbound tensors, enough for
// graph assembly without allocating any element storage.
func (sc *StepConfig) toTensors() (fused.Operands, fused.Params, error) {
	opDescs, paramDescs, err := sc.toDescs()
	if err != nil {
		return fused.Operands{}, fused.Params{}, err
	}
	unbound := func(d *tensor.Desc) *tensor.Tensor {
		if err != nil || d == nil {
			return nil
		}
		var t *tensor.Tensor
		t, err = tensor.NewUnbound(*d)
		return t
	}
	ops := fused.Operands{
		Input:                    unbound(opDescs.Input),
		InputToForgetWeights:     unbound(opDescs.InputToForgetWeights),
		InputToCellWeights:       unbound(opDescs.InputToCellWeights),
		InputToOutputWeights:     unbound(opDescs.InputToOutputWeights),
		RecurrentToForgetWeights: unbound(opDescs.RecurrentToForgetWeights),
		RecurrentToCellWeights:   unbound(opDescs.RecurrentToCellWeights),
		RecurrentToOutputWeights: unbound(opDescs.RecurrentToOutputWeights),
		ForgetGateBias:           unbound(opDescs.ForgetGateBias),
		CellBias:                 unbound(opDescs.CellBias),
		OutputGateBias:           unbound(opDescs.OutputGateBias),
		OutputStateIn:            unbound(opDescs.OutputStateIn),
		CellStateIn:              unbound(opDescs.CellStateIn),
		ScratchBuffer:            unbound(opDescs.ScratchBuffer),
		OutputStateOut:           unbound(opDescs.OutputStateOut),
		CellStateOut:             unbound(opDescs.CellStateOut),
		Output:                   unbound(opDescs.Output),
	}
	params := fused.Params{
		InputToInputWeights:     unbound(paramDescs.InputToInputWeights),
		RecurrentToInputWeights: unbound(paramDescs.RecurrentToInputWeights),
		InputGateBias:           unbound(paramDescs.InputGateBias),
		CellToInputWeights:      unbound(paramDescs.CellToInputWeights),
		CellToForgetWeights:     unbound(paramDescs.CellToForgetWeights),
		CellToOutputWeights:     unbound(paramDescs.CellToOutputWeights),
		ProjectionWeights:       unbound(paramDescs.ProjectionWeights),
		ProjectionBias:          unbound(paramDescs.ProjectionBias),
		InputLayerNormWeights:   unbound(paramDescs.InputLayerNormWeights),
		ForgetLayerNormWeights:  unbound(paramDescs.ForgetLayerNormWeights),
		CellLayerNormWeights:    unbound(paramDescs.CellLayerNormWeights),
		OutputLayerNormWeights:  unbound(paramDescs.OutputLayerNormWeights),
		Activation:              paramDescs.Activation,
		CellClip:                paramDescs.CellClip,
		ProjectionClip:          paramDescs.ProjectionClip,
	}
	return ops, params, err
}
