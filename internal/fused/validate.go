package fused

import (
	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// Validate performs the full pre-flight check of an LSTM step
// configuration without allocating anything. Configure runs exactly
// this function before it builds the kernel graph, so the two reach the
// same verdict for the same inputs by construction.
//
// Checks run in order: required-operand presence, optional-group
// consistency, shape compatibility, layout and dtype uniformity.
func Validate(ops OperandDescs, params ParamDescs) error {
	if err := checkPresence(ops, params); err != nil {
		return err
	}
	if err := checkGroups(params); err != nil {
		return err
	}
	feats := params.Features()
	if err := checkShapes(ops, params, feats); err != nil {
		return err
	}
	return checkUniformity(ops, params)
}

func checkPresence(ops OperandDescs, params ParamDescs) error {
	required := []struct {
		name string
		d    *tensor.Desc
	}{
		{"input", ops.Input},
		{"input-to-forget-weights", ops.InputToForgetWeights},
		{"input-to-cell-weights", ops.InputToCellWeights},
		{"input-to-output-weights", ops.InputToOutputWeights},
		{"recurrent-to-forget-weights", ops.RecurrentToForgetWeights},
		{"recurrent-to-cell-weights", ops.RecurrentToCellWeights},
		{"recurrent-to-output-weights", ops.RecurrentToOutputWeights},
		{"forget-gate-bias", ops.ForgetGateBias},
		{"cell-bias", ops.CellBias},
		{"output-gate-bias", ops.OutputGateBias},
		{"output-state-in", ops.OutputStateIn},
		{"cell-state-in", ops.CellStateIn},
		{"scratch-buffer", ops.ScratchBuffer},
		{"output-state-out", ops.OutputStateOut},
		{"cell-state-out", ops.CellStateOut},
		{"output", ops.Output},
	}
	for _, r := range required {
		if r.d == nil {
			return configErrorf(ReasonMissingOperand, "required operand %s is absent", r.name)
		}
	}
	// Projection bias is required whenever projection weights are
	// supplied; a dangling weight tensor reads as an incomplete
	// configuration rather than an intentional variant.
	if params.ProjectionWeights != nil && params.ProjectionBias == nil {
		return configErrorf(ReasonMissingOperand, "projection weights supplied without projection bias")
	}
	return nil
}

func checkGroups(params ParamDescs) error {
	gatePresent := []bool{
		params.InputToInputWeights != nil,
		params.RecurrentToInputWeights != nil,
		params.InputGateBias != nil,
	}
	if gatePresent[0] != gatePresent[1] || gatePresent[0] != gatePresent[2] {
		return configErrorf(ReasonInconsistentOperands,
			"input gate operands must be supplied together or omitted together (CIFG)")
	}
	cifg := !gatePresent[0]

	peepForget := params.CellToForgetWeights != nil
	peepOutput := params.CellToOutputWeights != nil
	if peepForget != peepOutput {
		return configErrorf(ReasonInconsistentOperands,
			"peephole weights must include both cell-to-forget and cell-to-output")
	}
	if params.CellToInputWeights != nil {
		if !peepForget {
			return configErrorf(ReasonInconsistentOperands,
				"cell-to-input weights supplied without the peephole group")
		}
		if cifg {
			return configErrorf(ReasonInconsistentOperands,
				"cell-to-input weights are meaningless under CIFG")
		}
	}

	lnPresent := []bool{
		params.ForgetLayerNormWeights != nil,
		params.CellLayerNormWeights != nil,
		params.OutputLayerNormWeights != nil,
	}
	if lnPresent[0] != lnPresent[1] || lnPresent[0] != lnPresent[2] {
		return configErrorf(ReasonInconsistentOperands,
			"layer norm weights must cover forget, cell and output gates together")
	}
	layerNorm := lnPresent[0]
	if layerNorm && !cifg && params.InputLayerNormWeights == nil {
		return configErrorf(ReasonInconsistentOperands,
			"layer norm without CIFG requires input layer norm weights")
	}
	if params.InputLayerNormWeights != nil && (!layerNorm || cifg) {
		return configErrorf(ReasonInconsistentOperands,
			"input layer norm weights supplied outside a non-CIFG layer norm configuration")
	}

	if params.ProjectionBias != nil && params.ProjectionWeights == nil {
		return configErrorf(ReasonInconsistentOperands,
			"projection bias supplied without projection weights")
	}
	if params.CellClip < 0 {
		return configErrorf(ReasonInconsistentOperands, "cell clip threshold is negative")
	}
	if params.ProjectionClip < 0 {
		return configErrorf(ReasonInconsistentOperands, "projection clip threshold is negative")
	}
	if params.ProjectionClip != 0 && params.ProjectionWeights == nil {
		return configErrorf(ReasonInconsistentOperands,
			"projection clip requested without projection weights")
	}

	switch params.Activation.Fn {
	case kernels.ActTanh, kernels.ActLogistic:
	case kernels.ActNone:
		return configErrorf(ReasonInconsistentOperands, "cell activation is not set")
	default:
		return configErrorf(ReasonInconsistentOperands,
			"cell activation %s is not supported", params.Activation.Fn)
	}
	return nil
}

func checkShapes(ops OperandDescs, params ParamDescs, feats Features) error {
	inputSize := ops.Input.Dim(0)
	batch := ops.Input.Dim(1)
	numUnits := ops.InputToForgetWeights.Dim(1)
	outputSize := ops.OutputStateIn.Dim(0)

	if ops.Input.Dims() != 2 {
		return configErrorf(ReasonShapeMismatch, "input must be 2D, have %s", *ops.Input)
	}

	type shaped struct {
		name string
		d    *tensor.Desc
		want []int
	}
	checks := []shaped{
		{"input-to-forget-weights", ops.InputToForgetWeights, []int{inputSize, numUnits}},
		{"input-to-cell-weights", ops.InputToCellWeights, []int{inputSize, numUnits}},
		{"input-to-output-weights", ops.InputToOutputWeights, []int{inputSize, numUnits}},
		{"recurrent-to-forget-weights", ops.RecurrentToForgetWeights, []int{outputSize, numUnits}},
		{"recurrent-to-cell-weights", ops.RecurrentToCellWeights, []int{outputSize, numUnits}},
		{"recurrent-to-output-weights", ops.RecurrentToOutputWeights, []int{outputSize, numUnits}},
		{"forget-gate-bias", ops.ForgetGateBias, []int{numUnits}},
		{"cell-bias", ops.CellBias, []int{numUnits}},
		{"output-gate-bias", ops.OutputGateBias, []int{numUnits}},
		{"output-state-in", ops.OutputStateIn, []int{outputSize, batch}},
		{"cell-state-in", ops.CellStateIn, []int{numUnits, batch}},
		{"output-state-out", ops.OutputStateOut, []int{outputSize, batch}},
		{"cell-state-out", ops.CellStateOut, []int{numUnits, batch}},
		{"output", ops.Output, []int{outputSize, batch}},
	}

	scratchGates := 4
	if feats.CIFG {
		scratchGates = 3
	}
	checks = append(checks, shaped{"scratch-buffer", ops.ScratchBuffer, []int{scratchGates * numUnits, batch}})

	if !feats.CIFG {
		checks = append(checks,
			shaped{"input-to-input-weights", params.InputToInputWeights, []int{inputSize, numUnits}},
			shaped{"recurrent-to-input-weights", params.RecurrentToInputWeights, []int{outputSize, numUnits}},
			shaped{"input-gate-bias", params.InputGateBias, []int{numUnits}},
		)
	}
	if feats.Peephole {
		checks = append(checks,
			shaped{"cell-to-forget-weights", params.CellToForgetWeights, []int{numUnits}},
			shaped{"cell-to-output-weights", params.CellToOutputWeights, []int{numUnits}},
		)
		if params.CellToInputWeights != nil {
			checks = append(checks, shaped{"cell-to-input-weights", params.CellToInputWeights, []int{numUnits}})
		}
	}
	if feats.LayerNorm {
		checks = append(checks,
			shaped{"forget-layer-norm-weights", params.ForgetLayerNormWeights, []int{numUnits}},
			shaped{"cell-layer-norm-weights", params.CellLayerNormWeights, []int{numUnits}},
			shaped{"output-layer-norm-weights", params.OutputLayerNormWeights, []int{numUnits}},
		)
		if !feats.CIFG {
			checks = append(checks, shaped{"input-layer-norm-weights", params.InputLayerNormWeights, []int{numUnits}})
		}
	}
	if feats.Projection {
		checks = append(checks,
			shaped{"projection-weights", params.ProjectionWeights, []int{numUnits, outputSize}},
			shaped{"projection-bias", params.ProjectionBias, []int{outputSize}},
		)
	} else if outputSize != numUnits {
		return configErrorf(ReasonShapeMismatch,
			"without projection the output size %d must equal the %d cell units", outputSize, numUnits)
	}

	for _, c := range checks {
		if err := c.d.Check(); err != nil {
			return configErrorf(ReasonShapeMismatch, "%s: %v", c.name, err)
		}
		if c.d.Dims() != len(c.want) {
			return configErrorf(ReasonShapeMismatch,
				"%s has %d dimensions, want %d", c.name, c.d.Dims(), len(c.want))
		}
		for i, want := range c.want {
			if c.d.Dim(i) != want {
				return configErrorf(ReasonShapeMismatch,
					"%s shape %s, want dimension %d to be %d", c.name, *c.d, i, want)
			}
		}
	}
	return nil
}

func checkUniformity(ops OperandDescs, params ParamDescs) error {
	dt := ops.Input.DType
	all := []struct {
		name string
		d    *tensor.Desc
	}{
		{"input", ops.Input},
		{"input-to-forget-weights", ops.InputToForgetWeights},
		{"input-to-cell-weights", ops.InputToCellWeights},
		{"input-to-output-weights", ops.InputToOutputWeights},
		{"recurrent-to-forget-weights", ops.RecurrentToForgetWeights},
		{"recurrent-to-cell-weights", ops.RecurrentToCellWeights},
		{"recurrent-to-output-weights", ops.RecurrentToOutputWeights},
		{"forget-gate-bias", ops.ForgetGateBias},
		{"cell-bias", ops.CellBias},
		{"output-gate-bias", ops.OutputGateBias},
		{"output-state-in", ops.OutputStateIn},
		{"cell-state-in", ops.CellStateIn},
		{"scratch-buffer", ops.ScratchBuffer},
		{"output-state-out", ops.OutputStateOut},
		{"cell-state-out", ops.CellStateOut},
		{"output", ops.Output},
		{"input-to-input-weights", params.InputToInputWeights},
		{"recurrent-to-input-weights", params.RecurrentToInputWeights},
		{"input-gate-bias", params.InputGateBias},
		{"cell-to-input-weights", params.CellToInputWeights},
		{"cell-to-forget-weights", params.CellToForgetWeights},
		{"cell-to-output-weights", params.CellToOutputWeights},
		{"projection-weights", params.ProjectionWeights},
		{"projection-bias", params.ProjectionBias},
		{"input-layer-norm-weights", params.InputLayerNormWeights},
		{"forget-layer-norm-weights", params.ForgetLayerNormWeights},
		{"cell-layer-norm-weights", params.CellLayerNormWeights},
		{"output-layer-norm-weights", params.OutputLayerNormWeights},
	}
	if dt.ElemSize() == 0 {
		return configErrorf(ReasonDTypeMismatch, "input has invalid dtype")
	}
	for _, c := range all {
		if c.d == nil {
			continue
		}
		if c.d.Layout != tensor.RowMajor {
			return configErrorf(ReasonLayoutMismatch, "%s is %s, only row-major is supported", c.name, c.d.Layout)
		}
		if c.d.DType != dt {
			return configErrorf(ReasonDTypeMismatch, "%s is %s while input is %s", c.name, c.d.DType, dt)
		}
	}
	return nil
}
