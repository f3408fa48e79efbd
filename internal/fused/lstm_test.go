package fused

import (
	"errors"
	"math"
	"testing"

	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/kernels"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

func runStep(t *testing.T, layer *LSTMLayer) {
	t.Helper()
	q := device.NewQueue(0)
	defer q.Close()
	if err := layer.Run(q); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestRunBeforeConfigure(t *testing.T) {
	layer := NewLSTMLayer(nil, nil)
	q := device.NewQueue(0)
	defer q.Close()

	err := layer.Run(q)
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("Run on fresh layer returned %v, want StateError", err)
	}
	if se.Op != "run" || se.State != StateUnconfigured {
		t.Fatalf("StateError = %+v", se)
	}

	if err := layer.Prepare(q); !errors.As(err, &se) {
		t.Fatalf("Prepare on fresh layer returned %v, want StateError", err)
	}
}

// TestMinimalStep runs the plainest configuration: full gating, no
// peephole, no layer norm, no projection, no clipping, batch 1, input
// size 3, four units.
func TestMinimalStep(t *testing.T) {
	const (
		inputSize = 3
		batch     = 1
		numUnits  = 4
	)
	dt := tensor.F32
	ops := Operands{
		Input:                    mkTensor(t, dt, 11, inputSize, batch),
		InputToForgetWeights:     mkTensor(t, dt, 12, inputSize, numUnits),
		InputToCellWeights:       mkTensor(t, dt, 13, inputSize, numUnits),
		InputToOutputWeights:     mkTensor(t, dt, 14, inputSize, numUnits),
		RecurrentToForgetWeights: mkTensor(t, dt, 15, numUnits, numUnits),
		RecurrentToCellWeights:   mkTensor(t, dt, 16, numUnits, numUnits),
		RecurrentToOutputWeights: mkTensor(t, dt, 17, numUnits, numUnits),
		ForgetGateBias:           mkTensor(t, dt, 18, numUnits),
		CellBias:                 mkTensor(t, dt, 19, numUnits),
		OutputGateBias:           mkTensor(t, dt, 20, numUnits),
		OutputStateIn:            mkTensor(t, dt, 21, numUnits, batch),
		CellStateIn:              mkTensor(t, dt, 22, numUnits, batch),
		ScratchBuffer:            mkTensor(t, dt, 0, 4*numUnits, batch),
		OutputStateOut:           mkTensor(t, dt, 0, numUnits, batch),
		CellStateOut:             mkTensor(t, dt, 0, numUnits, batch),
		Output:                   mkTensor(t, dt, 0, numUnits, batch),
	}
	params := Params{
		InputToInputWeights:     mkTensor(t, dt, 23, inputSize, numUnits),
		RecurrentToInputWeights: mkTensor(t, dt, 24, numUnits, numUnits),
		InputGateBias:           mkTensor(t, dt, 25, numUnits),
		Activation:              kernels.ActivationInfo{Fn: kernels.ActTanh},
	}

	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(ops, params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := layer.Features(); got != (Features{}) {
		t.Fatalf("minimal config derived features %s", got)
	}
	runStep(t, layer)

	// Inactive variants leave no scratch tensors behind.
	for _, role := range []string{"forget-peephole", "input-peephole", "output-peephole", "hidden", "ones"} {
		if _, ok := layer.Pool().Lookup(role); ok {
			t.Fatalf("minimal graph allocated scratch role %q", role)
		}
	}

	if got := ops.Output.Desc().Dims(); got != 2 {
		t.Fatalf("output dims = %d", got)
	}
	if w, h := ops.Output.Desc().Dim(0), ops.Output.Desc().Dim(1); w != numUnits || h != batch {
		t.Fatalf("output shape [%d,%d], want [%d,%d]", w, h, numUnits, batch)
	}
	out := ops.Output.F32s()
	state := ops.OutputStateOut.F32s()
	for i := range out {
		if out[i] != state[i] {
			t.Fatalf("output[%d] = %v differs from output state %v", i, out[i], state[i])
		}
		if out[i] < -1 || out[i] > 1 || math.IsNaN(float64(out[i])) {
			t.Fatalf("output[%d] = %v outside tanh*sigmoid range", i, out[i])
		}
	}
}

func TestPrepareIdempotent(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	q := device.NewQueue(0)
	defer q.Close()
	if err := layer.Prepare(q); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if layer.State() != StatePrepared {
		t.Fatalf("state = %s after Prepare", layer.State())
	}
	peak := layer.Pool().PeakBytes()
	if err := layer.Prepare(q); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if layer.Pool().PeakBytes() != peak {
		t.Fatal("second Prepare changed the arena")
	}
}

func TestRunAutoPrepares(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if layer.State() != StateConfigured {
		t.Fatalf("state = %s after Configure", layer.State())
	}
	runStep(t, layer)
	if layer.State() != StatePrepared {
		t.Fatalf("state = %s after Run", layer.State())
	}
}

func TestReconfigureResets(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{peephole: true})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	runStep(t, layer)

	g := newFixture(t, tensor.F32, variant{cifg: true})
	if err := layer.Configure(g.ops, g.params); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if layer.State() != StateConfigured {
		t.Fatalf("state = %s after reconfigure, want configured", layer.State())
	}
	if !layer.Features().CIFG {
		t.Fatal("reconfigure kept the old variant")
	}
	runStep(t, layer)
}

func TestCIFGGraph(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{cifg: true})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	labels := map[string]bool{}
	for _, n := range layer.Describe().Nodes {
		labels[n.Label] = true
	}
	if labels["input-gate-fc"] {
		t.Fatal("CIFG graph contains the input gate matmul")
	}
	if !labels["input-gate-coupled"] {
		t.Fatal("CIFG graph is missing the coupled input gate")
	}
	// The derived input gate still needs its own scratch tensor.
	if _, ok := layer.Pool().Lookup("input-gate"); !ok {
		t.Fatal("CIFG graph has no input-gate scratch")
	}
	if w := f.ops.ScratchBuffer.Desc().Dim(0); w != 3*f.numUnits {
		t.Fatalf("scratch width %d, want %d", w, 3*f.numUnits)
	}
}

func TestZeroClipOmitsClipNodes(t *testing.T) {
	hasLabel := func(l *LSTMLayer, label string) bool {
		for _, n := range l.Describe().Nodes {
			if n.Label == label {
				return true
			}
		}
		return false
	}

	f := newFixture(t, tensor.F32, variant{})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if hasLabel(layer, "cell-clip") {
		t.Fatal("zero cell clip still produced a clip node")
	}

	g := newFixture(t, tensor.F32, variant{cellClip: 1})
	clipped := NewLSTMLayer(nil, nil)
	defer clipped.Close()
	if err := clipped.Configure(g.ops, g.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !hasLabel(clipped, "cell-clip") {
		t.Fatal("cell clip threshold produced no clip node")
	}
}

func TestScratchBounded(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{peephole: true, layerNorm: true})
	layer := NewLSTMLayer(nil, nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	q := device.NewQueue(0)
	defer q.Close()
	if err := layer.Prepare(q); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	pool := layer.Pool()
	if pool.PeakBytes() == 0 {
		t.Fatal("empty arena after Prepare")
	}
	if pool.PeakBytes() >= pool.TotalBytes() {
		t.Fatalf("peak %d is not below total %d; interval reuse is not happening",
			pool.PeakBytes(), pool.TotalBytes())
	}
}

func TestMmapBackedLayer(t *testing.T) {
	f := newFixture(t, tensor.F32, variant{})
	layer := NewLSTMLayer(tensor.MmapAllocator(), nil)
	defer layer.Close()
	if err := layer.Configure(f.ops, f.params); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	runStep(t, layer)
	ref := referenceStep(f)
	compareF32(t, "output", f.ops.Output.F32s(), ref.output, 2e-4)
}

func TestStepMatchesReference(t *testing.T) {
	for _, v := range allVariants {
		t.Run(v.name(), func(t *testing.T) {
			f := newFixture(t, tensor.F32, v)
			layer := NewLSTMLayer(nil, nil)
			defer layer.Close()
			if err := layer.Configure(f.ops, f.params); err != nil {
				t.Fatalf("Configure: %v", err)
			}
			runStep(t, layer)

			ref := referenceStep(f)
			const tol = 2e-4
			compareF32(t, "cell state", f.ops.CellStateOut.F32s(), ref.cellState, tol)
			compareF32(t, "output state", f.ops.OutputStateOut.F32s(), ref.outputState, tol)
			compareF32(t, "output", f.ops.Output.F32s(), ref.output, tol)
			compareF32(t, "scratch buffer", f.ops.ScratchBuffer.F32s(), ref.scratch, tol)
		})
	}
}

// TestHalfPrecisionVariants runs the full variant grid at f16 and bf16
// storage. Half-precision rounding at every kernel boundary shifts the
// numbers too much for the float64 reference, so this checks the
// validate/configure verdict and that the step produces finite values.
func TestHalfPrecisionVariants(t *testing.T) {
	for _, dt := range []tensor.DType{tensor.F16, tensor.BF16} {
		for _, v := range allVariants {
			t.Run(dt.String()+"/"+v.name(), func(t *testing.T) {
				f := newFixture(t, dt, v)
				if err := Validate(f.ops.Descs(), f.params.Descs()); err != nil {
					t.Fatalf("Validate: %v", err)
				}
				layer := NewLSTMLayer(nil, nil)
				defer layer.Close()
				if err := layer.Configure(f.ops, f.params); err != nil {
					t.Fatalf("Configure: %v", err)
				}
				runStep(t, layer)

				checkFinite := func(what string, tt *tensor.Tensor) {
					for i, v := range tt.F32s() {
						if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
							t.Fatalf("%s[%d] = %v", what, i, v)
						}
					}
				}
				checkFinite("cell state", f.ops.CellStateOut)
				checkFinite("output state", f.ops.OutputStateOut)
				checkFinite("output", f.ops.Output)
				checkFinite("scratch buffer", f.ops.ScratchBuffer)
				compareF32(t, "output copy", f.ops.Output.F32s(), f.ops.OutputStateOut.F32s(), 0)
			})
		}
	}
}

func compareF32(t *testing.T, what string, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", what, len(got), len(want))
	}
	for i := range got {
		if d := math.Abs(float64(got[i] - want[i])); d > tol {
			t.Fatalf("%s[%d] = %v, want %v (diff %v)", what, i, got[i], want[i], d)
		}
	}
}

type refResult struct {
	outputState, cellState, output, scratch []float32
}

// referenceStep evaluates one LSTM step directly in float64, without
// any of the graph machinery, as an independent check of the composed
// kernels.
func referenceStep(f *fixture) refResult {
	inSz, nu, outSz, batch := f.inputSize, f.numUnits, f.outputSize, f.batch
	feats := f.params.Descs().Features()

	input := f.ops.Input.F32s()
	outState := f.ops.OutputStateIn.F32s()
	cellIn := f.ops.CellStateIn.F32s()

	sigmoid := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

	// gate computes pre-activations for one gate across the batch.
	// peep coefficients multiply peepState, added before any layer
	// norm, matching node order in the graph.
	gate := func(iw, rw, bias, peep []float32, peepState []float64, ln []float32) []float64 {
		pre := make([]float64, batch*nu)
		for y := 0; y < batch; y++ {
			for u := 0; u < nu; u++ {
				var sum float64
				for i := 0; i < inSz; i++ {
					sum += float64(input[y*inSz+i]) * float64(iw[u*inSz+i])
				}
				for j := 0; j < outSz; j++ {
					sum += float64(outState[y*outSz+j]) * float64(rw[u*outSz+j])
				}
				if peep != nil {
					sum += float64(peep[u]) * peepState[y*nu+u]
				}
				if ln == nil && bias != nil {
					sum += float64(bias[u])
				}
				pre[y*nu+u] = sum
			}
		}
		if ln != nil {
			for y := 0; y < batch; y++ {
				row := pre[y*nu : (y+1)*nu]
				var sum, sqSum float64
				for _, v := range row {
					sum += v
					sqSum += v * v
				}
				mean := sum / float64(nu)
				variance := sqSum/float64(nu) - mean*mean
				if variance < 0 {
					variance = 0
				}
				inv := 1 / math.Sqrt(variance+1e-8)
				for u := range row {
					row[u] = (row[u]-mean)*inv*float64(ln[u]) + float64(bias[u])
				}
			}
		}
		return pre
	}
	clip := func(vals []float64, limit float32) {
		if limit == 0 {
			return
		}
		for i, v := range vals {
			vals[i] = math.Max(-float64(limit), math.Min(float64(limit), v))
		}
	}
	f32 := func(vals []float64) []float32 {
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out
	}

	var lnForget, lnCell, lnOutput, lnInput []float32
	if feats.LayerNorm {
		lnForget = f.params.ForgetLayerNormWeights.F32s()
		lnCell = f.params.CellLayerNormWeights.F32s()
		lnOutput = f.params.OutputLayerNormWeights.F32s()
		if !feats.CIFG {
			lnInput = f.params.InputLayerNormWeights.F32s()
		}
	}
	var c2f, c2o, c2i []float32
	if feats.Peephole {
		c2f = f.params.CellToForgetWeights.F32s()
		c2o = f.params.CellToOutputWeights.F32s()
		if f.params.CellToInputWeights != nil {
			c2i = f.params.CellToInputWeights.F32s()
		}
	}

	cellIn64 := make([]float64, len(cellIn))
	for i, v := range cellIn {
		cellIn64[i] = float64(v)
	}

	forget := gate(f.ops.InputToForgetWeights.F32s(), f.ops.RecurrentToForgetWeights.F32s(),
		f.ops.ForgetGateBias.F32s(), c2f, cellIn64, lnForget)
	for i, v := range forget {
		forget[i] = sigmoid(v)
	}

	inGate := make([]float64, batch*nu)
	if feats.CIFG {
		for i, v := range forget {
			inGate[i] = 1 - v
		}
	} else {
		inGate = gate(f.params.InputToInputWeights.F32s(), f.params.RecurrentToInputWeights.F32s(),
			f.params.InputGateBias.F32s(), c2i, cellIn64, lnInput)
		for i, v := range inGate {
			inGate[i] = sigmoid(v)
		}
	}

	cand := gate(f.ops.InputToCellWeights.F32s(), f.ops.RecurrentToCellWeights.F32s(),
		f.ops.CellBias.F32s(), nil, nil, lnCell)
	for i, v := range cand {
		cand[i] = math.Tanh(v)
	}

	cellOut := make([]float64, batch*nu)
	for i := range cellOut {
		cellOut[i] = cand[i]*inGate[i] + float64(cellIn[i])*forget[i]
	}
	clip(cellOut, f.params.CellClip)

	// The output gate peeps at the freshly written cell state.
	outGate := gate(f.ops.InputToOutputWeights.F32s(), f.ops.RecurrentToOutputWeights.F32s(),
		f.ops.OutputGateBias.F32s(), c2o, cellOut, lnOutput)
	for i, v := range outGate {
		outGate[i] = sigmoid(v)
	}

	hidden := make([]float64, batch*nu)
	for i := range hidden {
		hidden[i] = outGate[i] * math.Tanh(cellOut[i])
	}

	var newState []float64
	if feats.Projection {
		projW := f.params.ProjectionWeights.F32s()
		projB := f.params.ProjectionBias.F32s()
		newState = make([]float64, batch*outSz)
		for y := 0; y < batch; y++ {
			for o := 0; o < outSz; o++ {
				sum := float64(projB[o])
				for u := 0; u < nu; u++ {
					sum += hidden[y*nu+u] * float64(projW[o*nu+u])
				}
				newState[y*outSz+o] = sum
			}
		}
		clip(newState, f.params.ProjectionClip)
	} else {
		newState = hidden
	}

	gates := [][]float64{cand, forget, outGate}
	if !feats.CIFG {
		gates = append([][]float64{inGate}, gates...)
	}
	width := len(gates) * nu
	scratch := make([]float64, batch*width)
	for y := 0; y < batch; y++ {
		off := 0
		for _, g := range gates {
			copy(scratch[y*width+off:], g[y*nu:(y+1)*nu])
			off += nu
		}
	}

	out := f32(newState)
	return refResult{
		outputState: out,
		cellState:   f32(cellOut),
		output:      append([]float32(nil), out...),
		scratch:     f32(scratch),
	}
}
