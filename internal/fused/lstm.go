// Package fused composes elementary kernels into fused layer graphs
// with a configure/prepare/run lifecycle and pooled scratch memory.
package fused

import (
	"github.com/fusegraph/fusegraph/internal/device"
	"github.com/fusegraph/fusegraph/internal/logger"
	"github.com/fusegraph/fusegraph/internal/tensor"
)

// State is the lifecycle position of a layer.
type State uint8

const (
	StateUnconfigured State = iota
	StateConfigured
	StatePrepared
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StatePrepared:
		return "prepared"
	default:
		return "unknown"
	}
}

// LSTMLayer runs one LSTM time step as a graph of elementary kernels.
// Configure validates the operands and assembles the graph, Prepare
// allocates scratch and runs the one-shot weight reshaping, Run
// enqueues the per-step kernels. Run on a configured layer prepares
// automatically.
//
// A layer is not safe for concurrent use. The same operand tensors
// passed to Configure are read and written by every subsequent Run, so
// a caller steps a sequence by rotating state buffers between calls.
type LSTMLayer struct {
	log   logger.Logger
	alloc tensor.Allocator

	state        State
	feats        Features
	pool         *Pool
	prepareNodes []Node
	runNodes     []Node
}

// NewLSTMLayer creates an unconfigured layer. alloc backs the scratch
// arena; nil selects the heap. log may be nil.
func NewLSTMLayer(alloc tensor.Allocator, log logger.Logger) *LSTMLayer {
	if log == nil {
		log = logger.Discard()
	}
	return &LSTMLayer{log: log, alloc: alloc}
}

// Configure validates the operand set, derives the active feature
// variant and assembles the kernel graph. Any previous configuration is
// torn down first; on failure the layer is left unconfigured with no
// partial graph behind.
func (l *LSTMLayer) Configure(ops Operands, params Params) error {
	l.reset()

	if err := Validate(ops.Descs(), params.Descs()); err != nil {
		return err
	}
	feats := params.Descs().Features()

	pool := NewPool(l.alloc)
	nodes, err := buildGraph(pool, ops, params, feats)
	if err != nil {
		pool.Release()
		return configErrorf(ReasonInternal, "graph assembly: %v", err)
	}

	l.pool = pool
	l.feats = feats
	l.prepareNodes = l.prepareNodes[:0]
	l.runNodes = l.runNodes[:0]
	for _, n := range nodes {
		if n.Phase == PhasePrepare {
			l.prepareNodes = append(l.prepareNodes, n)
		} else {
			l.runNodes = append(l.runNodes, n)
		}
	}
	l.state = StateConfigured
	l.log.Debug("lstm layer configured",
		"features", feats.String(),
		"prepare_nodes", len(l.prepareNodes),
		"run_nodes", len(l.runNodes),
		"scratch_total", pool.TotalBytes())
	return nil
}

// Prepare allocates the scratch arena and runs the weight-reshaping
// nodes to completion. It is idempotent; Run calls it when needed.
func (l *LSTMLayer) Prepare(q *device.Queue) error {
	switch l.state {
	case StateUnconfigured:
		return &StateError{Op: "prepare", State: l.state}
	case StatePrepared:
		return nil
	}
	if err := l.pool.Finalize(); err != nil {
		return err
	}
	for _, n := range l.prepareNodes {
		if err := n.Kernel.Run(q); err != nil {
			return err
		}
	}
	if err := q.Finish(); err != nil {
		return err
	}
	l.state = StatePrepared
	l.log.Debug("lstm layer prepared",
		"scratch_peak", l.pool.PeakBytes(),
		"scratch_total", l.pool.TotalBytes())
	return nil
}

// Run enqueues one time step. The kernels execute asynchronously on the
// queue; the step has completed once q.Finish returns.
func (l *LSTMLayer) Run(q *device.Queue) error {
	if l.state == StateUnconfigured {
		return &StateError{Op: "run", State: l.state}
	}
	if l.state == StateConfigured {
		if err := l.Prepare(q); err != nil {
			return err
		}
	}
	for _, n := range l.runNodes {
		if err := n.Kernel.Run(q); err != nil {
			return err
		}
	}
	return nil
}

// State reports the lifecycle position.
func (l *LSTMLayer) State() State { return l.state }

// Features reports the variant derived at configure time. Zero value
// before Configure.
func (l *LSTMLayer) Features() Features { return l.feats }

// Pool exposes the scratch pool for inspection. Nil before Configure.
func (l *LSTMLayer) Pool() *Pool { return l.pool }

// Describe returns the serializable graph description. Scratch byte
// counts are zero until Prepare has laid out the arena.
func (l *LSTMLayer) Describe() Info {
	info := Info{
		Features: l.feats.String(),
		State:    l.state.String(),
	}
	for i, n := range append(append([]Node(nil), l.prepareNodes...), l.runNodes...) {
		info.Nodes = append(info.Nodes, NodeInfo{
			Index:  i,
			Label:  n.Label,
			Kernel: n.Kernel.Name(),
			Phase:  n.Phase.String(),
		})
	}
	if l.pool != nil {
		info.Scratch = l.pool.describe()
		info.PeakScratchBytes = l.pool.PeakBytes()
		info.TotalScratchBytes = l.pool.TotalBytes()
	}
	return info
}

// Close releases the scratch arena and returns the layer to the
// unconfigured state. It may be called in any state.
func (l *LSTMLayer) Close() error {
	return l.reset()
}

func (l *LSTMLayer) reset() error {
	var err error
	if l.pool != nil {
		err = l.pool.Release()
		l.pool = nil
	}
	l.prepareNodes = nil
	l.runNodes = nil
	l.feats = Features{}
	l.state = StateUnconfigured
	return err
}
