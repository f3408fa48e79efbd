package fused

import "fmt"

// Reason tags carried by ConfigError, identifying which validation
// check rejected the configuration.
const (
	ReasonMissingOperand       = "missing-operand"
	ReasonInconsistentOperands = "inconsistent-operands"
	ReasonShapeMismatch        = "shape-mismatch"
	ReasonDTypeMismatch        = "dtype-mismatch"
	ReasonLayoutMismatch       = "layout-mismatch"
	ReasonInternal             = "internal"
)

// ConfigError rejects a configuration before any allocation happens.
// Callers can fix the operands and configure again.
type ConfigError struct {
	Reason string
	Msg    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure: %s: %s", e.Reason, e.Msg)
}

func configErrorf(reason, format string, args ...any) *ConfigError {
	return &ConfigError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// StateError reports a lifecycle violation, such as Run before
// Configure. It indicates a programming error in the caller and is not
// recoverable by retrying.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s called in state %s", e.Op, e.State)
}
