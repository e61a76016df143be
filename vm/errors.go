package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/listvm/pkg/bytecode"
)

// Invariant violations. A valid instruction stream never produces these;
// they abort the pass and signal a defect in whatever emitted the code.
var (
	ErrTypeMismatch      = errors.New("operand type mismatch")
	ErrStackUnderflow    = errors.New("operand stack underflow")
	ErrStackOverflow     = errors.New("operand stack overflow")
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrTruncatedBytecode = errors.New("truncated bytecode")
	ErrScopeUnderflow    = errors.New("no open list scope")
	ErrUnclosedScope     = errors.New("list scope left open")
	ErrScopeReentered    = errors.New("list scope entered while open")
)

// Usage errors.
var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrInvalidKeyPath = errors.New("key path is not a string")
	ErrArgCount       = errors.New("wrong number of render arguments")
	ErrDestroyed      = errors.New("vm destroyed")
	ErrNoFactory      = errors.New("no continuation factory")
)

var fatal = []error{
	ErrTypeMismatch,
	ErrStackUnderflow,
	ErrStackOverflow,
	ErrUnknownOpcode,
	ErrTruncatedBytecode,
	ErrScopeUnderflow,
	ErrUnclosedScope,
	ErrScopeReentered,
}

// IsFatal reports whether err is a VM invariant violation rather than a
// policy or collaborator failure.
func IsFatal(err error) bool {
	for _, f := range fatal {
		if errors.Is(err, f) {
			return true
		}
	}
	var verr *bytecode.VerifyError
	return errors.As(err, &verr)
}

// ExecError locates a failure in the instruction stream.
type ExecError struct {
	Op     bytecode.Opcode
	Offset int
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s at %04X: %v", e.Op, e.Offset, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// DuplicateKeyError reports a key produced twice in one pass over a loop site.
type DuplicateKeyError struct {
	Site Site
	Key  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: duplicate key %q", e.Site, e.Key)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }
