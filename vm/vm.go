package vm

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/listvm/pkg/bytecode"
	"github.com/chazu/listvm/pkg/reference"
)

var log = commonlog.GetLogger("listvm.vm")

// DefaultMaxStack bounds the operand stack when Options.MaxStack is zero.
const DefaultMaxStack = 1024

// Options configures a VM.
type Options struct {
	Resolver  reference.Resolver  // defaults to reference.DefaultResolver
	Factory   ContinuationFactory // required
	Observer  Observer            // optional
	Duplicate DuplicatePolicy
	MaxStack  int
	Trace     bool // log every instruction at debug level
}

// VM executes one compiled render program across passes. The operand
// stack lives for one pass; the root region and the list scopes under it
// persist until Destroy.
//
// A VM is not safe for concurrent use.
type VM struct {
	chunk    *bytecode.Chunk
	analysis *bytecode.Analysis
	resolver reference.Resolver
	env      *env
	trace    bool
	maxStack int

	root   *Region
	stack  []Operand
	scopes []*ListScope // open list scopes, innermost last
	args   []reference.Reference
	ip     int
	halted bool

	passes    int
	destroyed bool
}

// New verifies chunk and prepares a VM for it.
func New(chunk *bytecode.Chunk, opts Options) (*VM, error) {
	if opts.Factory == nil {
		return nil, ErrNoFactory
	}
	an, err := bytecode.Verify(chunk)
	if err != nil {
		return nil, err
	}
	maxStack := opts.MaxStack
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	if an.MaxStack > maxStack {
		return nil, fmt.Errorf("%w: program needs %d slots, limit is %d", ErrStackOverflow, an.MaxStack, maxStack)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = reference.DefaultResolver{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	e := &env{factory: opts.Factory, observer: observer, policy: opts.Duplicate}
	return &VM{
		chunk:    chunk,
		analysis: an,
		resolver: resolver,
		env:      e,
		trace:    opts.Trace,
		maxStack: maxStack,
		root:     newRegion(e, ""),
		stack:    make([]Operand, 0, an.MaxStack),
	}, nil
}

// Chunk returns the program the VM runs.
func (v *VM) Chunk() *bytecode.Chunk { return v.chunk }

// Analysis returns what verification learned about the program.
func (v *VM) Analysis() *bytecode.Analysis { return v.analysis }

// Root returns the region holding top-level loop sites.
func (v *VM) Root() *Region { return v.root }

// Passes returns the number of passes started.
func (v *VM) Passes() int { return v.passes }

// Render runs one pass of the program with args bound to its arguments.
//
// On failure the pass is abandoned: every list scope still open is
// destroyed, innermost first, so no continuation created or reused by the
// failed pass survives it and no partial key set is committed. Scopes
// closed earlier in the pass keep what they committed.
func (v *VM) Render(ctx context.Context, args ...reference.Reference) error {
	if v.destroyed {
		return ErrDestroyed
	}
	if len(args) != int(v.chunk.ArgCount) {
		return fmt.Errorf("%w: got %d, want %d", ErrArgCount, len(args), v.chunk.ArgCount)
	}

	v.passes++
	v.args = args
	v.ip = 0
	v.halted = false
	v.root.beginPass()

	err := v.run(ctx)
	if err == nil && len(v.scopes) > 0 {
		err = &ExecError{Op: bytecode.OpReturn, Offset: v.ip, Err: fmt.Errorf("%w: %s", ErrUnclosedScope, v.scopes[len(v.scopes)-1].site)}
	}
	if err != nil {
		v.abandon(err)
		return err
	}
	v.reset()
	return v.root.sweep()
}

func (v *VM) run(ctx context.Context) error {
	code := v.chunk.Code
	for !v.halted && v.ip < len(code) {
		at := v.ip
		op := bytecode.Opcode(code[at])
		h := dispatch[op]
		if h == nil {
			return &ExecError{Op: op, Offset: at, Err: ErrUnknownOpcode}
		}
		next := at + op.InstructionLen()
		if next > len(code) {
			return &ExecError{Op: op, Offset: at, Err: ErrTruncatedBytecode}
		}
		if v.trace {
			log.Debugf("pass %d %04X %-40s stack=%v", v.passes, at, v.chunk.DisassembleInstruction(at), v.stack)
		}
		v.ip = next
		if err := h(v, ctx, at); err != nil {
			return &ExecError{Op: op, Offset: at, Err: err}
		}
	}
	return nil
}

// abandon destroys the open list scopes after a failed pass.
func (v *VM) abandon(cause error) {
	log.Errorf("pass %d abandoned: %s", v.passes, cause)
	for i := len(v.scopes) - 1; i >= 0; i-- {
		if err := v.scopes[i].destroy(); err != nil {
			log.Errorf("pass %d: destroying %s: %s", v.passes, v.scopes[i].site, err)
		}
	}
	v.reset()
}

func (v *VM) reset() {
	clear(v.stack)
	v.stack = v.stack[:0]
	clear(v.scopes)
	v.scopes = v.scopes[:0]
	v.args = nil
}

// Destroy tears down every continuation the VM holds. The VM cannot render
// afterwards.
func (v *VM) Destroy() error {
	if v.destroyed {
		return nil
	}
	v.destroyed = true
	return v.root.destroy()
}

// currentRegion is where a loop entered now belongs.
func (v *VM) currentRegion() *Region {
	if n := len(v.scopes); n > 0 {
		return v.scopes[n-1].currentRegion()
	}
	return v.root
}

func (v *VM) topScope() (*ListScope, error) {
	n := len(v.scopes)
	if n == 0 {
		return nil, ErrScopeUnderflow
	}
	return v.scopes[n-1], nil
}
