package builtins

import (
	"barn/db"
	"barn/types"
	"barn/vm"
)

// Dispatcher adapts a Registry to the seams the compiler and interpreter
// depend on (lang.PrimitiveIDs, vm.Primitives), so neither lang nor vm
// import builtins directly.
//
// Primitive calls on the data stack are bracketed by a Mark (spec.md §4.8
// "variadic primitive calls are bracketed by a Mark value pushed before the
// argument list"): Call pops values down to and including the nearest Mark,
// treats everything above it as the argument list in push order, invokes
// the registered BuiltinFunc, and pushes its result back.
type Dispatcher struct {
	store *db.Store
	reg   *Registry
}

func NewDispatcher(store *db.Store, reg *Registry) *Dispatcher {
	return &Dispatcher{store: store, reg: reg}
}

// IDFor implements lang.PrimitiveIDs.
func (d *Dispatcher) IDFor(name string) (int, bool) {
	return d.reg.GetID(name)
}

// NameForID implements vm.Primitives.
func (d *Dispatcher) NameForID(id int) (string, bool) {
	for name, got := range d.reg.nameToID {
		if got == id {
			return name, true
		}
	}
	return "", false
}

// Call implements vm.Primitives.
func (d *Dispatcher) Call(machine *vm.VM, f *vm.Frame, id int) error {
	args, err := popArgsAboveMark(f)
	if err != nil {
		return err
	}

	ctx := d.contextFor(f)
	result := d.reg.CallByID(id, ctx, args)

	if result.IsError() {
		return vm.MooError{Code: result.Error, Message: "primitive raised " + result.Error.String()}
	}
	return f.Push(result.Val, machine.Limits.MaxDataStack)
}

// popArgsAboveMark pops values off the data stack until (and including) the
// nearest Mark, returning the popped values in original push order.
func popArgsAboveMark(f *vm.Frame) ([]types.Value, error) {
	var reversed []types.Value
	for {
		v, err := f.Pop()
		if err != nil {
			return nil, vm.MooError{Code: types.E_RANGE, Message: "primitive call: missing argument-list mark"}
		}
		if _, isMark := v.(types.MarkValue); isMark {
			break
		}
		reversed = append(reversed, v)
	}
	args := make([]types.Value, len(reversed))
	for i, v := range reversed {
		args[len(reversed)-1-i] = v
	}
	return args, nil
}

// contextFor builds the TaskContext view of a frame's current permission
// and identity state that the existing BuiltinFunc signature expects
// (grounded on the teacher's db.Store-backed evaluator context wiring).
func (d *Dispatcher) contextFor(f *vm.Frame) *types.TaskContext {
	ctx := types.NewTaskContext()
	ctx.Player = f.Player
	ctx.ThisObj = f.Trigger
	ctx.Store = d.store
	ctx.Frame = f
	if f.CurrentProgram != nil {
		ctx.Programmer = f.CurrentProgram.DBRef
	}
	if d.store != nil {
		if obj := d.store.Get(ctx.Programmer); obj != nil {
			ctx.IsWizard = obj.Flags.Has(db.FlagWizard)
		}
	}
	ctx.TicksRemaining = int64(machineRemainingTicks(f))
	return ctx
}

// machineRemainingTicks has no scheduler-wide tick budget in the new Frame
// model (ticks are counted per-frame via InstructionCount against the
// VM's preempt cap); builtins that consult TicksRemaining only use it as a
// heuristic "how much runway is left" signal, so a generous constant is
// supplied rather than threading the VM's Limits through every call.
func machineRemainingTicks(f *vm.Frame) int64 {
	return 1_000_000
}
