package vm

import (
	"fmt"
	"strings"
	"time"

	"barn/db"
	"barn/trace"
	"barn/types"
)

// MooError wraps an ErrorCode as a Go error, optionally carrying a
// human-readable message for diagnostics (spec.md §7 "rendered with
// program name, instruction text excerpt, line").
type MooError struct {
	Code    types.ErrorCode
	Message string
}

func (e MooError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
	}
	return e.Code.String()
}

// Primitives is the seam to the primitive dispatch table (spec.md §4.8
// "Any other primitive is dispatched via a table"). Implemented by
// builtins.Registry.
type Primitives interface {
	Call(vm *VM, f *Frame, id int) error
	NameForID(id int) (string, bool)
}

// YieldKind classifies why the interpreter loop returned without the frame
// terminating (spec.md §4.9 "SLEEPING n, FOREGROUND, BACKGROUND, read,
// event-wait").
type YieldKind int

const (
	YieldNone YieldKind = iota
	YieldSleeping
	YieldForeground
	YieldBackground
	YieldRead
	YieldEventWait
	YieldFork
	YieldBreakpoint
)

// Yield describes a suspension the scheduler must act on.
type Yield struct {
	Kind       YieldKind
	SleepFor   time.Duration
	WaitEvents []string

	// Child is the newly forked frame when Kind == YieldFork (spec.md
	// §4.10). The parent frame is not suspended — the scheduler should
	// schedule Child as its own task (after SleepFor, if nonzero) and then
	// immediately re-enter Run on the parent frame.
	Child *Frame
}

// Limits holds the configurable resource bounds of spec.md §5.
type Limits struct {
	MaxDataStack       int
	MaxCallerChain     int
	MaxBreakpoints     int
	MaxTimersPerFrame  int
	InstructionSlice   int
	FrameInstrCap      int // scaled down for permission level <= 2
	PreemptCapDefault  int
	PreemptCapWizard   int
	NestedLoopCap      int
	FramePoolSize      int
}

// DefaultLimits mirrors the conservative defaults the teacher's scheduler
// used for its own tick/recursion caps.
func DefaultLimits() Limits {
	return Limits{
		MaxDataStack:      4096,
		MaxCallerChain:    128,
		MaxBreakpoints:    32,
		MaxTimersPerFrame: 16,
		InstructionSlice:  15000,
		FrameInstrCap:     1_000_000,
		PreemptCapDefault: 30_000_000,
		PreemptCapWizard:  60_000_000,
		NestedLoopCap:     64,
		FramePoolSize:     256,
	}
}

// VM is the cooperative, single-frame-at-a-time interpreter (spec.md §5
// "A single event-loop thread runs one interpreter loop invocation at a
// time for one frame").
type VM struct {
	Store      *db.Store
	Primitives Primitives
	Limits     Limits

	freeFrames *Frame
	nextPid    int

	nestedLoopDepth int
}

// reservedFrameVarNames are the always-present frame-scoped variables
// (spec.md §4.4 "index 0..3 reserved for ME, LOC, TRIGGER, COMMAND").
var reservedFrameVarNames = [4]string{"ME", "LOC", "TRIGGER", "COMMAND"}

func NewVM(store *db.Store, prims Primitives) *VM {
	return &VM{Store: store, Primitives: prims, Limits: DefaultLimits(), nextPid: 1}
}

// AllocFrame returns a pooled frame if one is available, else a fresh one
// (spec.md §3 "Frames are pooled: freed frames are linked into a free list
// capped by a configured pool size; allocation prefers the pool").
func (vm *VM) AllocFrame(descriptor int, player, trigger types.ObjID) *Frame {
	if vm.freeFrames != nil {
		f := vm.freeFrames
		vm.freeFrames = f.next
		f.next = nil
		f.Reset()
		f.Pid = vm.nextPid
		vm.nextPid++
		f.Descriptor, f.Player, f.Trigger = descriptor, player, trigger
		f.PermissionsMode = types.RegUID
		f.MultitaskMode = types.Preempt
		f.ScopedVars = append(f.ScopedVars, ScopedVarFrame{
			Names:  append([]string(nil), reservedFrameVarNames[:]...),
			Values: []types.Value{types.NewObj(player), types.NewObj(types.ObjNothing), types.NewObj(trigger), types.NewStr("")},
		})
		return f
	}
	f := NewFrame(vm.nextPid, descriptor, player, trigger)
	vm.nextPid++
	return f
}

// FreeFrame returns a terminated frame to the pool (spec.md §4.9
// "Frame-pool recycling is performed only on true termination").
func (vm *VM) FreeFrame(f *Frame) {
	if countFrames(vm.freeFrames) >= vm.Limits.FramePoolSize {
		return
	}
	f.next = vm.freeFrames
	vm.freeFrames = f
}

func countFrames(head *Frame) int {
	n := 0
	for f := head; f != nil; f = f.next {
		n++
	}
	return n
}

// Fork creates a child frame structured identically to parent (spec.md
// §4.10): it deep-copies the data stack, caller chain, scoped-variable
// stack, local-variable chain, for/try stacks, and active-array list, marks
// the child background and write-only, pushes Int(0) onto its data stack,
// and increments the instance count of every program on its caller chain.
// The parent is left untouched; the caller is responsible for pushing the
// child's pid onto the parent's data stack.
func (vm *VM) Fork(parent *Frame) *Frame {
	child := &Frame{
		Pid:             vm.nextPid,
		Descriptor:      parent.Descriptor,
		Player:          parent.Player,
		Trigger:         parent.Trigger,
		DataStack:       append([]types.Value(nil), parent.DataStack...),
		CallerChain:     append([]CallerEntry(nil), parent.CallerChain...),
		ScopedVars:      cloneScopedVars(parent.ScopedVars),
		LocalVars:       cloneLocalVars(parent.LocalVars),
		ForStack:        append([]ForRecord(nil), parent.ForStack...),
		TryStack:        append([]TryRecord(nil), parent.TryStack...),
		ActiveArrays:    append([]types.Value(nil), parent.ActiveArrays...),
		CurrentProgram:  parent.CurrentProgram,
		IP:              parent.IP,
		PermissionsMode: parent.PermissionsMode,
		MultitaskMode:   types.Background,
		WatchersOfMe:    make(map[int]bool),
		WatcheesOfMe:    make(map[int]bool),
	}
	vm.nextPid++
	child.DataStack = append(child.DataStack, types.NewInt(0))
	for _, entry := range child.CallerChain {
		entry.Program.InstanceCount++
	}
	return child
}

func cloneScopedVars(src []ScopedVarFrame) []ScopedVarFrame {
	out := make([]ScopedVarFrame, len(src))
	for i, sv := range src {
		out[i] = ScopedVarFrame{
			Names:  append([]string(nil), sv.Names...),
			Values: append([]types.Value(nil), sv.Values...),
		}
	}
	return out
}

func cloneLocalVars(src []LocalVarSlot) []LocalVarSlot {
	out := make([]LocalVarSlot, len(src))
	for i, lv := range src {
		out[i] = LocalVarSlot{ProgramID: lv.ProgramID, Values: append([]types.Value(nil), lv.Values...)}
	}
	return out
}

// PrepareCall sets up a frame to begin executing a program at its start
// index (spec.md §4.8 Function entry semantics, applied to the top-level
// call that begins a task).
func (vm *VM) PrepareCall(f *Frame, prog *Program) {
	f.CurrentProgram = prog
	f.IP = prog.StartIndex
	f.CallerChain = append(f.CallerChain, CallerEntry{Program: prog, ThisObj: prog.DBRef, Start: time.Now()})
	prog.InstanceCount++
	prog.UseCount++
	prog.LastUsedAt = time.Now()
}

// Run re-enters the interpreter loop for a frame that may have just been
// allocated or may be resuming after a prior yield (spec.md §4.9 "The loop
// entry point must tolerate re-entry on the same frame: it reloads
// registers from the frame and continues").
func (vm *VM) Run(f *Frame) (Yield, error) {
	return vm.executeLoop(f)
}

func (vm *VM) executeLoop(f *Frame) (Yield, error) {
	prog := f.CurrentProgram
	if prog == nil {
		return Yield{}, MooError{Code: types.E_INTRPT, Message: "frame has no current program"}
	}

	sliceCap := vm.Limits.InstructionSlice

	for {
		if f.Killed {
			vm.terminate(f)
			return Yield{}, nil
		}
		if f.IP < 0 || f.IP >= len(prog.Instructions) {
			vm.terminate(f)
			return Yield{}, nil
		}

		instr := prog.Instructions[f.IP]
		f.InstructionCount++
		f.SliceCount++

		if y, hit := vm.checkBreakpoint(f, prog, instr); hit {
			f.SliceCount = 0
			return y, nil
		}

		permLevel := vm.effectivePermission(f)
		if permLevel <= types.PermRestricted && f.InstructionCount > vm.Limits.FrameInstrCap {
			return vm.raiseOrTerminate(f, MooError{Code: types.E_MAXREC, Message: "too many instructions"})
		}

		if err := vm.step(f, prog, instr, permLevel); err != nil {
			y, rerr := vm.raiseOrTerminate(f, err)
			if rerr != nil || f.terminated {
				return y, rerr
			}
			continue
		}

		if f.terminated {
			vm.terminate(f)
			return Yield{}, nil
		}
		if f.pendingYield != nil {
			y := *f.pendingYield
			f.pendingYield = nil
			return y, nil
		}

		preemptCap := vm.Limits.PreemptCapDefault
		if permLevel >= types.PermWizard {
			preemptCap = vm.Limits.PreemptCapWizard
		}

		switch f.MultitaskMode {
		case types.Preempt:
			if f.InstructionCount >= preemptCap {
				return vm.raiseOrTerminate(f, MooError{Code: types.E_INTRPT, Message: "preempt cap exceeded"})
			}
		case types.Foreground:
			if f.SliceCount >= sliceCap {
				f.SliceCount = 0
				return Yield{Kind: YieldForeground}, nil
			}
		case types.Background:
			if f.SliceCount >= sliceCap {
				f.SliceCount = 0
				return Yield{Kind: YieldBackground}, nil
			}
		}
	}
}

// raiseOrTerminate routes a step error to the active try handler, or
// terminates the frame if none is active (spec.md §4.8 "Error path").
func (vm *VM) raiseOrTerminate(f *Frame, err error) (Yield, error) {
	prog := f.CurrentProgram
	mooErr, _ := err.(MooError)
	if mooErr.Code == 0 && mooErr.Message == "" {
		mooErr = MooError{Code: types.E_INTRPT, Message: err.Error()}
	}

	if len(f.TryStack) == 0 {
		f.ErrorInfo = &types.ErrorInfo{
			Code: mooErr.Code, Message: mooErr.Message, Line: prog.LineForIP(f.IP), Program: prog.DBRef,
		}
		prog.ErrorCount++
		prog.LastCrash = mooErr.Error()
		vm.terminate(f)
		return Yield{}, nil
	}

	// Unwind to the try's call_level, releasing instance counts and
	// popping scoped-variable frames along the way (spec.md §4.8 "Error
	// path").
	try := f.TryStack[len(f.TryStack)-1]
	f.TryStack = f.TryStack[:len(f.TryStack)-1]

	for len(f.SystemStack) > try.CallLevel {
		vm.popSystemFrame(f)
	}
	if len(f.DataStack) > try.DataDepth {
		f.DataStack = f.DataStack[:try.DataDepth]
	}
	for len(f.ForStack) > try.ForCount {
		f.ForStack = f.ForStack[:len(f.ForStack)-1]
	}

	f.ErrorInfo = &types.ErrorInfo{
		Code: mooErr.Code, Message: mooErr.Message, Line: prog.LineForIP(f.IP), Program: prog.DBRef,
	}
	f.IP = try.HandlerIndex
	return Yield{}, nil
}

func (vm *VM) popSystemFrame(f *Frame) {
	top := f.SystemStack[len(f.SystemStack)-1]
	f.SystemStack = f.SystemStack[:len(f.SystemStack)-1]
	if top.Program != f.CurrentProgram {
		top.Program.InstanceCount--
	}
	if len(f.ScopedVars) > 0 {
		f.ScopedVars = f.ScopedVars[:len(f.ScopedVars)-1]
	}
	f.CurrentProgram = top.Program
	f.IP = top.ReturnInstructionIdx
	if len(f.CallerChain) > 0 {
		f.CallerChain = f.CallerChain[:len(f.CallerChain)-1]
	}
}

func (vm *VM) terminate(f *Frame) {
	for _, entry := range f.CallerChain {
		entry.Program.InstanceCount--
	}
	f.terminated = true
}

// effectivePermission resolves the frame's current effective permission
// level (spec.md §3 "permissions_mode"). A fuller implementation consults
// the object store for the program owner's wizard bit; this walks the
// cheap path first.
func (vm *VM) effectivePermission(f *Frame) types.PermissionLevel {
	if f.CurrentProgram == nil {
		return types.PermRegular
	}
	if vm.Store != nil {
		if obj := vm.Store.Get(f.CurrentProgram.DBRef); obj != nil && obj.Flags.Has(db.FlagWizard) {
			return types.PermWizard
		}
	}
	return types.PermRegular
}

// checkBreakpoint reports whether the frame should suspend at the current
// instruction for debugging, consulting both the frame's own breakpoint
// (set by the DEBUGGER_BREAK primitive) and the tracer's global per-program
// instruction-indexed breakpoint set (spec.md §3 "breakpoint_state"; §2
// "Primitive dispatcher" row; §5 "maximum breakpoints").
func (vm *VM) checkBreakpoint(f *Frame, prog *Program, instr Instruction) (Yield, bool) {
	if f.Breakpoint.Active && f.Breakpoint.ProgramID == prog.DBRef &&
		(f.Breakpoint.Line == -1 || f.Breakpoint.Line == instr.Line) &&
		f.Breakpoint.LastLine != instr.Line {
		f.Breakpoint.LastLine = instr.Line
		f.Breakpoint.Active = false // one-shot, like the source's temp breakpoint
		trace.BreakpointHit(prog.DBRef, f.IP, instr.Line, f.Pid)
		return Yield{Kind: YieldBreakpoint}, true
	}

	if trace.HasBreakpoint(prog.DBRef, f.IP) {
		trace.BreakpointHit(prog.DBRef, f.IP, instr.Line, f.Pid)
		return Yield{Kind: YieldBreakpoint}, true
	}

	return Yield{}, false
}

// step executes exactly one instruction (spec.md §4.8 "Per instruction").
func (vm *VM) step(f *Frame, prog *Program, instr Instruction, permLevel types.PermissionLevel) error {
	switch instr.Op {
	case OpInt:
		return f.Push(types.NewInt(instr.Operand), vm.Limits.MaxDataStack)
	case OpFloat:
		return f.Push(prog.Constants[instr.Operand], vm.Limits.MaxDataStack)
	case OpObject:
		return f.Push(types.NewObj(types.ObjID(instr.Operand)), vm.Limits.MaxDataStack)
	case OpString:
		return f.Push(prog.Constants[instr.Operand], vm.Limits.MaxDataStack)
	case OpArray:
		return f.Push(types.NewEmptyList(), vm.Limits.MaxDataStack)
	case OpAddress:
		cell := prog.Addresses[instr.Operand]
		cell.RefCount++
		return f.Push(types.AddressValue{Cell: cell}, vm.Limits.MaxDataStack)
	case OpLock:
		return f.Push(types.LockValue{}, vm.Limits.MaxDataStack)
	case OpMark:
		return f.Push(types.MarkValue{}, vm.Limits.MaxDataStack)
	case OpVarRef:
		return f.Push(types.VarRefValue{Scope: types.ScopeFrameGlobal, Index: int(instr.Operand)}, vm.Limits.MaxDataStack)
	case OpSVarRef:
		return f.Push(types.VarRefValue{Scope: types.ScopeFunction, Index: int(instr.Operand)}, vm.Limits.MaxDataStack)
	case OpLVarRef:
		return f.Push(types.VarRefValue{Scope: types.ScopeLocal, Index: int(instr.Operand)}, vm.Limits.MaxDataStack)

	case OpSVarAt, OpSVarAtClear:
		top := f.TopScopedVars()
		idx := int(instr.Operand)
		if top == nil || idx < 0 || idx >= len(top.Values) {
			return MooError{Code: types.E_VARNF, Message: "scoped variable index out of range"}
		}
		v := top.Values[idx]
		if instr.Op == OpSVarAtClear {
			top.Values[idx] = types.NewInt(0)
		}
		return f.Push(v, vm.Limits.MaxDataStack)
	case OpSVarBang:
		val, err := f.Pop()
		if err != nil {
			return err
		}
		top := f.TopScopedVars()
		idx := int(instr.Operand)
		if top == nil || idx < 0 || idx >= len(top.Values) {
			return MooError{Code: types.E_VARNF, Message: "scoped variable index out of range"}
		}
		top.Values[idx] = val
		return nil

	case OpLVarAt, OpLVarAtClear:
		slot := f.localSlot(prog.DBRef, prog.NumLocals)
		idx := int(instr.Operand)
		if idx < 0 || idx >= len(slot.Values) {
			return MooError{Code: types.E_VARNF, Message: "local variable index out of range"}
		}
		v := slot.Values[idx]
		if instr.Op == OpLVarAtClear {
			slot.Values[idx] = types.NewInt(0)
		}
		return f.Push(v, vm.Limits.MaxDataStack)
	case OpLVarBang:
		val, err := f.Pop()
		if err != nil {
			return err
		}
		slot := f.localSlot(prog.DBRef, prog.NumLocals)
		idx := int(instr.Operand)
		if idx < 0 || idx >= len(slot.Values) {
			return MooError{Code: types.E_VARNF, Message: "local variable index out of range"}
		}
		slot.Values[idx] = val
		return nil

	case OpIf:
		v, err := f.Pop()
		if err != nil {
			return err
		}
		if !v.Truthy() {
			f.IP = int(instr.Operand)
			return nil
		}
		f.IP++
		return nil

	case OpJump:
		target := int(instr.Operand)
		if target < len(prog.Instructions) && prog.Instructions[target].Op == OpFunction {
			f.skipNextDeclare = true
		}
		f.IP = target
		return nil

	case OpTry:
		n, err := f.Pop()
		if err != nil {
			return err
		}
		nInt, ok := n.(types.IntValue)
		if !ok {
			return MooError{Code: types.E_TYPE, Message: "try expects an integer protected-item count"}
		}
		if int(nInt.Val) > f.Depth() {
			return MooError{Code: types.E_RANGE, Message: "try: protected-item count exceeds stack depth"}
		}
		f.TryStack = append(f.TryStack, TryRecord{
			DataDepth:    f.Depth() - int(nInt.Val),
			CallLevel:    len(f.SystemStack),
			ForCount:     len(f.ForStack),
			HandlerIndex: int(instr.Operand),
		})
		f.IP++
		return nil

	case OpTryPop:
		if len(f.TryStack) > 0 {
			f.TryStack = f.TryStack[:len(f.TryStack)-1]
		}
		f.IP++
		return nil
	case OpForPop:
		if len(f.ForStack) > 0 {
			f.ForStack = f.ForStack[:len(f.ForStack)-1]
		}
		f.IP++
		return nil

	case OpFunction:
		meta := prog.FunctionMetas[instr.Operand]
		if f.skipNextDeclare {
			f.skipNextDeclare = false
			f.IP++
			return nil
		}
		values := make([]types.Value, meta.TotalVars)
		for i := meta.ArgCount - 1; i >= 0; i-- {
			v, err := f.Pop()
			if err != nil {
				return err
			}
			values[i] = v
		}
		for i := meta.ArgCount; i < meta.TotalVars; i++ {
			values[i] = types.NewInt(0)
		}
		names := meta.VarNames
		if len(names) < len(values) {
			names = append(append([]string(nil), names...), make([]string, len(values)-len(names))...)
		}
		f.ScopedVars = append(f.ScopedVars, ScopedVarFrame{Names: names, Values: values})
		f.IP++
		return nil

	case OpExec:
		target := int(instr.Operand)
		f.SystemStack = append(f.SystemStack, SystemStackEntry{Program: prog, ReturnInstructionIdx: f.IP + 1})
		prog.InstanceCount++
		f.CallerChain = append(f.CallerChain, CallerEntry{Program: prog, ThisObj: prog.DBRef, Start: time.Now()})
		f.IP = target
		return nil

	case OpReturn:
		if len(f.SystemStack) == 0 {
			f.terminated = true
			return nil
		}
		vm.popSystemFrame(f)
		return nil

	case OpPrimitive:
		if vm.Primitives == nil {
			return MooError{Code: types.E_EXEC, Message: "no primitive dispatcher configured"}
		}
		name, _ := vm.Primitives.NameForID(int(instr.Operand))
		switch name {
		case "catch", "catch_detailed":
			return vm.execCatch(f, name == "catch_detailed")
		case "sleep":
			return vm.execSleep(f)
		case "read":
			return vm.execRead(f)
		case "event_waitfor":
			return vm.execEventWaitfor(f)
		case "fork":
			return vm.execFork(f)
		default:
			if err := vm.Primitives.Call(vm, f, int(instr.Operand)); err != nil {
				return err
			}
			f.IP++
			return nil
		}

	default:
		return MooError{Code: types.E_INTRPT, Message: fmt.Sprintf("unknown instruction type %v", instr.Op)}
	}
}

// execCatch implements the Catch/Catch_detailed semantics of spec.md §4.8:
// must have an active try record at the current depth (already popped on
// the error path, so at this point it runs only when no error was raised —
// the protected block fell through normally — in which case catch is a
// no-op that simply discards the (already-consumed) try record and pushes
// the "no error" sentinel).
func (vm *VM) execCatch(f *Frame, detailed bool) error {
	if len(f.TryStack) == 0 {
		return MooError{Code: types.E_INTRPT, Message: "catch without active try"}
	}
	f.TryStack = f.TryStack[:len(f.TryStack)-1]
	if f.ErrorInfo == nil {
		if detailed {
			return f.Push(types.NewEmptyMap(), vm.Limits.MaxDataStack)
		}
		return f.Push(types.NewStr(""), vm.Limits.MaxDataStack)
	}
	info := f.ErrorInfo
	f.ErrorInfo = nil
	if detailed {
		pairs := [][2]types.Value{
			{types.NewStr("error"), types.NewStr(info.Code.String())},
			{types.NewStr("instr"), types.NewStr(info.Instruction)},
			{types.NewStr("line"), types.NewInt(int64(info.Line))},
			{types.NewStr("program"), types.NewObj(info.Program)},
		}
		return f.Push(types.NewMap(pairs), vm.Limits.MaxDataStack)
	}
	return f.Push(types.NewStr(info.Message), vm.Limits.MaxDataStack)
}

func (vm *VM) execSleep(f *Frame) error {
	v, err := f.Pop()
	if err != nil {
		return err
	}
	iv, ok := v.(types.IntValue)
	if !ok || iv.Val < 0 {
		return MooError{Code: types.E_INVARG, Message: "sleep expects a non-negative integer"}
	}
	f.IP++
	f.pendingYield = &Yield{Kind: YieldSleeping, SleepFor: time.Duration(iv.Val) * time.Second}
	return nil
}

func (vm *VM) execRead(f *Frame) error {
	if f.MultitaskMode == types.Background {
		return MooError{Code: types.E_PERM, Message: "read is not allowed from a background process"}
	}
	f.IP++
	f.pendingYield = &Yield{Kind: YieldRead}
	return nil
}

func (vm *VM) execEventWaitfor(f *Frame) error {
	v, err := f.Pop()
	if err != nil {
		return err
	}
	lst, ok := v.(types.ListValue)
	if !ok {
		return MooError{Code: types.E_TYPE, Message: "event_waitfor expects a list of event names"}
	}
	elems := lst.Elements()
	names := make([]string, 0, len(elems))
	for _, el := range elems {
		s, ok := el.(types.StrValue)
		if !ok {
			return MooError{Code: types.E_INVARG, Message: "event_waitfor: event names must be strings"}
		}
		names = append(names, s.Value())
	}
	f.IP++
	f.pendingYield = &Yield{Kind: YieldEventWait, WaitEvents: names}
	return nil
}

// execFork pops a non-negative delay (seconds), creates a child frame via
// Fork, pushes the child's pid onto the parent's stack, and yields a
// YieldFork so the scheduler can take ownership of the child (spec.md
// §4.10). The parent does not suspend: the scheduler re-enters it right
// after scheduling the child.
func (vm *VM) execFork(f *Frame) error {
	v, err := f.Pop()
	if err != nil {
		return err
	}
	iv, ok := v.(types.IntValue)
	if !ok || iv.Val < 0 {
		return MooError{Code: types.E_INVARG, Message: "fork expects a non-negative integer delay"}
	}
	child := vm.Fork(f)
	if err := f.Push(types.NewInt(int64(child.Pid)), vm.Limits.MaxDataStack); err != nil {
		return err
	}
	f.IP++
	f.pendingYield = &Yield{Kind: YieldFork, SleepFor: time.Duration(iv.Val) * time.Second, Child: child}
	return nil
}

// buildTraceback renders the caller chain for a terminating error, shown
// in full only to callers that control the program (spec.md §7).
func buildTraceback(f *Frame) string {
	var sb strings.Builder
	for i := len(f.CallerChain) - 1; i >= 0; i-- {
		entry := f.CallerChain[i]
		fmt.Fprintf(&sb, "#%d:%s\n", entry.ThisObj, entry.Verb)
	}
	return sb.String()
}
