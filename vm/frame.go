package vm

import (
	"time"

	"barn/types"
)

// ScopedVarFrame is one entry of Frame.ScopedVars — the scoped-variable
// frame belonging to one active function call (spec.md §3 "scoped_vars —
// stack of frames, each with count, names[], values[]").
type ScopedVarFrame struct {
	Names  []string
	Values []types.Value
}

// CallerEntry is one entry of Frame's caller chain, tracking an active
// program invocation for profile-time attribution and permission checks
// (spec.md §3 "caller[]").
type CallerEntry struct {
	Program *Program
	ThisObj types.ObjID
	Verb    string
	Start   time.Time
}

// SystemStackEntry is one entry of Frame.SystemStack (spec.md §3
// "system_stack of {program, return_instruction_index}").
type SystemStackEntry struct {
	Program              *Program
	ReturnInstructionIdx int
	SkipDeclare          bool
}

// ForRecord is one entry of Frame.ForStack (spec.md §3 "for_stack — stack
// of {current, end, step, didfirst}").
type ForRecord struct {
	Current  types.Value
	End      types.Value
	Step     types.Value
	DidFirst bool
}

// TryRecord is one entry of Frame.TryStack (spec.md §3 "try_stack — stack
// of {data_depth, call_level, for_count, handler_index}").
type TryRecord struct {
	DataDepth    int
	CallLevel    int
	ForCount     int
	HandlerIndex int
}

// EventEnvelope is one queued entry of Frame.EventInbox (spec.md §4.11:
// "enqueues a dictionary {data, caller_pid, descr, caller_prog, trigger,
// prog_uid, player} under key USER.<name>").
type EventEnvelope struct {
	Key        string
	Data       types.Value
	CallerPid  int
	Descr      int
	CallerProg types.ObjID
	Trigger    types.ObjID
	ProgUID    types.ObjID
	Player     types.ObjID
}

// LocalVarSlot is one entry of a Frame's per-program local-variable table,
// kept in an MRU list (spec.md §3 "local_vars — a per-program map keyed by
// program id → fixed-size array of values, promoted to the head of an MRU
// list on each access").
type LocalVarSlot struct {
	ProgramID types.ObjID
	Values    []types.Value
}

// BreakpointState records where a frame is halted for debugging (spec.md
// §3 "breakpoint_state"; §4.13 idle-reaper interacts with this only
// indirectly, through instance counts). Line of -1 matches any line in
// ProgramID, mirroring the source's "no initial breakpoint, make one at
// the current line" DEBUGGER_BREAK behavior.
type BreakpointState struct {
	Active    bool
	ProgramID types.ObjID
	Line      int

	// LastLine is the source line the breakpoint last fired on, so a
	// multi-instruction line only suspends the frame once.
	LastLine int

	// Count tracks how many breakpoints this frame has installed, checked
	// against vm.Limits.MaxBreakpoints (spec.md §5 "maximum breakpoints").
	Count int
}

// Frame is one cooperative process (spec.md §3 "Frame (process)").
type Frame struct {
	Pid        int
	Descriptor int
	Player     types.ObjID
	Trigger    types.ObjID

	DataStack []types.Value
	DataTop   int

	SystemStack []SystemStackEntry
	SystemTop   int

	CallerChain []CallerEntry

	ScopedVars []ScopedVarFrame

	// LocalVars is the MRU list of per-program local variable tables
	// (spec.md §3 "promoted to the head of an MRU list on each access").
	// Index 0 is always the most recently accessed program's table.
	LocalVars []LocalVarSlot

	ForStack  []ForRecord
	TryStack  []TryRecord

	Breakpoint  BreakpointState
	ProfileTime time.Duration
	ProfTimeStart time.Time

	EventInbox    []EventEnvelope
	WatchersOfMe  map[int]bool // pids watching this frame
	WatcheesOfMe  map[int]bool // pids this frame watches
	TimerCount    int

	PermissionsMode types.PermissionsMode
	MultitaskMode   types.MultitaskMode

	ErrorInfo *types.ErrorInfo

	RNGState uint64

	// IP is the current instruction pointer into CurrentProgram.
	IP              int
	CurrentProgram  *Program
	InstructionCount int
	SliceCount       int

	Killed      bool
	AbortSilent bool

	// ActiveArrays lists mutable arrays reachable from this frame, used
	// by fork to know what to deep-copy (spec.md §5 "Arrays on forks /
	// across frames").
	ActiveArrays []types.Value

	// terminated marks a frame that has run off the end of its program or
	// hit an unhandled error; the VM stops re-entering it once set.
	terminated bool

	// pendingYield is set by a primitive (sleep/read/event_waitfor) that
	// wants the current step to suspend the frame instead of falling
	// through to the next instruction.
	pendingYield *Yield

	// skipNextDeclare suppresses the next Function instruction's argument
	// binding, used when a Jump lands directly past a procedure's
	// declaration (spec.md §4.8 "Jump ... skip-declare flag").
	skipNextDeclare bool

	next *Frame // free-list link when pooled
}

// NewFrame allocates a fresh frame with reserved frame-variable slots
// preinitialized to ME = player, LOC = #-1, TRIGGER = trigger and
// COMMAND = "" (spec.md §4.4 "index 0..3 reserved for ME, LOC, TRIGGER,
// COMMAND").
func NewFrame(pid, descriptor int, player, trigger types.ObjID) *Frame {
	f := &Frame{
		Pid:             pid,
		Descriptor:      descriptor,
		Player:          player,
		Trigger:         trigger,
		DataStack:       make([]types.Value, 0, 64),
		WatchersOfMe:    make(map[int]bool),
		WatcheesOfMe:    make(map[int]bool),
		PermissionsMode: types.RegUID,
		MultitaskMode:   types.Preempt,
	}
	f.ScopedVars = append(f.ScopedVars, ScopedVarFrame{
		Names:  append([]string(nil), reservedFrameVarNames[:]...),
		Values: []types.Value{types.NewObj(player), types.NewObj(types.ObjNothing), types.NewObj(trigger), types.NewStr("")},
	})
	return f
}

// Push appends a value to the data stack, honoring capacity (spec.md §4.8
// "overflow-check the data stack").
func (f *Frame) Push(v types.Value, maxDepth int) error {
	if len(f.DataStack) >= maxDepth {
		return MooError{Code: types.E_QUOTA, Message: "data stack overflow"}
	}
	f.DataStack = append(f.DataStack, v)
	return nil
}

func (f *Frame) Pop() (types.Value, error) {
	if len(f.DataStack) == 0 {
		return nil, MooError{Code: types.E_QUOTA, Message: "data stack underflow"}
	}
	v := f.DataStack[len(f.DataStack)-1]
	f.DataStack = f.DataStack[:len(f.DataStack)-1]
	return v, nil
}

func (f *Frame) Peek() (types.Value, error) {
	if len(f.DataStack) == 0 {
		return nil, MooError{Code: types.E_QUOTA, Message: "data stack underflow"}
	}
	return f.DataStack[len(f.DataStack)-1], nil
}

func (f *Frame) Depth() int { return len(f.DataStack) }

// TopScopedVars returns the scoped-variable frame of the currently
// executing function.
func (f *Frame) TopScopedVars() *ScopedVarFrame {
	if len(f.ScopedVars) == 0 {
		return nil
	}
	return &f.ScopedVars[len(f.ScopedVars)-1]
}

// localSlot finds (or creates, promoting to MRU head) the local-variable
// table for a program (spec.md §3 "promoted to the head of an MRU list on
// each access").
func (f *Frame) localSlot(programID types.ObjID, numLocals int) *LocalVarSlot {
	for i, slot := range f.LocalVars {
		if slot.ProgramID == programID {
			if i != 0 {
				f.LocalVars = append(f.LocalVars[:0:0], append([]LocalVarSlot{slot}, append(f.LocalVars[:i], f.LocalVars[i+1:]...)...)...)
			}
			return &f.LocalVars[0]
		}
	}
	slot := LocalVarSlot{ProgramID: programID, Values: make([]types.Value, numLocals)}
	for i := range slot.Values {
		slot.Values[i] = types.NewInt(0)
	}
	f.LocalVars = append([]LocalVarSlot{slot}, f.LocalVars...)
	return &f.LocalVars[0]
}

// Reset clears a pooled frame back to a blank-slate state for reuse
// (spec.md §3 "Frames are pooled").
func (f *Frame) Reset() {
	*f = Frame{
		DataStack:    f.DataStack[:0],
		WatchersOfMe: make(map[int]bool),
		WatcheesOfMe: make(map[int]bool),
	}
}
