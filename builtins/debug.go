package builtins

import (
	"barn/trace"
	"barn/types"
	"barn/vm"
)

// Debugger builtins — breakpoint control (spec.md §3 "breakpoint_state";
// §5 "maximum breakpoints"). Grounded on the original's DEBUGGER_BREAK
// primitive (prim_debugger_break): it arms "force debugging" for the
// calling frame so the interpreter suspends the next time it would
// otherwise have continued silently, bounded by a configured maximum.

// builtinDebuggerBreak: debugger_break() → none
// Arms a one-shot breakpoint on the calling frame at its next source line.
func builtinDebuggerBreak(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}

	f, ok := ctx.Frame.(*vm.Frame)
	if !ok || f == nil || f.CurrentProgram == nil {
		return types.Err(types.E_PERM)
	}

	if f.Breakpoint.Count >= vm.DefaultLimits().MaxBreakpoints {
		return types.Err(types.E_QUOTA)
	}

	f.Breakpoint.Count++
	f.Breakpoint.Active = true
	f.Breakpoint.ProgramID = f.CurrentProgram.DBRef
	f.Breakpoint.Line = -1 // any line, matching the source's "no initial breakpoint" case

	return types.Ok(types.NewInt(0))
}

// builtinSetBreak: set_break(line) → int
// Installs a durable breakpoint on the calling program at the first
// instruction generated from the given source line, using the tracer's
// instruction-indexed breakpoint set (vm.checkBreakpoint consults this on
// every step, independent of the one-shot Frame.Breakpoint installed by
// debugger_break()).
func builtinSetBreak(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	lineV, ok := args[0].(types.IntValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	f, ok := ctx.Frame.(*vm.Frame)
	if !ok || f == nil || f.CurrentProgram == nil {
		return types.Err(types.E_PERM)
	}

	ip, ok := f.CurrentProgram.FirstLineCache[int(lineV.Val)]
	if !ok {
		return types.Err(types.E_RANGE)
	}

	trace.SetBreakpoint(f.CurrentProgram.DBRef, ip)
	return types.Ok(types.NewInt(int64(ip)))
}

// builtinClearBreak: clear_break(line) → int
// Removes a breakpoint previously installed by set_break().
func builtinClearBreak(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	lineV, ok := args[0].(types.IntValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	f, ok := ctx.Frame.(*vm.Frame)
	if !ok || f == nil || f.CurrentProgram == nil {
		return types.Err(types.E_PERM)
	}

	ip, ok := f.CurrentProgram.FirstLineCache[int(lineV.Val)]
	if !ok {
		return types.Err(types.E_RANGE)
	}

	trace.ClearBreakpoint(f.CurrentProgram.DBRef, ip)
	return types.Ok(types.NewInt(0))
}
