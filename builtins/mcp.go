package builtins

import (
	"sync"

	"barn/mcp"
	"barn/types"
	"barn/vm"
)

// Application-level MCP package registration (spec.md §4.12 "negotiated
// packages"; grounded on the original's application-registered MCP
// callbacks — a program declares a package name and version range, and
// incoming messages for it are queued for the program to poll rather than
// invoked as a direct callback, since MUF execution only happens inside a
// scheduled task).

var (
	mcpOwnerMu sync.Mutex
	mcpOwner   = map[string]types.ObjID{} // package name -> owning program

	mcpInboxMu sync.Mutex
	mcpInbox   = map[types.ObjID][]*mcp.Message{} // program -> queued messages
)

// builtinMcpRegister: mcp_register(package, min_version, max_version) → int
// Registers the calling program as the handler for an MCP package, binding
// it into Program.MCPBindings and the process-wide MCP registry.
func builtinMcpRegister(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 3 {
		return types.Err(types.E_ARGS)
	}
	pkgV, ok1 := args[0].(types.StrValue)
	minV, ok2 := args[1].(types.StrValue)
	maxV, ok3 := args[2].(types.StrValue)
	if !ok1 || !ok2 || !ok3 {
		return types.Err(types.E_TYPE)
	}

	f, ok := ctx.Frame.(*vm.Frame)
	if !ok || f == nil || f.CurrentProgram == nil {
		return types.Err(types.E_PERM)
	}

	minVer, ok := mcp.ParseVer(minV.Value())
	if !ok {
		return types.Err(types.E_INVARG)
	}
	maxVer, ok := mcp.ParseVer(maxV.Value())
	if !ok {
		return types.Err(types.E_INVARG)
	}

	pkgName := pkgV.Value()
	prog := f.CurrentProgram

	mcpOwnerMu.Lock()
	mcpOwner[pkgName] = prog.DBRef
	mcpOwnerMu.Unlock()

	mcp.Default.Register(pkgName, minVer, maxVer, deliverToOwner)

	prog.MCPBindings = append(prog.MCPBindings, vm.MCPBinding{
		Package:    pkgName,
		MinVersion: minVer.String(),
		MaxVersion: maxVer.String(),
	})

	return types.Ok(types.NewInt(0))
}

// deliverToOwner is the shared mcp.Callback for every application-registered
// package: it has no running MUF frame to call into directly, so it queues
// the message for the owning program to retrieve via mcp_poll_message().
func deliverToOwner(fr *mcp.Frame, m *mcp.Message, version mcp.Ver) {
	mcpOwnerMu.Lock()
	owner, ok := mcpOwner[m.Package]
	mcpOwnerMu.Unlock()
	if !ok {
		return
	}

	mcpInboxMu.Lock()
	mcpInbox[owner] = append(mcpInbox[owner], m)
	mcpInboxMu.Unlock()
}

// builtinMcpPollMessage: mcp_poll_message() → map or #0
// Dequeues the oldest pending MCP message addressed to one of the calling
// program's registered packages, or returns #0 if none are pending.
func builtinMcpPollMessage(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}

	f, ok := ctx.Frame.(*vm.Frame)
	if !ok || f == nil || f.CurrentProgram == nil {
		return types.Err(types.E_PERM)
	}
	prog := f.CurrentProgram

	mcpInboxMu.Lock()
	queue := mcpInbox[prog.DBRef]
	if len(queue) == 0 {
		mcpInboxMu.Unlock()
		return types.Ok(types.NewObj(types.ObjID(0)))
	}
	msg := queue[0]
	mcpInbox[prog.DBRef] = queue[1:]
	mcpInboxMu.Unlock()

	pairs := [][2]types.Value{
		{types.NewStr("package"), types.NewStr(msg.Package)},
		{types.NewStr("name"), types.NewStr(msg.Name)},
	}
	for _, a := range msg.Args {
		pairs = append(pairs, [2]types.Value{types.NewStr(a.Name), types.NewStr(a.Value())})
	}

	return types.Ok(types.NewMap(pairs))
}
