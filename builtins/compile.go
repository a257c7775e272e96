package builtins

import (
	"fmt"
	"strconv"
	"strings"

	"barn/db"
	"barn/lang"
	"barn/types"
	"barn/vm"
)

// Macros and Defines are the persisted, global compile-time tables
// directives draw on ($define/$macro and their expansions). Kept here
// rather than on db.Store to keep db independent of lang/vm.
var (
	globalMacros  = lang.NewMacroTable()
	globalDefines = lang.NewDefineTable()
)

// CompileVerb compiles verb source code into a packed bytecode program,
// running the full reader/macro/directive/build/optimize/pack pipeline.
// Returns compile errors (one string per problem) on failure.
func CompileVerb(store *db.Store, code []string, dbref, programmer types.ObjID) (*vm.Program, []string) {
	if globalPrimitiveIDs == nil {
		return nil, []string{"compile error: primitive table not wired"}
	}
	source := strings.Join(code, "\n")
	host := newCompileHost(store, programmer)
	result, err := lang.Compile(source, dbref, globalDefines, globalMacros, host, globalPrimitiveIDs)
	if err != nil {
		return nil, []string{fmt.Sprintf("compile error: %v", err)}
	}
	return result.Program, nil
}

// EnsureCompiled returns v's cached bytecode program, compiling v.Code and
// populating BytecodeCache on first use. dbref is the verb-defining object.
func EnsureCompiled(store *db.Store, v *db.Verb, dbref types.ObjID) (*vm.Program, []string) {
	if prog, ok := v.BytecodeCache.(*vm.Program); ok && prog != nil {
		return prog, nil
	}
	prog, errs := CompileVerb(store, v.Code, dbref, v.Owner)
	if prog == nil {
		return nil, errs
	}
	v.BytecodeCache = prog
	return prog, errs
}

// compileHost implements lang.CompileHost against a live Store, resolving
// directive object-specs ("#3", "$lib_string") against real objects and
// properties.
type compileHost struct {
	store      *db.Store
	programmer types.ObjID
	metadata   map[string]string
}

func newCompileHost(store *db.Store, programmer types.ObjID) *compileHost {
	return &compileHost{store: store, programmer: programmer, metadata: make(map[string]string)}
}

func (h *compileHost) WriteMetadata(key, value string) { h.metadata[key] = value }

func (h *compileHost) Echo(msg string) {
	if globalConnManager == nil {
		return
	}
	if conn := globalConnManager.GetConnection(h.programmer); conn != nil {
		conn.Buffer(msg)
	}
}

func (h *compileHost) LookupDefs(objectSpec string) (string, bool) {
	obj := h.resolveObjSpec(objectSpec)
	if obj == nil {
		return "", false
	}
	prop := h.lookupProperty(obj, "_defs")
	if prop == nil {
		return "", false
	}
	if s, ok := prop.Value.(types.StrValue); ok {
		return s.Value(), true
	}
	return "", false
}

func (h *compileHost) CanCall(objectSpec, name string) bool {
	obj := h.resolveObjSpec(objectSpec)
	if obj == nil {
		return false
	}
	_, _, err := h.store.FindVerb(obj.ID, name)
	return err == nil
}

func (h *compileHost) LibVersion(objectSpec string) (string, bool) {
	obj := h.resolveObjSpec(objectSpec)
	if obj == nil {
		return "", false
	}
	prop := h.lookupProperty(obj, "_lib-version")
	if prop == nil {
		return "", false
	}
	if s, ok := prop.Value.(types.StrValue); ok {
		return s.Value(), true
	}
	return "", false
}

func (h *compileHost) resolveObjSpec(spec string) *db.Object {
	spec = strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(spec, "#"):
		n, err := strconv.ParseInt(spec[1:], 10, 64)
		if err != nil {
			return nil
		}
		return h.store.Get(types.ObjID(n))
	case strings.HasPrefix(spec, "$"):
		sys := h.store.Get(types.ObjID(0))
		if sys == nil {
			return nil
		}
		prop := h.lookupProperty(sys, spec[1:])
		if prop == nil {
			return nil
		}
		if o, ok := prop.Value.(types.ObjValue); ok {
			return h.store.Get(o.ID())
		}
		return nil
	default:
		return nil
	}
}

func (h *compileHost) lookupProperty(obj *db.Object, name string) *db.Property {
	seen := make(map[types.ObjID]bool)
	for obj != nil && !seen[obj.ID] {
		seen[obj.ID] = true
		if p, ok := obj.Properties[name]; ok {
			return p
		}
		if len(obj.Parents) == 0 {
			return nil
		}
		obj = h.store.Get(obj.Parents[0])
	}
	return nil
}
