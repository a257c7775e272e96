package types

import "fmt"

// This file adds the value variants spec.md §3 names beyond the teacher's
// original Int/Float/Obj/Str/List/Map/Err/Waif set: Address, Lock, Mark,
// FunctionMeta, Cleared, plus the internal VarRef handle spec.md §4.5's
// peephole rewrite table implies (see DESIGN.md "Open Question resolutions").

const (
	TYPE_ADDRESS TypeCode = 20
	TYPE_LOCK    TypeCode = 21
	TYPE_MARK    TypeCode = 22
	TYPE_FUNC    TypeCode = 23
	TYPE_CLEARED TypeCode = 24
	TYPE_VARREF  TypeCode = 25 // internal only, never reaches a program's data stack after optimization
)

// AddressCell is the shared, link-counted backing store for an Address
// value. Two AddressValue clones that point at the same program+instruction
// share one cell; the cell's RefCount increments on Clone. Nothing in this
// package decrements RefCount, and it does not change the owning Program's
// InstanceCount, which the vm package maintains on its own (see DESIGN.md).
type AddressCell struct {
	ProgramID ObjID
	Index     int
	RefCount  int
}

// AddressValue is a first-class jumpable reference into a program's
// instruction array (spec.md §3).
type AddressValue struct {
	Cell *AddressCell
}

// NewAddress allocates a fresh address cell with RefCount 1.
func NewAddress(programID ObjID, index int) AddressValue {
	return AddressValue{Cell: &AddressCell{ProgramID: programID, Index: index, RefCount: 1}}
}

func (a AddressValue) Type() TypeCode { return TYPE_ADDRESS }

func (a AddressValue) String() string {
	if a.Cell == nil {
		return "*cleared-address*"
	}
	return fmt.Sprintf("*address:%d:%d*", a.Cell.ProgramID, a.Cell.Index)
}

func (a AddressValue) Equal(other Value) bool {
	o, ok := other.(AddressValue)
	if !ok || a.Cell == nil || o.Cell == nil {
		return false
	}
	return a.Cell.ProgramID == o.Cell.ProgramID && a.Cell.Index == o.Cell.Index
}

// Truthy: MOO-family values of "reference" type are never truthy on their own.
func (a AddressValue) Truthy() bool { return false }

// Clone increments the cell's link-count; the referenced program's
// instance count is not changed here.
func (a AddressValue) Clone() AddressValue {
	if a.Cell != nil {
		a.Cell.RefCount++
	}
	return a
}

// LockValue is an opaque boolean-expression tree. The core never evaluates
// it — the match/resolver that interprets lock expressions is an
// out-of-scope collaborator (spec.md §1); this type exists only so locks can
// be pushed, compared by identity, and cloned (deep-copied) as a value.
type LockValue struct {
	Expr interface{} // opaque to the core; supplied/interpreted externally
}

func (l LockValue) Type() TypeCode { return TYPE_LOCK }
func (l LockValue) String() string { return "*lock*" }
func (l LockValue) Truthy() bool   { return true } // TRUE lock is falsy per spec.md §4.8; see IsTrueLock
func (l LockValue) Equal(other Value) bool {
	o, ok := other.(LockValue)
	return ok && o.Expr == l.Expr
}

// IsTrueLock reports whether this lock is the unconditional TRUE lock —
// spec.md §4.8 lists "TRUE lock" among the falsy If-values.
func (l LockValue) IsTrueLock() bool {
	b, ok := l.Expr.(bool)
	return ok && b
}

// Clone deep-clones the lock's expression tree (spec.md §4.7: "FunctionMeta
// and Lock are value-copied on duplication"). Since Expr is opaque to the
// core, a clonable expression implements this interface; anything else is
// treated as already-immutable and returned as-is.
type cloneableExpr interface{ CloneExpr() interface{} }

func (l LockValue) Clone() LockValue {
	if c, ok := l.Expr.(cloneableExpr); ok {
		return LockValue{Expr: c.CloneExpr()}
	}
	return l
}

// MarkValue is the sentinel used to bracket variadic stack operations
// (spec.md §3): pushed before a variable-length group of values, popped-to
// by primitives that need to know where the group started.
type MarkValue struct{}

func (m MarkValue) Type() TypeCode { return TYPE_MARK }
func (m MarkValue) String() string { return "*mark*" }
func (m MarkValue) Truthy() bool   { return false }
func (m MarkValue) Equal(other Value) bool {
	_, ok := other.(MarkValue)
	return ok
}

// FunctionMeta appears only at function-entry instructions (spec.md §3).
type FunctionMetaValue struct {
	Name      string
	TotalVars int
	ArgCount  int
	VarNames  []string
}

func (f FunctionMetaValue) Type() TypeCode { return TYPE_FUNC }
func (f FunctionMetaValue) String() string { return fmt.Sprintf("*function:%s*", f.Name) }
func (f FunctionMetaValue) Truthy() bool   { return false }
func (f FunctionMetaValue) Equal(other Value) bool {
	o, ok := other.(FunctionMetaValue)
	return ok && o.Name == f.Name
}

// Clone deep-copies the metadata (spec.md §4.7).
func (f FunctionMetaValue) Clone() FunctionMetaValue {
	names := make([]string, len(f.VarNames))
	copy(names, f.VarNames)
	return FunctionMetaValue{Name: f.Name, TotalVars: f.TotalVars, ArgCount: f.ArgCount, VarNames: names}
}

// ClearedValue is debugging poison left behind by the value destructor
// (spec.md §3): "any further read is a hard error." It records where the
// clear happened so a second, erroneous clear/read can point at the culprit
// (spec.md §4.7).
type ClearedValue struct {
	ClearedAtFile string
	ClearedAtLine int
}

func (c ClearedValue) Type() TypeCode { return TYPE_CLEARED }
func (c ClearedValue) String() string {
	return fmt.Sprintf("*cleared at %s:%d*", c.ClearedAtFile, c.ClearedAtLine)
}
func (c ClearedValue) Truthy() bool { return false }
func (c ClearedValue) Equal(other Value) bool {
	_, ok := other.(ClearedValue)
	return ok
}

// VarScope identifies which per-frame storage a VarRefValue addresses.
type VarScope int

const (
	ScopeFrameGlobal VarScope = iota // ME/LOC/TRIGGER/COMMAND + program globals
	ScopeFunction                    // current function's scoped variables
	ScopeLocal                       // per-program local variables (MRU-promoted)
)

func (s VarScope) String() string {
	switch s {
	case ScopeFrameGlobal:
		return "global"
	case ScopeFunction:
		return "scoped"
	case ScopeLocal:
		return "local"
	default:
		return "unknown-scope"
	}
}

// VarRefValue is the internal, never-externally-visible handle pushed by
// VarRef/SVarRef/LVarRef instructions (see DESIGN.md "Open Question
// resolutions" #2). It is consumed by the generic `@`/`!` primitives, or
// fused away entirely by the peephole optimizer.
type VarRefValue struct {
	Scope VarScope
	Index int
}

func (v VarRefValue) Type() TypeCode { return TYPE_VARREF }
func (v VarRefValue) String() string { return fmt.Sprintf("*ref:%s:%d*", v.Scope, v.Index) }
func (v VarRefValue) Truthy() bool   { return false }
func (v VarRefValue) Equal(other Value) bool {
	o, ok := other.(VarRefValue)
	return ok && o.Scope == v.Scope && o.Index == v.Index
}
