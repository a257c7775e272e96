package lang

import "barn/types"

// InstrKind enumerates the instruction kinds named in spec.md §3, plus two
// builder-internal kinds (TryPop, ForPop) used only before packing. Break
// statements need to unwind a run of pending try/for records that don't
// correspond to any real stack operation the final bytecode exposes; the
// packer lowers them to the dedicated vm.OpTryPop and vm.OpForPop opcodes
// (see pack.go).
type InstrKind int

const (
	IKInt InstrKind = iota
	IKFloat
	IKObject
	IKString
	IKArray
	IKAddress
	IKLock
	IKMark
	IKPrimitive
	IKJump
	IKIf
	IKTry
	IKExec
	IKReturn
	IKFunction
	IKVarRef
	IKSVarRef
	IKLVarRef
	IKSVarAt
	IKSVarAtClear
	IKSVarBang
	IKLVarAt
	IKLVarAtClear
	IKLVarBang

	ikTryPop // builder-internal
	ikForPop // builder-internal
)

func (k InstrKind) String() string {
	names := [...]string{
		"Int", "Float", "Object", "String", "Array", "Address", "Lock", "Mark",
		"Primitive", "Jump", "If", "Try", "Exec", "Return", "Function",
		"VarRef", "SVarRef", "LVarRef",
		"SVarAt", "SVarAtClear", "SVarBang",
		"LVarAt", "LVarAtClear", "LVarBang",
		"TryPop", "ForPop",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// FunctionMeta is the payload of a Function instruction (spec.md §3
// FunctionMeta value variant — appears only at function-entry instructions).
type FunctionMeta struct {
	Name      string
	TotalVars int
	ArgCount  int
	VarNames  []string
}

// Instr is one node of the builder's singly linked intermediate list
// (spec.md §4.4). Exactly one of the payload fields is meaningful,
// according to Kind.
type Instr struct {
	Kind InstrKind
	Line int

	IntVal  int64         // Int, variable index payloads (branch targets live in refTarget)
	FltVal  float64       // Float
	ObjVal  types.ObjID   // Object
	StrVal  string        // String, Primitive name
	Fn      *FunctionMeta // Function

	// Referenced marks this instruction as a branch target, set by the
	// builder for loop heads and by the optimizer's markReferenced pre-pass,
	// and consulted by the optimizer's contiguity check
	// (spec.md §4.5).
	Referenced bool

	// refTarget is the not-yet-resolved branch/address target for Jump,
	// If, Try, Exec, and Address instructions, expressed as a pointer
	// into the intermediate list rather than an index (spec.md §4.4
	// "address_table[]"); pack.go walks the list once, assigns final
	// indices, and writes the target's final index into the packed
	// instruction's Operand.
	refTarget *Instr

	// finalIndex is filled in during packing once the instruction's
	// position in the final contiguous array is known.
	finalIndex int

	Next *Instr
}

// AddressTableEntry pairs a placeholder instruction with the offset its
// payload should resolve to (spec.md §4.4: "address_table[] (pairs of
// {instruction_pointer, offset})"). For control-flow placeholders the
// "instruction_pointer" is the placeholder Instr itself and offset is
// always 0 (the instruction's own payload is rewritten in place); the
// indirection exists so Address-valued Instrs (taken with `'name`) and
// branch placeholders share one resolution pass.
type AddressTableEntry struct {
	Placeholder *Instr
	Target      *Instr
}
