package vm

// OpCode represents one packed instruction kind (spec.md §3 Instruction.kind).
// Unlike a byte-offset bytecode, programs here are arrays of Instruction
// indexed by integer position — spec.md's Address/Jump/Try/Exec/publics
// payloads are all "instruction index" values, so the packer targets
// instruction slots directly rather than encoding variable-length operands
// into a byte stream.
type OpCode byte

const (
	OpInt OpCode = iota
	OpFloat
	OpObject
	OpString
	OpArray
	OpAddress
	OpLock
	OpMark
	OpPrimitive
	OpJump
	OpIf
	OpTry
	OpExec
	OpReturn
	OpFunction
	OpVarRef
	OpSVarRef
	OpLVarRef
	OpSVarAt
	OpSVarAtClear
	OpSVarBang
	OpLVarAt
	OpLVarAtClear
	OpLVarBang
	OpTryPop
	OpForPop
)

// OpCodeNames maps opcodes to their string names for debugging and
// disassembly.
var OpCodeNames = map[OpCode]string{
	OpInt:         "INT",
	OpFloat:       "FLOAT",
	OpObject:      "OBJECT",
	OpString:      "STRING",
	OpArray:       "ARRAY",
	OpAddress:     "ADDRESS",
	OpLock:        "LOCK",
	OpMark:        "MARK",
	OpPrimitive:   "PRIMITIVE",
	OpJump:        "JUMP",
	OpIf:          "IF",
	OpTry:         "TRY",
	OpExec:        "EXEC",
	OpReturn:      "RETURN",
	OpFunction:    "FUNCTION",
	OpVarRef:      "VARREF",
	OpSVarRef:     "SVARREF",
	OpLVarRef:     "LVARREF",
	OpSVarAt:      "SVAR_AT",
	OpSVarAtClear: "SVAR_AT_CLEAR",
	OpSVarBang:    "SVAR_BANG",
	OpLVarAt:      "LVAR_AT",
	OpLVarAtClear: "LVAR_AT_CLEAR",
	OpLVarBang:    "LVAR_BANG",
	OpTryPop:      "TRY_POP",
	OpForPop:      "FOR_POP",
}

// String returns the name of an opcode.
func (op OpCode) String() string {
	if name, ok := OpCodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// CountsTick reports whether executing this opcode counts toward a frame's
// per-instruction tick budget (spec.md §4.8 "increments a per-frame
// instruction counter"). Every instruction counts; primitives additionally
// may consume extra ticks of their own (handled by the primitive dispatcher).
func CountsTick(op OpCode) bool { return true }

// Instruction is one packed, index-addressable program step.
//
//   - Operand holds: the small int for OpInt; an index into Program.Constants
//     for OpFloat/OpObject/OpString/OpArray; an index into Program.Addresses
//     for OpAddress; an index into Program.FunctionMetas for OpFunction; a
//     primitive id for OpPrimitive; a scoped/local/frame variable index for
//     the VarRef/SVarRef/LVarRef/SVarAt*/LVarAt* family; and the target
//     instruction index for OpJump/OpIf/OpTry/OpExec.
type Instruction struct {
	Op      OpCode
	Operand int64
	Line    int
}
