package vm

import (
	"time"

	"barn/types"
)

// PublicEntry is one entry of Program.Publics (spec.md §3 "publics is an
// ordered list of {name, entry_index, minimum_permission_level}").
type PublicEntry struct {
	Name          string
	EntryIndex    int
	MinPermission types.PermissionLevel
}

// MCPBinding associates a program with an MCP package it has registered a
// callback for (spec.md §4.12 "negotiated packages").
type MCPBinding struct {
	Package    string
	MinVersion string
	MaxVersion string
}

// FunctionMetaEntry is the packed form of a function-entry instruction's
// metadata (spec.md §3 FunctionMeta value variant).
type FunctionMetaEntry struct {
	Name      string
	TotalVars int
	ArgCount  int
	VarNames  []string
}

// Program is a fully packed, index-addressable compiled program (spec.md §3
// "Program"). Instructions are addressed by integer position rather than
// byte offset, matching the index-valued Address/Jump/Try/Exec/publics
// payloads the spec defines.
type Program struct {
	DBRef        types.ObjID
	SourceLines  []string
	Instructions []Instruction
	StartIndex   int
	Publics      []PublicEntry
	MCPBindings  []MCPBinding

	// InstanceCount is the number of live Address values and active
	// caller-chain entries pinning this program resident (spec.md §4.7,
	// §4.13). Accessed only from the single scheduler goroutine.
	InstanceCount int
	ProfileTime   time.Duration
	UseCount      int64
	ErrorCount    int64
	LastCrash     string
	LastUsedAt    time.Time
	Autostart     bool
	Internal      bool

	// FirstLineCache maps a source line number to the index of the first
	// instruction generated from it, for fast breakpoint-by-line lookup
	// (spec.md §3 "first_line_cache").
	FirstLineCache map[int]int

	Constants     []types.Value
	VarNames      []string // local (LVAR) variable names, by index
	Addresses     []*types.AddressCell
	FunctionMetas []FunctionMetaEntry
	NumLocals     int
}

// LineForIP returns the source line number for a given instruction index.
func (p *Program) LineForIP(ip int) int {
	if ip < 0 || ip >= len(p.Instructions) {
		return 0
	}
	return p.Instructions[ip].Line
}

// ExtractForkBody creates a new sub-program from an instruction range
// within an existing program (spec.md §4.10). The sub-program shares
// constants, addresses, function metadata, and variable names but has its
// own instruction slice, terminated by an implicit Return.
func (p *Program) ExtractForkBody(bodyIndex, bodyLen int) *Program {
	instrs := make([]Instruction, bodyLen+1)
	copy(instrs, p.Instructions[bodyIndex:bodyIndex+bodyLen])
	instrs[bodyLen] = Instruction{Op: OpReturn}

	return &Program{
		DBRef:         p.DBRef,
		SourceLines:   p.SourceLines,
		Instructions:  instrs,
		StartIndex:    0,
		Constants:     p.Constants,
		VarNames:      p.VarNames,
		Addresses:     p.Addresses,
		FunctionMetas: p.FunctionMetas,
		NumLocals:     p.NumLocals,
	}
}

// LookupPublic finds a public entry by case-sensitive name (spec.md §6
// "Public function table").
func (p *Program) LookupPublic(name string) (PublicEntry, bool) {
	for _, pub := range p.Publics {
		if pub.Name == name {
			return pub, true
		}
	}
	return PublicEntry{}, false
}
