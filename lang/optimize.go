package lang

import "fmt"

// maxOptimizerPasses bounds the peephole optimizer; it stops early once a
// pass removes nothing (spec.md §4.5).
const maxOptimizerPasses = 5

// Optimizer runs the peephole rewrite table of spec.md §4.5 over the
// builder's intermediate list. It operates on a flat slice view of the
// linked list for ease of windowed matching, then re-links Next pointers
// before returning.
type Optimizer struct {
	Warnings []string

	lastPassRemoved int
}

func NewOptimizer() *Optimizer { return &Optimizer{} }

// Run rewrites head in place (conceptually) and returns the new head. Every
// surviving node keeps its original pointer identity so refTarget links set
// up by the builder remain valid after rewriting.
func (o *Optimizer) Run(head *Instr) *Instr {
	nodes := toSlice(head)
	markReferenced(nodes)

	for pass := 0; pass < maxOptimizerPasses; pass++ {
		var changed bool
		nodes, changed = o.onePass(nodes)
		if !changed {
			break
		}
		markReferenced(nodes)
	}
	newHead := fromSlice(nodes)
	elideRedundantStores(newHead)
	return newHead
}

func toSlice(head *Instr) []*Instr {
	var out []*Instr
	for n := head; n != nil; n = n.Next {
		out = append(out, n)
	}
	return out
}

func fromSlice(nodes []*Instr) *Instr {
	for i, n := range nodes {
		if i+1 < len(nodes) {
			n.Next = nodes[i+1]
		} else {
			n.Next = nil
		}
	}
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// markReferenced sets Referenced on every instruction that is some other
// instruction's branch/address target (spec.md §4.5 pre-pass).
func markReferenced(nodes []*Instr) {
	for _, n := range nodes {
		if n.refTarget != nil {
			n.refTarget.Referenced = true
		}
	}
}

func isPrim(n *Instr, name string) bool {
	return n != nil && n.Kind == IKPrimitive && n.StrVal == name
}

func isIntVal(n *Instr, v int64) bool {
	return n != nil && n.Kind == IKInt && n.IntVal == v
}

func isAnyInt(n *Instr) bool { return n != nil && n.Kind == IKInt }

// windowSafe reports whether nodes[start+1 : start+length] contains no
// branch targets and no function/try boundary — the contiguity guard
// spec.md §4.5 requires before any rewrite collapses a window.
func windowSafe(nodes []*Instr, start, length int) bool {
	if start+length > len(nodes) {
		return false
	}
	for i := start + 1; i < start+length; i++ {
		n := nodes[i]
		if n.Referenced || n.Kind == IKFunction || n.Kind == IKTry || n.Kind == IKReturn {
			return false
		}
	}
	return true
}

type rewrite struct {
	replacement []*Instr
	consumed    int
}

func (o *Optimizer) onePass(nodes []*Instr) ([]*Instr, bool) {
	var out []*Instr
	removedAny := false
	i := 0
	for i < len(nodes) {
		if rw, ok := o.matchAt(nodes, i); ok {
			out = append(out, rw.replacement...)
			if rw.consumed != len(rw.replacement) {
				removedAny = true
			}
			i += rw.consumed
			continue
		}
		out = append(out, nodes[i])
		i++
	}
	if removedAny {
		o.lastPassRemoved = 1
	} else {
		o.lastPassRemoved = 0
	}
	return out, removedAny
}

// matchAt returns the first peephole rewrite that applies at nodes[i], if
// any.
func (o *Optimizer) matchAt(nodes []*Instr, i int) (rewrite, bool) {
	n := nodes[i]

	// me @ swap notify -> tell
	if n.Kind == IKVarRef && n.IntVal == varME && windowSafe(nodes, i, 4) &&
		isPrim(at(nodes, i+1), "@") && isPrim(at(nodes, i+2), "swap") && isPrim(at(nodes, i+3), "notify") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "tell", Line: n.Line}}, 4}, true
	}
	// me @ <str> notify -> <str> tell
	if n.Kind == IKVarRef && n.IntVal == varME && windowSafe(nodes, i, 4) &&
		isPrim(at(nodes, i+1), "@") && at(nodes, i+2) != nil && at(nodes, i+2).Kind == IKString && isPrim(at(nodes, i+3), "notify") {
		str := at(nodes, i+2)
		return rewrite{[]*Instr{
			{Kind: IKString, StrVal: str.StrVal, Line: n.Line},
			{Kind: IKPrimitive, StrVal: "tell", Line: n.Line},
		}, 4}, true
	}
	// <svar> @ / <svar> !  and  <lvar> @ / <lvar> !
	if (n.Kind == IKSVarRef || n.Kind == IKLVarRef) && windowSafe(nodes, i, 2) {
		next := at(nodes, i+1)
		if isPrim(next, "@") {
			kind := IKSVarAt
			if n.Kind == IKLVarRef {
				kind = IKLVarAt
			}
			return rewrite{[]*Instr{{Kind: kind, IntVal: n.IntVal, Line: n.Line}}, 2}, true
		}
		if isPrim(next, "!") {
			kind := IKSVarBang
			if n.Kind == IKLVarRef {
				kind = IKLVarBang
			}
			return rewrite{[]*Instr{{Kind: kind, IntVal: n.IntVal, Line: n.Line}}, 2}, true
		}
	}
	// "" strcmp 0 = -> not
	if n.Kind == IKString && n.StrVal == "" && windowSafe(nodes, i, 4) &&
		isPrim(at(nodes, i+1), "strcmp") && isIntVal(at(nodes, i+2), 0) && isPrim(at(nodes, i+3), "=") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "not", Line: n.Line}}, 4}, true
	}
	// constant-fold int int +/-/*//%
	if n.Kind == IKInt && windowSafe(nodes, i, 3) && at(nodes, i+1) != nil && at(nodes, i+1).Kind == IKInt {
		op := at(nodes, i+2)
		if op != nil && op.Kind == IKPrimitive {
			if folded, ok := o.foldArith(n.IntVal, at(nodes, i+1).IntVal, op.StrVal, n.Line); ok {
				return rewrite{[]*Instr{{Kind: IKInt, IntVal: folded, Line: n.Line}}, 3}, true
			}
		}
	}
	// 0 = -> not
	if isIntVal(n, 0) && windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "=") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "not", Line: n.Line}}, 2}, true
	}
	// 1 + -> ++ ; 1 - -> --
	if isIntVal(n, 1) && windowSafe(nodes, i, 2) {
		if isPrim(at(nodes, i+1), "+") {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "++", Line: n.Line}}, 2}, true
		}
		if isPrim(at(nodes, i+1), "-") {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "--", Line: n.Line}}, 2}, true
		}
	}
	// 1 pick -> dup ; 2 pick -> over
	if windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "pick") {
		if isIntVal(n, 1) {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "dup", Line: n.Line}}, 2}, true
		}
		if isIntVal(n, 2) {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "over", Line: n.Line}}, 2}, true
		}
	}
	// rotate family
	if isAnyInt(n) && windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "rotate") {
		switch n.IntVal {
		case 3:
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "rot", Line: n.Line}}, 2}, true
		case -3:
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "-rot", Line: n.Line}}, 2}, true
		case 2, -2:
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "swap", Line: n.Line}}, 2}, true
		case -1, 0, 1:
			return rewrite{nil, 2}, true
		}
	}
	// rot rot -> -rot ; -rot -rot -> rot ; rot rot swap -> swap rot
	if isPrim(n, "rot") && windowSafe(nodes, i, 3) && isPrim(at(nodes, i+1), "rot") && isPrim(at(nodes, i+2), "swap") {
		return rewrite{[]*Instr{
			{Kind: IKPrimitive, StrVal: "swap", Line: n.Line},
			{Kind: IKPrimitive, StrVal: "rot", Line: n.Line},
		}, 3}, true
	}
	if isPrim(n, "rot") && windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "rot") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "-rot", Line: n.Line}}, 2}, true
	}
	if isPrim(n, "-rot") && windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "-rot") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "rot", Line: n.Line}}, 2}, true
	}
	// swap pop -> nip ; swap over -> tuck
	if isPrim(n, "swap") && windowSafe(nodes, i, 2) {
		if isPrim(at(nodes, i+1), "pop") {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "nip", Line: n.Line}}, 2}, true
		}
		if isPrim(at(nodes, i+1), "over") {
			return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "tuck", Line: n.Line}}, 2}, true
		}
	}
	// not not if -> if
	if isPrim(n, "not") && windowSafe(nodes, i, 3) && isPrim(at(nodes, i+1), "not") && at(nodes, i+2) != nil && at(nodes, i+2).Kind == IKIf {
		target := at(nodes, i+2)
		return rewrite{[]*Instr{{Kind: IKIf, Line: n.Line, refTarget: target.refTarget}}, 3}, true
	}
	// = not -> !=
	if isPrim(n, "=") && windowSafe(nodes, i, 2) && isPrim(at(nodes, i+1), "not") {
		return rewrite{[]*Instr{{Kind: IKPrimitive, StrVal: "!=", Line: n.Line}}, 2}, true
	}

	return rewrite{}, false
}

func at(nodes []*Instr, i int) *Instr {
	if i < 0 || i >= len(nodes) {
		return nil
	}
	return nodes[i]
}

// foldArith constant-folds int op int for +, -, *, /, %, guarding against
// divide/modulo by zero and the INT_MIN / -1 overflow case (spec.md §4.5);
// both emit a warning and decline to fold so the runtime raises the error
// the program's author would otherwise have seen at compile time.
func (o *Optimizer) foldArith(a, b int64, op string, line int) (int64, bool) {
	const int32Min = -(1 << 31)
	switch op {
	case "+":
		return a + b, true
	case "-":
		return a - b, true
	case "*":
		return a * b, true
	case "/":
		if b == 0 {
			o.warn(line, "constant division by zero left unfolded")
			return 0, false
		}
		if a == int32Min && b == -1 {
			o.warn(line, "constant division overflow (INT_MIN / -1) left unfolded")
			return 0, false
		}
		return a / b, true
	case "%":
		if b == 0 {
			o.warn(line, "constant modulo by zero left unfolded")
			return 0, false
		}
		return a % b, true
	}
	return 0, false
}

func (o *Optimizer) warn(line int, msg string) {
	o.Warnings = append(o.Warnings, fmt.Sprintf("line %d: %s", line, msg))
}

// elideRedundantStores implements the SVarAtClear/LVarAtClear rewrite
// (spec.md §4.5): if a read is followed, along the straight-line successor
// chain and before any re-read/re-write of the same slot, by a store of
// the same variable, with no intervening function boundary, exec, call,
// unconditional jump, or branch leaving the region, the read is rewritten
// to the clearing variant. This walks only the linear Next chain rather
// than a full control-flow graph — a deliberate simplification recorded in
// DESIGN.md — so it fires on the common straight-line case the rewrite
// table targets and conservatively declines on anything branchier.
func elideRedundantStores(head *Instr) {
	for n := head; n != nil; n = n.Next {
		var atKind, clearKind, bangKind InstrKind
		switch n.Kind {
		case IKSVarAt:
			atKind, clearKind, bangKind = IKSVarAt, IKSVarAtClear, IKSVarBang
		case IKLVarAt:
			atKind, clearKind, bangKind = IKLVarAt, IKLVarAtClear, IKLVarBang
		default:
			continue
		}
		_ = atKind
		for m := n.Next; m != nil; m = m.Next {
			if m.Referenced {
				break // a branch can enter here from elsewhere; can't prove no re-read happened first
			}
			switch m.Kind {
			case IKFunction, IKExec, IKReturn, IKJump, IKIf, IKTry:
				m = nil // stop scanning this chain
			}
			if m == nil {
				break
			}
			if m.Kind == bangKind && m.IntVal == n.IntVal {
				n.Kind = clearKind
				break
			}
			if (m.Kind == atKind || m.Kind == bangKind) && m.IntVal == n.IntVal {
				break // re-read or re-write of the same slot first: not eligible
			}
		}
	}
}
