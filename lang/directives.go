package lang

import (
	"fmt"
	"strconv"
	"strings"

	"barn/types"
)

// directivePrefix is the dedicated prefix byte directives begin with
// (spec.md §4.3).
const directivePrefix = '$'

// CompileHost is the set of collaborators the directive processor needs
// from the surrounding compile (property lookups, metadata sinks, and
// compile-time diagnostics). Implemented by the compiling server; a
// minimal implementation suffices for tests.
type CompileHost interface {
	// LookupDefs returns the _defs/ export blob for an object-spec such as
	// "#0" or "$lib_foo" (spec.md §6 "_defs/<name> entries").
	LookupDefs(objectSpec string) (blob string, ok bool)
	// WriteMetadata persists one of _version/_lib-version/_author/_docs/_note
	// on the compiling program object (spec.md §6).
	WriteMetadata(key, value string)
	// Echo reports a compile-time message to the invoking caller.
	Echo(msg string)
	// CanCall reports whether the compiling program's owner can invoke
	// the named public on the given object-spec, for $ifcancall.
	CanCall(objectSpec, name string) bool
	// LibVersion returns the M.m version string a library object
	// advertises, for $iflibver / $iflib.
	LibVersion(objectSpec string) (version string, ok bool)
}

// DirectiveProcessor sits between Expander and the intermediate builder. It
// consumes directive lines entirely (including their $enddef/$endif
// terminators) and feeds the builder only ordinary language tokens
// (spec.md §4.3).
type DirectiveProcessor struct {
	exp    *Expander
	host   CompileHost
	owner  types.ObjID
	macros *MacroTable

	CommentMode CommentMode // not written: $pragma sets the Reader's Mode field directly
	Entrypoint  string       // set by $entrypoint
	Version     string
	LibVersion  string
	Author      string

	condStack []condFrame
}

type condFrame struct {
	active  bool // this branch's tokens should be kept
	taken   bool // some branch in this chain has already been taken
	sawElse bool
}

func NewDirectiveProcessor(exp *Expander, host CompileHost, owner types.ObjID, macros *MacroTable) *DirectiveProcessor {
	return &DirectiveProcessor{exp: exp, host: host, owner: owner, macros: macros}
}

// Next returns the next non-directive token, processing and consuming any
// number of directive lines along the way.
func (p *DirectiveProcessor) Next() (Token, error) {
	for {
		tok, err := p.exp.Next()
		if err != nil {
			return Token{}, err
		}
		if tok.Kind == TokEOF {
			if len(p.condStack) > 0 {
				return Token{}, fmt.Errorf("line %d: unterminated $if block", tok.Line)
			}
			return tok, nil
		}
		if tok.Kind != TokWord || len(tok.Text) == 0 || tok.Text[0] != directivePrefix {
			if p.suppressed() {
				continue
			}
			return tok, nil
		}

		name := strings.ToLower(tok.Text[1:])
		if err := p.handle(name, tok.Line); err != nil {
			return Token{}, err
		}
	}
}

// suppressed reports whether tokens should currently be dropped because
// they are inside an inactive conditional branch.
func (p *DirectiveProcessor) suppressed() bool {
	for _, f := range p.condStack {
		if !f.active {
			return true
		}
	}
	return false
}

func (p *DirectiveProcessor) handle(name string, line int) error {
	switch name {
	case "define":
		return p.handleDefine(line)
	case "def":
		return p.handleDef(line)
	case "undef":
		return p.handleUndef(line)
	case "cleardefs":
		if !p.suppressed() {
			p.defineTable().Clear()
		}
		return nil
	case "pubdef", "libdef":
		return p.handlePubOrLibDef(line, name == "libdef")
	case "include":
		return p.handleInclude(line)
	case "ifdef", "ifndef":
		return p.handleIfdef(line, name == "ifndef")
	case "ifver", "ifnver":
		return p.handleIfCompare(line, name == "ifnver", func() (string, bool) { return p.Version, p.Version != "" })
	case "iflibver", "ifnlibver":
		return p.handleIfLibVer(line, name == "ifnlibver")
	case "iflib", "ifnlib":
		return p.handleIfLib(line, name == "ifnlib")
	case "ifcancall", "ifncancall":
		return p.handleIfCanCall(line, name == "ifncancall")
	case "else":
		return p.handleElse(line)
	case "endif":
		return p.handleEndif(line)
	case "version":
		p.Version = p.readRestOfLine()
		p.maybeWrite("_version", p.Version)
		return nil
	case "lib-version":
		p.LibVersion = p.readRestOfLine()
		p.maybeWrite("_lib-version", p.LibVersion)
		return nil
	case "author":
		p.Author = p.readRestOfLine()
		p.maybeWrite("_author", p.Author)
		return nil
	case "doccmd":
		p.maybeWrite("_docs", p.readRestOfLine())
		return nil
	case "note":
		p.maybeWrite("_note", p.readRestOfLine())
		return nil
	case "echo":
		if !p.suppressed() {
			p.host.Echo(p.readRestOfLine())
		} else {
			p.readRestOfLine()
		}
		return nil
	case "abort":
		msg := p.readRestOfLine()
		if p.suppressed() {
			return nil
		}
		return fmt.Errorf("line %d: compile aborted: %s", line, msg)
	case "pragma":
		return p.handlePragma(line)
	case "entrypoint":
		fn := p.readRestOfLine()
		if !p.suppressed() {
			p.Entrypoint = strings.TrimSpace(fn)
		}
		return nil
	case "language":
		p.readRestOfLine() // "muf" — accepted and ignored, there is only one language
		return nil
	default:
		return fmt.Errorf("line %d: unknown directive $%s", line, name)
	}
}

func (p *DirectiveProcessor) maybeWrite(key, val string) {
	if !p.suppressed() {
		p.host.WriteMetadata(key, val)
	}
}

func (p *DirectiveProcessor) defineTable() *DefineTable { return p.exp.defines }

// readRestOfLine collects raw word/string tokens until end of the current
// source line is implied by hitting the next newline-triggered token; since
// the Reader does not expose raw lines here, we collect tokens until EOF or
// until a token reports a different source line than the directive itself.
func (p *DirectiveProcessor) readRestOfLine() string {
	var parts []string
	startLine := -1
	for {
		tok, err := p.exp.reader.Next()
		if err != nil || tok.Kind == TokEOF {
			break
		}
		if startLine == -1 {
			startLine = tok.Line
		} else if tok.Line != startLine {
			p.exp.reader.PushText(tok.Text)
			break
		}
		parts = append(parts, tok.Text)
	}
	return strings.Join(parts, " ")
}

func (p *DirectiveProcessor) handleDefine(line int) error {
	nameTok, err := p.exp.reader.Next()
	if err != nil {
		return err
	}
	var textParts []string
	for {
		tok, err := p.exp.reader.Next()
		if err != nil {
			return err
		}
		if tok.Kind == TokEOF {
			return fmt.Errorf("line %d: $define %s missing $enddef", line, nameTok.Text)
		}
		if tok.Kind == TokWord && strings.EqualFold(tok.Text, "$enddef") {
			break
		}
		textParts = append(textParts, tok.Text)
	}
	if !p.suppressed() {
		p.defineTable().Set(nameTok.Text, strings.Join(textParts, " "))
	}
	return nil
}

func (p *DirectiveProcessor) handleDef(line int) error {
	nameTok, err := p.exp.reader.Next()
	if err != nil {
		return err
	}
	text := p.readRestOfLine()
	if !p.suppressed() {
		p.defineTable().Set(nameTok.Text, text)
	}
	return nil
}

func (p *DirectiveProcessor) handleUndef(line int) error {
	nameTok, err := p.exp.reader.Next()
	if err != nil {
		return err
	}
	if !p.suppressed() {
		p.defineTable().Delete(nameTok.Text)
	}
	return nil
}

func (p *DirectiveProcessor) handlePubOrLibDef(line int, lib bool) error {
	nameTok, err := p.exp.reader.Next()
	if err != nil {
		return err
	}
	text := p.readRestOfLine()
	if p.suppressed() {
		return nil
	}
	p.defineTable().Set(nameTok.Text, text)
	key := "_defs/" + nameTok.Text
	if lib {
		key = "_defs/lib_" + nameTok.Text
	}
	p.host.WriteMetadata(key, text)
	return nil
}

func (p *DirectiveProcessor) handleInclude(line int) error {
	spec := p.readRestOfLine()
	if p.suppressed() {
		return nil
	}
	blob, ok := p.host.LookupDefs(spec)
	if !ok {
		return fmt.Errorf("line %d: $include %s: no such object/defs", line, spec)
	}
	p.defineTable().LoadDefsProperty(blob)
	return nil
}

func (p *DirectiveProcessor) handleIfdef(line int, negate bool) error {
	nameTok, err := p.exp.reader.Next()
	if err != nil {
		return err
	}
	_, ok := p.defineTable().Get(nameTok.Text)
	if negate {
		ok = !ok
	}
	p.pushCond(ok)
	return nil
}

// parseCompareExpr parses "name op value" where op is one of = < >, used by
// the version/value-comparing $if* directives (spec.md §4.3).
func (p *DirectiveProcessor) parseCompareExpr() (lhs, op, rhs string) {
	rest := strings.TrimSpace(p.readRestOfLine())
	for _, candidate := range []string{"=", "<", ">"} {
		if idx := strings.Index(rest, candidate); idx >= 0 {
			return strings.TrimSpace(rest[:idx]), candidate, strings.TrimSpace(rest[idx+1:])
		}
	}
	return rest, "", ""
}

func compareValues(op, a, b string) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		switch op {
		case "=":
			return af == bf
		case "<":
			return af < bf
		case ">":
			return af > bf
		}
	}
	switch op {
	case "=":
		return a == b
	case "<":
		return a < b
	case ">":
		return a > b
	}
	return false
}

func (p *DirectiveProcessor) handleIfCompare(line int, negate bool, current func() (string, bool)) error {
	lhs, op, rhs := p.parseCompareExpr()
	var result bool
	if op == "" {
		cur, ok := current()
		_, defOk := p.defineTable().Get(lhs)
		result = ok && (defOk || cur == lhs)
	} else {
		result = compareValues(op, lhs, rhs)
	}
	if negate {
		result = !result
	}
	p.pushCond(result)
	return nil
}

func (p *DirectiveProcessor) handleIfLibVer(line int, negate bool) error {
	lhs, op, rhs := p.parseCompareExpr()
	objectSpec, name, _ := strings.Cut(lhs, " ")
	_ = name
	ver, ok := p.host.LibVersion(objectSpec)
	result := ok && op != "" && compareValues(op, ver, rhs)
	if negate {
		result = !result
	}
	p.pushCond(result)
	return nil
}

func (p *DirectiveProcessor) handleIfLib(line int, negate bool) error {
	spec := strings.TrimSpace(p.readRestOfLine())
	_, ok := p.host.LibVersion(spec)
	if negate {
		ok = !ok
	}
	p.pushCond(ok)
	return nil
}

func (p *DirectiveProcessor) handleIfCanCall(line int, negate bool) error {
	rest := strings.TrimSpace(p.readRestOfLine())
	objectSpec, name, _ := strings.Cut(rest, " ")
	ok := p.host.CanCall(objectSpec, strings.TrimSpace(name))
	if negate {
		ok = !ok
	}
	p.pushCond(ok)
	return nil
}

func (p *DirectiveProcessor) pushCond(active bool) {
	parentActive := !p.suppressed()
	p.condStack = append(p.condStack, condFrame{active: active && parentActive, taken: active && parentActive})
}

func (p *DirectiveProcessor) handleElse(line int) error {
	if len(p.condStack) == 0 {
		return fmt.Errorf("line %d: $else without matching $if*", line)
	}
	top := &p.condStack[len(p.condStack)-1]
	if top.sawElse {
		return fmt.Errorf("line %d: duplicate $else", line)
	}
	top.sawElse = true
	parentActive := true
	if len(p.condStack) > 1 {
		for _, f := range p.condStack[:len(p.condStack)-1] {
			if !f.active {
				parentActive = false
			}
		}
	}
	top.active = parentActive && !top.taken
	if top.active {
		top.taken = true
	}
	return nil
}

func (p *DirectiveProcessor) handleEndif(line int) error {
	if len(p.condStack) == 0 {
		return fmt.Errorf("line %d: $endif without matching $if*", line)
	}
	p.condStack = p.condStack[:len(p.condStack)-1]
	return nil
}

func (p *DirectiveProcessor) handlePragma(line int) error {
	word := strings.ToLower(strings.TrimSpace(p.readRestOfLine()))
	if p.suppressed() {
		return nil
	}
	switch word {
	case "comment_strict":
		p.exp.reader.Mode = CommentStrict
	case "comment_recurse":
		p.exp.reader.Mode = CommentRecurse
	case "comment_loose":
		p.exp.reader.Mode = CommentLoose
	default:
		return fmt.Errorf("line %d: unknown $pragma %q", line, word)
	}
	return nil
}
