// Package lang implements the compile-time half of the system: the token
// reader, macro/define expansion, the compile-time directive processor, the
// intermediate instruction builder, the peephole optimizer, and the
// bytecode packer (spec.md §4.1-4.6). It hands a fully packed *vm.Program
// to the runtime half in package vm.
package lang

// TokenKind classifies a raw token returned by the Reader, before any
// macro/define expansion or keyword classification (spec.md §4.1).
type TokenKind int

const (
	TokWord   TokenKind = iota // unquoted, whitespace-delimited
	TokString                  // opened/closed by unescaped '"'
	TokEOF
)

// Token is one lexical unit. Line is 1-based and refers to the *source*
// line the token's first character came from — even when the token arrived
// via macro or $define expansion, Line is the line of the invoking word, so
// diagnostics point at the program text an author actually wrote.
type Token struct {
	Kind TokenKind
	Text string
	Line int
}

func (t Token) String() string {
	switch t.Kind {
	case TokEOF:
		return "<eof>"
	case TokString:
		return `"` + t.Text + `"`
	default:
		return t.Text
	}
}
