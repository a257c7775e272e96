package lang

import (
	"fmt"
	"strings"
)

// CommentMode selects how the reader parses `( ... )` comments (spec.md §4.1).
type CommentMode int

const (
	CommentLoose   CommentMode = iota // default: try recursive, fall back to flat
	CommentStrict                     // flat only: scan to first ')' even across lines
	CommentRecurse                    // balanced parens, max depth 7
)

const maxCommentDepth = 7

// escapeByte suppresses macro/define expansion for the token it prefixes
// (spec.md §4.2). macroPrefixByte routes a token to the persisted macro
// table instead of the per-compile define hash (spec.md §4.2); ordinary
// $define lookups need no prefix, so a distinct marker is required to tell
// the two expansion sources apart (see DESIGN.md).
const (
	escapeByte      = '\\'
	macroPrefixByte = '.'
)

// Reader produces a stream of raw tokens from source lines, handling
// strings, old-style and recursive comments, and line advancement
// (spec.md §4.1). It does not know about macros, defines, or directives —
// those compose on top of it (spec.md §9 "Preprocessor as a layer").
type Reader struct {
	lines  []string
	lineNo int    // 1-based line number of the text currently in buffer
	buffer string // unconsumed text of the current logical line

	Mode     CommentMode
	Warnings []string
}

// NewReader creates a reader over already-split source lines.
func NewReader(lines []string) *Reader {
	r := &Reader{lines: lines, lineNo: 0}
	r.pullLine()
	return r
}

// pullLine advances to the next physical source line, if any are left.
// Returns false once the source is exhausted.
func (r *Reader) pullLine() bool {
	if r.lineNo >= len(r.lines) {
		r.buffer = ""
		return false
	}
	r.buffer = r.lines[r.lineNo]
	r.lineNo++
	return true
}

// AtEOF reports whether the reader has no more buffered or source text.
func (r *Reader) AtEOF() bool {
	return strings.TrimSpace(r.buffer) == "" && r.lineNo >= len(r.lines)
}

// Line returns the 1-based line number the reader is currently positioned at.
func (r *Reader) Line() int {
	if r.lineNo == 0 {
		return 1
	}
	return r.lineNo
}

// PushText prepends text to the unconsumed buffer — used by macro/define
// expansion to splice expanded text back into the token stream
// (spec.md §4.2: "its text is prepended to the remaining input buffer and
// tokenization continues").
func (r *Reader) PushText(text string) {
	if strings.TrimSpace(r.buffer) == "" {
		r.buffer = text
	} else {
		r.buffer = text + " " + r.buffer
	}
}

// Next returns the next raw token, or a TokEOF token once input is
// exhausted. Whitespace advances past; an empty line advances to the next
// line by recursing to fetch the next real token (spec.md §4.1).
func (r *Reader) Next() (Token, error) {
	for {
		r.buffer = strings.TrimLeft(r.buffer, " \t\r")
		if r.buffer == "" {
			if !r.pullLine() {
				return Token{Kind: TokEOF, Line: r.Line()}, nil
			}
			continue
		}

		ch := r.buffer[0]
		switch {
		case ch == '(':
			if err := r.skipComment(); err != nil {
				return Token{}, err
			}
			continue
		case ch == '"':
			return r.readString()
		default:
			return r.readWord()
		}
	}
}

func (r *Reader) readWord() (Token, error) {
	line := r.Line()
	i := 0
	for i < len(r.buffer) {
		c := r.buffer[i]
		if c == ' ' || c == '\t' || c == '\r' {
			break
		}
		i++
	}
	text := r.buffer[:i]
	r.buffer = r.buffer[i:]
	return Token{Kind: TokWord, Text: text, Line: line}, nil
}

// readString consumes a `"`-delimited string on the current logical line.
// Recognizes \", \\, \r, and \[ (the last produces a literal escape byte
// consumed downstream by the terminal/output layer — an out-of-scope
// collaborator here, so it is passed through unchanged).
func (r *Reader) readString() (Token, error) {
	line := r.Line()
	var sb strings.Builder
	i := 1 // skip opening quote
	for {
		if i >= len(r.buffer) {
			return Token{}, fmt.Errorf("unterminated string at line %d", line)
		}
		c := r.buffer[i]
		if c == '"' {
			i++
			break
		}
		if c == '\\' && i+1 < len(r.buffer) {
			switch r.buffer[i+1] {
			case '"':
				sb.WriteByte('"')
				i += 2
				continue
			case '\\':
				sb.WriteByte('\\')
				i += 2
				continue
			case 'r':
				sb.WriteByte('\r')
				i += 2
				continue
			case '[':
				sb.WriteByte(0x1b) // escape byte used by the terminal layer
				i += 2
				continue
			}
		}
		sb.WriteByte(c)
		i++
	}
	r.buffer = r.buffer[i:]
	return Token{Kind: TokString, Text: sb.String(), Line: line}, nil
}

// skipComment dispatches to the flat or recursive comment parser according
// to Mode, implementing the "loose" retry sequence spec.md §9 calls out as
// an inherited, subtle behavior to preserve exactly: try recursive first,
// and on failure restore the pre-comment cursor and retry flat.
func (r *Reader) skipComment() error {
	switch r.Mode {
	case CommentStrict:
		return r.skipFlat()
	case CommentRecurse:
		return r.skipRecursive()
	default:
		savedLineNo, savedBuffer := r.lineNo, r.buffer
		if err := r.skipRecursive(); err != nil {
			r.lineNo, r.buffer = savedLineNo, savedBuffer
			if ferr := r.skipFlat(); ferr != nil {
				return ferr
			}
			r.warnIfTailLooksUnterminated()
			return nil
		}
		r.warnIfTailLooksUnterminated()
		return nil
	}
}

// skipFlat scans to the first ')' even across lines (spec.md §4.1 mode 1).
func (r *Reader) skipFlat() error {
	startLine := r.Line()
	r.buffer = r.buffer[1:] // consume '('
	for {
		idx := strings.IndexByte(r.buffer, ')')
		if idx >= 0 {
			r.buffer = r.buffer[idx+1:]
			return nil
		}
		if !r.pullLine() {
			return fmt.Errorf("unterminated comment starting at line %d", startLine)
		}
	}
}

// skipRecursive balances nested parens up to maxCommentDepth (spec.md §4.1
// mode 2). Depth 7 compiles; depth 8 fails (spec.md §8 boundary behavior).
func (r *Reader) skipRecursive() error {
	startLine := r.Line()
	depth := 0
	r.buffer = r.buffer[1:] // consume opening '('
	depth++
	for {
		for r.buffer == "" {
			if !r.pullLine() {
				return fmt.Errorf("unterminated comment starting at line %d", startLine)
			}
		}
		c := r.buffer[0]
		r.buffer = r.buffer[1:]
		switch c {
		case '(':
			depth++
			if depth > maxCommentDepth {
				return fmt.Errorf("comments nested too deep")
			}
		case ')':
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

// warnIfTailLooksUnterminated is the heuristic spec.md §4.1 describes: after
// a comment closes, warn if the remainder of the current line contains an
// odd number of unescaped quotes (a likely sign the comment swallowed what
// the author meant as a string delimiter, or vice versa).
func (r *Reader) warnIfTailLooksUnterminated() {
	quotes := 0
	escaped := false
	for i := 0; i < len(r.buffer); i++ {
		c := r.buffer[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			quotes++
		}
	}
	if quotes%2 != 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"line %d: unterminated string after comment close (mismatched quote count)", r.Line()))
	}
}
