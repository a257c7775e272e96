package mcp

import "strings"

// Lexical helpers for the MCP wire grammar (spec.md §4.12):
//
//	Identifier:    [A-Za-z_][A-Za-z0-9_-]*
//	Unquoted value: one or more printable non-space chars excluding * : \ "
//	Quoted value:   " ... " with \ as escape
//
// Grounded on mcp_intern_is_ident / mcp_intern_is_simplechar /
// mcp_intern_is_unquoted / mcp_intern_is_quoted in the original source.
// Each scanner takes the remaining input and returns (token, rest, ok).

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}

func scanIdent(in string) (tok, rest string, ok bool) {
	if len(in) == 0 || !isIdentStart(in[0]) {
		return "", in, false
	}
	i := 1
	for i < len(in) && isIdentCont(in[i]) {
		i++
	}
	return in[:i], in[i:], true
}

// isSimpleChar matches the original's mcp_intern_is_simplechar: printable,
// not space, and not one of * : \ ".
func isSimpleChar(c byte) bool {
	switch c {
	case '*', ':', '\\', '"', ' ':
		return false
	}
	return c > 0x20 && c < 0x7f
}

func scanUnquoted(in string) (tok, rest string, ok bool) {
	if len(in) == 0 || !isSimpleChar(in[0]) {
		return "", in, false
	}
	i := 0
	for i < len(in) && isSimpleChar(in[i]) {
		i++
	}
	return in[:i], in[i:], true
}

// scanQuoted parses a double-quoted string with backslash escaping,
// returning the unescaped value.
func scanQuoted(in string) (tok, rest string, ok bool) {
	if len(in) == 0 || in[0] != '"' {
		return "", in, false
	}
	var b strings.Builder
	i := 1
	for i < len(in) {
		c := in[i]
		if c == '\\' {
			i++
			if i < len(in) {
				b.WriteByte(in[i])
				i++
			}
			continue
		}
		if c == '"' {
			return b.String(), in[i+1:], true
		}
		b.WriteByte(c)
		i++
	}
	// no terminal quote
	return "", in, false
}

func skipSpaces(in string) string {
	i := 0
	for i < len(in) && in[i] == ' ' {
		i++
	}
	return in[i:]
}

// scanKeyVal parses one " key[*]: value" pair off the front of in
// (spec.md §4.12 "whitespace, identifier, optional `*` marker ..., `:`,
// whitespace, unquoted-or-quoted value"). Grounded on
// mcp_intern_is_keyval.
func scanKeyVal(in string) (name, value string, deferred, ok bool, rest string) {
	orig := in
	if len(in) == 0 || in[0] != ' ' {
		return "", "", false, false, orig
	}
	in = skipSpaces(in)

	name, in, ok = scanIdent(in)
	if !ok {
		return "", "", false, false, orig
	}

	if len(in) > 0 && in[0] == '*' {
		deferred = true
		in = in[1:]
	}

	if len(in) == 0 || in[0] != ':' {
		return "", "", false, false, orig
	}
	in = in[1:]
	in = skipSpaces(in)

	if deferred {
		// Deferred args still carry a placeholder value on the wire
		// (the original's MCP_ARG_EMPTY, `""`) that we simply discard.
		if _, r, k := scanQuoted(in); k {
			return name, "", true, true, r
		}
		if _, r, k := scanUnquoted(in); k {
			return name, "", true, true, r
		}
		return "", "", false, false, orig
	}

	if tok, r, k := scanUnquoted(in); k {
		return name, tok, false, true, r
	}
	if tok, r, k := scanQuoted(in); k {
		return name, tok, false, true, r
	}
	return "", "", false, false, orig
}
