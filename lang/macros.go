package lang

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"barn/types"
)

// maxSubstitutionsPerLine caps macro/define expansion to stop a self- or
// mutually-referential definition from looping forever (spec.md §4.2).
const maxSubstitutionsPerLine = 2000

// Macro is one persisted macro-table entry (spec.md §3 "Macro table").
type Macro struct {
	Name           string
	DefinitionText string
	Author         types.ObjID
}

// MacroTable is the case-insensitive, persisted macro table. Entries are
// held in a map; SaveTo sorts them by name to reproduce the canonical
// alphabetical dump spec.md §6 describes.
type MacroTable struct {
	entries map[string]*Macro
}

func NewMacroTable() *MacroTable {
	return &MacroTable{entries: make(map[string]*Macro)}
}

func macroKey(name string) string { return strings.ToLower(name) }

func (t *MacroTable) Set(name, definition string, author types.ObjID) {
	t.entries[macroKey(name)] = &Macro{Name: name, DefinitionText: definition, Author: author}
}

func (t *MacroTable) Get(name string) (*Macro, bool) {
	m, ok := t.entries[macroKey(name)]
	return m, ok
}

func (t *MacroTable) Delete(name string) {
	delete(t.entries, macroKey(name))
}

// LoadFrom reads the three-line-per-record persisted macro file format:
// line 1 name, line 2 definition, line 3 implementor dbref with no prefix
// character (spec.md §6).
func (t *MacroTable) LoadFrom(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		name, ok := nextLine(sc)
		if !ok {
			return nil
		}
		def, ok := nextLine(sc)
		if !ok {
			return fmt.Errorf("macro file: missing definition line for %q", name)
		}
		ownerLine, ok := nextLine(sc)
		if !ok {
			return fmt.Errorf("macro file: missing owner line for %q", name)
		}
		var owner int64
		if _, err := fmt.Sscanf(ownerLine, "%d", &owner); err != nil {
			return fmt.Errorf("macro file: bad owner dbref %q for %q: %w", ownerLine, name, err)
		}
		t.Set(name, def, types.ObjID(owner))
	}
}

func nextLine(sc *bufio.Scanner) (string, bool) {
	if !sc.Scan() {
		return "", false
	}
	return sc.Text(), true
}

// SaveTo writes the persisted macro file format, alphabetical by name.
func (t *MacroTable) SaveTo(w io.Writer) error {
	names := make([]string, 0, len(t.entries))
	for _, m := range t.entries {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := t.entries[macroKey(name)]
		if _, err := fmt.Fprintf(w, "%s\n%s\n%d\n", m.Name, m.DefinitionText, int64(m.Author)); err != nil {
			return err
		}
	}
	return nil
}

// DefineTable is the per-compile hash of $define names to substitution
// text (spec.md §3 "Define table (per compile)"). Seeded from built-ins
// plus _defs/ property entries from object #0 and the compiling program's
// owner (spec.md §6).
type DefineTable struct {
	values map[string]string
}

func NewDefineTable() *DefineTable {
	return &DefineTable{values: make(map[string]string)}
}

func (d *DefineTable) Set(name, text string) { d.values[name] = text }

func (d *DefineTable) Get(name string) (string, bool) {
	v, ok := d.values[name]
	return v, ok
}

func (d *DefineTable) Delete(name string) { delete(d.values, name) }

func (d *DefineTable) Clear() { d.values = make(map[string]string) }

// Names returns all currently defined names, for $ifdef-style introspection
// and for exporting _defs/ properties.
func (d *DefineTable) Names() []string {
	out := make([]string, 0, len(d.values))
	for k := range d.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadDefsProperty parses a `_defs/<name>` style property blob: one
// "name text..." pair per line, as written by $pubdef/$libdef (spec.md
// §4.3, §6).
func (d *DefineTable) LoadDefsProperty(blob string) {
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		text := ""
		if len(parts) == 2 {
			text = parts[1]
		}
		d.Set(parts[0], text)
	}
}

// Expander wraps a Reader and performs macro/define expansion and directive
// recognition ahead of token consumption by the builder (spec.md §4.2).
// Directives themselves are handled by DirectiveProcessor, which sits
// between Expander and Builder.
type Expander struct {
	reader  *Reader
	defines *DefineTable
	macros  *MacroTable

	substCount int
	substLine  int
}

func NewExpander(reader *Reader, defines *DefineTable, macros *MacroTable) *Expander {
	return &Expander{reader: reader, defines: defines, macros: macros}
}

// Next returns the next token with macro/define expansion applied
// (spec.md §4.2): an escape-byte-prefixed token is emitted verbatim with
// the byte stripped; a macro-prefix-byte-prefixed token is looked up in
// the macro table; otherwise the token is looked up in the define table.
// A found substitution is spliced back into the reader's buffer and
// tokenization continues, bounded by maxSubstitutionsPerLine.
func (e *Expander) Next() (Token, error) {
	for {
		tok, err := e.reader.Next()
		if err != nil {
			return Token{}, err
		}
		if tok.Kind != TokWord || tok.Text == "" {
			e.resetSubstCounter(tok.Line)
			return tok, nil
		}

		if tok.Text[0] == escapeByte {
			tok.Text = tok.Text[1:]
			e.resetSubstCounter(tok.Line)
			return tok, nil
		}

		var (
			text  string
			found bool
		)
		if tok.Text[0] == macroPrefixByte {
			if m, ok := e.macros.Get(tok.Text[1:]); ok {
				text, found = m.DefinitionText, true
			}
		} else if d, ok := e.defines.Get(tok.Text); ok {
			text, found = d, true
		}

		if !found {
			e.resetSubstCounter(tok.Line)
			return tok, nil
		}

		if tok.Line != e.substLine {
			e.substLine = tok.Line
			e.substCount = 0
		}
		e.substCount++
		if e.substCount > maxSubstitutionsPerLine {
			return Token{}, fmt.Errorf("line %d: too many macro substitutions (possible recursive define)", tok.Line)
		}
		e.reader.PushText(text)
	}
}

func (e *Expander) resetSubstCounter(line int) {
	if line != e.substLine {
		e.substLine = line
		e.substCount = 0
	}
}

// Warnings exposes the underlying reader's accumulated warnings (e.g.
// mis-closed comment heuristics).
func (e *Expander) Warnings() []string { return e.reader.Warnings }
