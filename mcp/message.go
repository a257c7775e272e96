package mcp

import "strings"

// Arg is one key/value pair of a Message. A multi-line argument value is
// represented as multiple Parts (spec.md §6 "argument values containing
// newlines are split on newline boundaries into separate continuation
// lines"); Deferred marks an argument whose value hasn't arrived yet
// (the `*` marker on a key-value pair, spec.md §4.12's "optional `*`
// marker (defer as multi-line)").
type Arg struct {
	Name     string
	Parts    []string
	Deferred bool
}

// Value joins an argument's parts with newlines, mirroring how a
// multi-line value is presented to a package callback as a single string.
func (a Arg) Value() string {
	return strings.Join(a.Parts, "\n")
}

// Message is one MCP message, in flight or fully assembled (spec.md
// §4.12 "a per-connection frame carries ... a list of in-progress
// multi-line messages"). Package/Name split the wire name the way the
// original does: everything up to the longest matching registered
// package name (or "mcp"/"mcp-negotiate") is Package, the rest — after a
// stripped leading '-' — is Name.
type Message struct {
	Package string
	Name    string
	Args    []Arg

	// DataTag identifies a multi-line message across its continuation
	// lines (spec.md §4.12 "enqueued as incomplete with a server-generated
	// data-tag").
	DataTag string

	// Incomplete is true while the message still has deferred arguments
	// awaiting continuation lines.
	Incomplete bool
}

// NewMessage creates an empty message for the given package/subname.
func NewMessage(pkg, name string) *Message {
	return &Message{Package: pkg, Name: name}
}

// WireName is the dash-joined name used on the wire and in callback
// dispatch (e.g. "mcp-negotiate-can").
func (m *Message) WireName() string {
	if m.Name == "" {
		return m.Package
	}
	return m.Package + "-" + m.Name
}

// Arg looks up an argument's first value by name.
func (m *Message) Arg(name string) (string, bool) {
	for _, a := range m.Args {
		if a.Name == name {
			return a.Value(), true
		}
	}
	return "", false
}

// AppendArg adds a part to the named argument, creating it if absent
// (spec.md §4.12 continuation lines: "#$#* <data-tag> key: val").
func (m *Message) AppendArg(name, value string) {
	for i := range m.Args {
		if m.Args[i].Name == name {
			m.Args[i].Parts = append(m.Args[i].Parts, value)
			return
		}
	}
	m.Args = append(m.Args, Arg{Name: name, Parts: []string{value}})
}

// SetDeferred records that name's value will arrive via continuation
// lines, matching the original's "defer as multi-line" `*` marker.
func (m *Message) SetDeferred(name string) {
	m.Args = append(m.Args, Arg{Name: name, Deferred: true})
	m.Incomplete = true
}

// RemoveArg deletes an argument entirely (used to drop the synthetic
// `_data-tag` argument once it's been consumed into m.DataTag).
func (m *Message) RemoveArg(name string) {
	out := m.Args[:0]
	for _, a := range m.Args {
		if a.Name != name {
			out = append(out, a)
		}
	}
	m.Args = out
}
