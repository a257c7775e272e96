package mcp

import (
	"fmt"
	"strings"
)

// maxLineLen is the wire line length above which an argument value is
// forced onto continuation lines even without an embedded newline
// (grounded on mcp.c's MCP_MAX_LINE_LENGTH-driven wrapping).
const maxLineLen = 2048

// OutputMessage encodes and writes a message to the connection (spec.md
// §4.12 "primary line ... continuation lines ... message-end line" for
// multi-line values; grounded on mcp_frame_output_mesg). Arguments whose
// value contains a newline, or is long enough to risk overrunning a
// line, are sent via the multi-line form.
func (f *Frame) OutputMessage(msg *Message) {
	multiline := false
	for _, a := range msg.Args {
		if strings.Contains(a.Value(), "\n") || len(a.Value()) > maxLineLen {
			multiline = true
			break
		}
	}

	if !multiline {
		f.writeRaw(f.formatStart(msg, nil))
		return
	}

	tag := newDataTag()
	var deferredNames []string
	for _, a := range msg.Args {
		if strings.Contains(a.Value(), "\n") || len(a.Value()) > maxLineLen {
			deferredNames = append(deferredNames, a.Name)
		}
	}

	f.writeRaw(f.formatStart(msg, deferredNames))

	for _, a := range msg.Args {
		deferred := false
		for _, n := range deferredNames {
			if n == a.Name {
				deferred = true
				break
			}
		}
		if !deferred {
			continue
		}
		for _, part := range strings.Split(a.Value(), "\n") {
			f.writeRaw(fmt.Sprintf("%s* %s %s: %s", MesgPrefix, tag, a.Name, part))
		}
	}

	f.writeRaw(fmt.Sprintf("%s: %s", MesgPrefix, tag))
}

// formatStart builds the primary message line. Names listed in deferred
// get the "*" multi-line marker and an empty placeholder value instead of
// their real value (spec.md §4.12 "primary line gets a `name*: \"\"`
// placeholder").
func (f *Frame) formatStart(msg *Message, deferred []string) string {
	var b strings.Builder
	b.WriteString(MesgPrefix)
	b.WriteByte(' ')
	b.WriteString(msg.WireName())
	if f.AuthKey != "" && !strings.EqualFold(msg.Package, InitPackage) {
		b.WriteByte(' ')
		b.WriteString(f.AuthKey)
	}

	for _, a := range msg.Args {
		isDeferred := false
		for _, n := range deferred {
			if n == a.Name {
				isDeferred = true
				break
			}
		}
		b.WriteByte(' ')
		b.WriteString(a.Name)
		if isDeferred {
			b.WriteString(`*: ""`)
			continue
		}
		b.WriteString(": ")
		b.WriteString(quoteIfNeeded(a.Value()))
	}

	return b.String()
}

// quoteIfNeeded wraps a value in double quotes (escaping embedded quotes
// and backslashes) unless it already satisfies the unquoted-value grammar
// (spec.md §4.12 unquoted value: printable non-space chars excluding
// `* : \ "`).
func quoteIfNeeded(v string) string {
	simple := v != ""
	for i := 0; i < len(v); i++ {
		if !isSimpleChar(v[i]) {
			simple = false
			break
		}
	}
	if simple {
		return v
	}

	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// OutputInband writes a line of ordinary in-band output, quoting it with
// QuotePrefix if it would otherwise be mistaken for an MCP message
// (spec.md §4.12 "#$\" passthrough"; grounded on mcp_frame_output_inband).
func (f *Frame) OutputInband(line string) {
	if f.Enabled && len(line) >= len(MesgPrefix) && strings.EqualFold(line[:len(MesgPrefix)], MesgPrefix) {
		f.writeRaw(QuotePrefix + line)
		return
	}
	f.writeRaw(line)
}

func (f *Frame) writeRaw(line string) {
	if f.writer != nil {
		f.writer(line)
	}
}
