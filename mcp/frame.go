package mcp

import (
	"fmt"
	"math/rand"
	"strings"
)

// MesgPrefix marks an out-of-band MCP line; QuotePrefix marks an in-band
// line that happens to start with MesgPrefix and must be passed through
// literally (spec.md §4.12 "#$#" / "#$\"").
const (
	MesgPrefix  = "#$#"
	QuotePrefix = `#$"`
)

// negotiatedPackage is what the *other end* of the connection told us it
// supports, via an mcp-negotiate "can" message (grounded on the original's
// per-frame mfr->packages list, populated by mcp_frame_package_add).
type negotiatedPackage struct {
	MinVer, MaxVer Ver
}

// Frame is the per-connection MCP state (spec.md §4.12: "enabled flag,
// negotiated protocol version, authentication key, negotiated packages
// ..., a list of in-progress multi-line messages"). One Frame is created
// per telnet connection.
type Frame struct {
	registry *Registry
	writer   func(line string)

	Enabled bool
	Version Ver
	AuthKey string

	negotiated map[string]negotiatedPackage
	pending    map[string]*Message // datatag -> in-progress message
}

// NewFrame creates an MCP frame bound to the server's package registry.
// writer is called with each raw line to send to the connection (already
// CRLF-free; the caller's transport adds line termination).
func NewFrame(registry *Registry, writer func(line string)) *Frame {
	return &Frame{
		registry:   registry,
		writer:     writer,
		negotiated: make(map[string]negotiatedPackage),
		pending:    make(map[string]*Message),
	}
}

// Supports reports the version this frame has negotiated for pkg, or the
// zero version if the client never declared support for it (grounded on
// mcp_frame_package_supported).
func (f *Frame) Supports(pkg string) Ver {
	if neg, ok := f.negotiated[pkg]; ok {
		return SelectVersion(neg.MinVer, neg.MaxVer, neg.MinVer, neg.MaxVer)
	}
	return Ver{}
}

// addNegotiated records that the client declared support for pkg within
// [minVer, maxVer] (grounded on mcp_frame_package_add).
func (f *Frame) addNegotiated(pkg string, minVer, maxVer Ver) {
	f.negotiated[pkg] = negotiatedPackage{MinVer: minVer, MaxVer: maxVer}
}

// ProcessInput handles one raw input line from the connection (spec.md
// §4.12; grounded on mcp_frame_process_input). It returns the line to
// treat as ordinary in-band input (already de-quoted), and ok=false when
// the line was an out-of-band MCP message fully consumed here.
func (f *Frame) ProcessInput(line string) (inband string, ok bool) {
	if len(line) >= 3 && strings.EqualFold(line[:3], MesgPrefix) {
		rest := line[3:]
		if f.Enabled || strings.HasPrefix(strings.TrimSpace(rest), InitPackage) {
			if f.internalParse(rest) {
				return "", false
			}
			return line, true
		}
		return line, true
	}

	if f.Enabled && len(line) >= 3 && line[:3] == QuotePrefix {
		return line[3:], true
	}

	return line, true
}

// internalParse tries continuation, end, then start, matching
// mcp_internal_parse's ordering (a continuation/end line can't also be
// mistaken for the start of a new message).
func (f *Frame) internalParse(in string) bool {
	if f.isMesgCont(in) {
		return true
	}
	if f.isMesgEnd(in) {
		return true
	}
	if f.isMesgStart(in) {
		return true
	}
	return false
}

// isMesgStart parses "<mesgname> [auth] key: val ..." (spec.md §4.12
// "message-start"). Grounded on mcp_intern_is_mesg_start.
func (f *Frame) isMesgStart(in string) bool {
	mesgName, rest, ok := scanIdent(in)
	if !ok {
		return false
	}

	if !strings.EqualFold(mesgName, InitPackage) {
		if len(rest) == 0 || rest[0] != ' ' {
			return false
		}
		rest = skipSpaces(rest)
		auth, r, ok := scanUnquoted(rest)
		if !ok || auth != f.AuthKey {
			return false
		}
		rest = r
	}

	pkg, sub, ok := f.registry.matchMessageName(mesgName)
	if !ok {
		return false
	}

	msg := NewMessage(pkg, sub)
	for len(rest) > 0 {
		name, value, deferred, ok, r := scanKeyVal(rest)
		if !ok {
			return false
		}
		rest = r
		if deferred {
			msg.SetDeferred(name)
		} else {
			msg.AppendArg(name, value)
		}
	}

	if msg.Incomplete {
		tag, hasTag := msg.Arg("_data-tag")
		if !hasTag || tag == "" {
			tag = newDataTag()
		}
		msg.DataTag = tag
		msg.RemoveArg("_data-tag")
		f.pending[msg.DataTag] = msg
	} else {
		f.dispatch(msg)
	}

	return true
}

// isMesgCont parses "* <data-tag> <key>: <value>" (spec.md §4.12
// "message-continuation"). Grounded on mcp_intern_is_mesg_cont — note the
// value is taken verbatim, not re-lexed, since continuation lines carry
// raw multi-line content.
func (f *Frame) isMesgCont(in string) bool {
	if len(in) == 0 || in[0] != '*' {
		return false
	}
	in = in[1:]
	if len(in) == 0 || in[0] != ' ' {
		return false
	}
	in = skipSpaces(in)

	tag, rest, ok := scanUnquoted(in)
	if !ok {
		return false
	}
	if len(rest) == 0 || rest[0] != ' ' {
		return false
	}
	rest = skipSpaces(rest)

	key, rest, ok := scanIdent(rest)
	if !ok {
		return false
	}
	if len(rest) == 0 || rest[0] != ':' {
		return false
	}
	rest = rest[1:]
	if len(rest) == 0 || rest[0] != ' ' {
		return false
	}
	value := rest[1:]

	msg, ok := f.pending[tag]
	if !ok {
		return false
	}
	msg.AppendArg(key, value)
	return true
}

// isMesgEnd parses ": <data-tag>" (spec.md §4.12 "message-end"). Grounded
// on mcp_intern_is_mesg_end.
func (f *Frame) isMesgEnd(in string) bool {
	if len(in) == 0 || in[0] != ':' {
		return false
	}
	in = in[1:]
	if len(in) == 0 || in[0] != ' ' {
		return false
	}
	in = skipSpaces(in)

	tag, rest, ok := scanUnquoted(in)
	if !ok || rest != "" {
		return false
	}

	msg, ok := f.pending[tag]
	if !ok {
		return false
	}
	delete(f.pending, tag)
	msg.Incomplete = false
	f.dispatch(msg)
	return true
}

// dispatch routes a complete message to its package callback, handling the
// init package (version negotiation) specially (grounded on
// mcp_frame_package_docallback / mcp_basic_handler).
func (f *Frame) dispatch(msg *Message) {
	if strings.EqualFold(msg.Package, InitPackage) {
		f.handleInit(msg)
		return
	}

	def, ok := f.registry.find(msg.Package)
	if !ok {
		return
	}
	ver := f.Supports(msg.Package)
	if msg.Package == NegotiatePackage {
		ver = def.MaxVer
	}
	if def.Callback != nil {
		def.Callback(f, msg, ver)
	}
}

func newDataTag() string {
	return fmt.Sprintf("%.8x", uint32(rand.Int63()^rand.Int63()))
}
