package mcp

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// ServerMinVer/ServerMaxVer bound the core MCP protocol version this
// server speaks, advertised on the init line (spec.md §4.12; grounded on
// mcp_basic_handler's hardcoded "2.1" reply).
var (
	ServerMinVer = Ver{1, 0}
	ServerMaxVer = Ver{2, 1}
)

// handleInit processes the session's first "mcp version: ... to: ..."
// line (grounded on mcp_basic_handler): it selects the negotiated core
// version, mints an auth key, and replies with its own mcp line followed
// by one mcp-negotiate-can line per registered package and a terminal
// mcp-negotiate-end.
func (f *Frame) handleInit(msg *Message) {
	minStr, _ := msg.Arg("version")
	maxStr, hasMax := msg.Arg("to")
	theirMin, ok := ParseVer(minStr)
	if !ok {
		return
	}
	theirMax := theirMin
	if hasMax {
		if v, ok := ParseVer(maxStr); ok {
			theirMax = v
		}
	}

	selected := SelectVersion(ServerMinVer, ServerMaxVer, theirMin, theirMax)
	if selected.IsZero() {
		return
	}

	f.Version = selected
	f.Enabled = true
	f.AuthKey = genAuthKey()

	reply := NewMessage(InitPackage, "")
	reply.AppendArg("version", selected.String())
	reply.AppendArg("to", ServerMaxVer.String())
	f.OutputMessage(reply)

	for _, p := range f.registry.Packages() {
		can := NewMessage(NegotiatePackage, "can")
		can.AppendArg("package", p.Name)
		can.AppendArg("min-version", p.MinVer.String())
		can.AppendArg("max-version", p.MaxVer.String())
		f.OutputMessage(can)
	}

	f.OutputMessage(NewMessage(NegotiatePackage, "end"))
}

// negotiateHandler handles mcp-negotiate-can/mcp-negotiate-end, the
// messages the *client* sends to declare which packages (and version
// ranges) it supports (grounded on mcp_negotiate_handler).
func negotiateHandler(f *Frame, m *Message, version Ver) {
	switch m.Name {
	case "can":
		pkg, ok := m.Arg("package")
		if !ok {
			return
		}
		minStr, _ := m.Arg("min-version")
		maxStr, _ := m.Arg("max-version")
		minVer, ok1 := ParseVer(minStr)
		maxVer, ok2 := ParseVer(maxStr)
		if !ok1 {
			minVer = Ver{1, 0}
		}
		if !ok2 {
			maxVer = minVer
		}
		f.addNegotiated(pkg, minVer, maxVer)
	case "end":
		// Negotiation complete; nothing further to track per-connection.
	}
}

// genAuthKey mints a random per-connection auth key clients must echo on
// every subsequent message (spec.md §4.12 "authentication key"; grounded
// on mcp_negotiation_start's random-digit-string generator).
func genAuthKey() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	var b strings.Builder
	for _, c := range buf {
		fmt.Fprintf(&b, "%x", c%16)
	}
	return b.String()
}
