package mcp

import "strings"

// InitPackage is the reserved package name used for the session's initial
// version-negotiation handshake (spec.md §4.12 "on the session's first
// mcp init line"). Grounded on the original's MCP_INIT_PKG ("mcp").
const InitPackage = "mcp"

// NegotiatePackage is the reserved package that carries "can"/"end"
// messages during negotiation (spec.md §6 "Package mcp-negotiate carries
// can and end messages").
const NegotiatePackage = "mcp-negotiate"

// Callback receives a fully assembled message addressed to a registered
// package. version is the negotiated version for this connection.
type Callback func(f *Frame, m *Message, version Ver)

// PackageDef is one server-supported MCP package (spec.md §4.12's
// "negotiated packages (each with name, min_version, max_version,
// callback, context)").
type PackageDef struct {
	Name           string
	MinVer, MaxVer Ver
	Callback       Callback
}

// Registry holds the set of MCP packages this server supports, advertised
// to every connection during negotiation (grounded on the original's
// global mcp_PackageList, populated once at startup by mcp_initialize).
type Registry struct {
	packages []PackageDef
}

// Default is the process-wide package registry every connection
// negotiates against (spec.md §4.12; grounded on the original's single
// global mcp_PackageList populated once at startup by mcp_initialize).
// Application code (MUF programs, via a registration primitive) adds to
// this registry directly rather than each connection keeping its own.
var Default = NewRegistry()

// NewRegistry creates a registry pre-populated with the negotiate package,
// which every connection must support to negotiate anything else.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NegotiatePackage, Ver{1, 0}, Ver{2, 0}, negotiateHandler)
	return r
}

// Register adds a server-supported package. Re-registering a name replaces
// its definition (matches the original's package_add behavior of
// overwriting an existing entry of the same name).
func (r *Registry) Register(name string, minVer, maxVer Ver, cb Callback) {
	for i := range r.packages {
		if r.packages[i].Name == name {
			r.packages[i] = PackageDef{Name: name, MinVer: minVer, MaxVer: maxVer, Callback: cb}
			return
		}
	}
	r.packages = append(r.packages, PackageDef{Name: name, MinVer: minVer, MaxVer: maxVer, Callback: cb})
}

// Packages returns the registered package definitions in registration
// order (used to build the mcp-negotiate-can advertisement list).
func (r *Registry) Packages() []PackageDef {
	return r.packages
}

func (r *Registry) find(name string) (PackageDef, bool) {
	for _, p := range r.packages {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PackageDef{}, false
}

// matchMessageName finds the longest registered package name that is a
// prefix of mesgName, on a `-` or end-of-string boundary, falling back to
// mcp-negotiate or the init package (grounded on mcp_intern_is_mesg_start's
// longlen-tracking loop over mfr->packages).
func (r *Registry) matchMessageName(mesgName string) (pkg, sub string, ok bool) {
	longest := 0
	for _, p := range r.packages {
		n := len(p.Name)
		if n <= longest || n > len(mesgName) {
			continue
		}
		if !strings.EqualFold(mesgName[:n], p.Name) {
			continue
		}
		if n == len(mesgName) || mesgName[n] == '-' {
			longest = n
		}
	}

	if longest == 0 {
		neglen := len(NegotiatePackage)
		if len(mesgName) >= neglen && strings.EqualFold(mesgName[:neglen], NegotiatePackage) {
			longest = neglen
		} else if strings.EqualFold(mesgName, InitPackage) {
			longest = len(mesgName)
		} else {
			return "", "", false
		}
	}

	name := mesgName[:longest]
	sub = mesgName[longest:]
	sub = strings.TrimPrefix(sub, "-")
	return name, sub, true
}
