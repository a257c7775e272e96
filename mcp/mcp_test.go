package mcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanIdent(t *testing.T) {
	tok, rest, ok := scanIdent("mcp-negotiate-can foo")
	require.True(t, ok)
	require.Equal(t, "mcp-negotiate-can", tok)
	require.Equal(t, " foo", rest)

	_, _, ok = scanIdent("123abc")
	require.False(t, ok)
}

func TestScanQuoted(t *testing.T) {
	tok, rest, ok := scanQuoted(`"hello \"world\""` + " trailer")
	require.True(t, ok)
	require.Equal(t, `hello "world"`, tok)
	require.Equal(t, " trailer", rest)

	_, _, ok = scanQuoted(`"unterminated`)
	require.False(t, ok)
}

func TestScanKeyVal(t *testing.T) {
	name, value, deferred, ok, rest := scanKeyVal(` min-version: "2.1" more`)
	require.True(t, ok)
	require.False(t, deferred)
	require.Equal(t, "min-version", name)
	require.Equal(t, "2.1", value)
	require.Equal(t, " more", rest)
}

func TestScanKeyValDeferred(t *testing.T) {
	name, value, deferred, ok, _ := scanKeyVal(` body*: ""`)
	require.True(t, ok)
	require.True(t, deferred)
	require.Equal(t, "body", name)
	require.Equal(t, "", value)
}

func TestSelectVersion(t *testing.T) {
	v := SelectVersion(Ver{1, 0}, Ver{2, 1}, Ver{2, 0}, Ver{2, 5})
	require.Equal(t, Ver{2, 1}, v)

	zero := SelectVersion(Ver{1, 0}, Ver{1, 0}, Ver{2, 0}, Ver{2, 1})
	require.True(t, zero.IsZero())
}

func TestParseVer(t *testing.T) {
	v, ok := ParseVer("2.1")
	require.True(t, ok)
	require.Equal(t, Ver{2, 1}, v)

	_, ok = ParseVer("garbage")
	require.False(t, ok)
}

func TestMessageWireName(t *testing.T) {
	m := NewMessage("mcp-negotiate", "can")
	require.Equal(t, "mcp-negotiate-can", m.WireName())

	m2 := NewMessage("mcp", "")
	require.Equal(t, "mcp", m2.WireName())
}

func TestMessageAppendArgJoinsMultilineParts(t *testing.T) {
	m := NewMessage("org-fuzzball-notify", "text")
	m.AppendArg("text", "line one")
	m.AppendArg("text", "line two")
	require.Equal(t, "line one\nline two", m.Args[0].Value())
}

func TestRegistryMatchMessageName(t *testing.T) {
	r := NewRegistry()
	r.Register("org-fuzzball-notify", Ver{1, 0}, Ver{2, 0}, nil)

	pkg, sub, ok := r.matchMessageName("org-fuzzball-notify-text")
	require.True(t, ok)
	require.Equal(t, "org-fuzzball-notify", pkg)
	require.Equal(t, "text", sub)

	pkg, sub, ok = r.matchMessageName("mcp-negotiate-can")
	require.True(t, ok)
	require.Equal(t, "mcp-negotiate", pkg)
	require.Equal(t, "can", sub)

	_, _, ok = r.matchMessageName("unknown-package-thing")
	require.False(t, ok)
}

func TestFrameNegotiationHandshake(t *testing.T) {
	var sent []string
	f := NewFrame(NewRegistry(), func(line string) {
		sent = append(sent, line)
	})

	inband, ok := f.ProcessInput(`#$#mcp version: "2.1" to: "2.1"`)
	require.False(t, ok)
	require.Equal(t, "", inband)
	require.True(t, f.Enabled)
	require.NotEmpty(t, f.AuthKey)
	require.GreaterOrEqual(t, len(sent), 2)
	require.Contains(t, sent[len(sent)-1], "mcp-negotiate-end")
}

func TestFrameQuotedInbandPassthrough(t *testing.T) {
	f := NewFrame(NewRegistry(), func(string) {})
	f.Enabled = true

	inband, ok := f.ProcessInput(`#$"#$# not really a message`)
	require.True(t, ok)
	require.Equal(t, `#$# not really a message`, inband)
}

func TestFrameMultilineMessage(t *testing.T) {
	var sent []string
	reg := NewRegistry()
	var received *Message
	reg.Register("org-fuzzball-notify", Ver{1, 0}, Ver{1, 0}, func(f *Frame, m *Message, v Ver) {
		received = m
	})

	f := NewFrame(reg, func(line string) { sent = append(sent, line) })
	_, _ = f.ProcessInput(`#$#mcp version: "2.1" to: "2.1"`)
	f.AuthKey = "authkey1"

	_, ok := f.ProcessInput(`#$#org-fuzzball-notify authkey1 text*: ""`)
	require.False(t, ok)
	require.Len(t, f.pending, 1)

	var tag string
	for k := range f.pending {
		tag = k
	}

	_, ok = f.ProcessInput("#$#* " + tag + " text: line one")
	require.False(t, ok)
	_, ok = f.ProcessInput("#$#* " + tag + " text: line two")
	require.False(t, ok)
	_, ok = f.ProcessInput("#$#: " + tag)
	require.False(t, ok)

	require.NotNil(t, received)
	require.Equal(t, "line one\nline two", received.Args[0].Value())
}
