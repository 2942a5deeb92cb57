package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestWriteObject(t *testing.T) {
	obj := Route{Name: "chats", Patterns: []string{"**/chats/**"}, Gates: []string{"time"}}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	var fromJSON Route
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, obj, fromJSON)

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	var fromYAML Route
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, obj, fromYAML)

	assert.Error(t, WriteObject(&buf, FormatTable, obj))
	assert.Error(t, WriteObject(&buf, Format("xml"), obj))
}

func TestWriteRouteTable(t *testing.T) {
	var buf bytes.Buffer
	WriteRouteTable(&buf, []Route{
		{Name: "chats", Patterns: []string{"**/chats/**"}, Gates: []string{"time", "role"}},
		{Name: "post", Patterns: []string{"/a", "/b"}, Methods: []string{"POST"}},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "time,role")
	assert.Contains(t, lines[1], "*")
	assert.Contains(t, lines[2], "/a,/b")
	assert.Contains(t, lines[2], "POST")
}

func TestWriteDecisionTable(t *testing.T) {
	at := time.Date(2026, 1, 2, 22, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	WriteDecisionTable(&buf, []Decision{
		{Request: 1, At: at, Allowed: true, Category: "messages"},
		{Request: 2, At: at, Reason: "RATE_LIMITED", Category: "messages", Message: "slow down"},
	})
	out := buf.String()
	assert.Contains(t, out, "2026-01-02T22:00:00Z")
	assert.Contains(t, out, "ALLOW")
	assert.Contains(t, out, "DENY")
	assert.Contains(t, out, "RATE_LIMITED")
	assert.Contains(t, out, "slow down")
}
