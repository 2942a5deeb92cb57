package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/admission-gateway/pkg/gatectl/output"
	"github.com/telekom/admission-gateway/pkg/version"
)

const testConfig = `
admission:
  window: 1m
  burstLimit: 2
  restrictedHours:
    start: "21:00"
    end: "06:00"
    timeZone: UTC
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{OutputWriter: buf})
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestValidateTable(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration "+path+" is valid")
	assert.Contains(t, out, "burst limit: 2")
	assert.Contains(t, out, "21:00-06:00 UTC")
	assert.Contains(t, out, "post-message")
}

func TestValidateDefaults(t *testing.T) {
	out, err := execute(t, "validate", "-o", "json")
	require.NoError(t, err)

	var res validateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, "<defaults>", res.Source)
	assert.Equal(t, "1m0s", res.Window)
	assert.Equal(t, 5, res.BurstLimit)
	assert.Equal(t, "memory", res.Store)
	require.Len(t, res.Routes, 4)
	assert.Equal(t, "chats", res.Routes[0].Name)
	assert.Equal(t, []string{"time", "role"}, res.Routes[0].Gates)
	assert.Equal(t, []string{"rate"}, res.Routes[3].Gates)
	assert.Equal(t, []string{"POST"}, res.Routes[3].Methods)
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "admission:\n  burstLimit: -1\n")

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "burstLimit")
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestCheckRepeatHitsBurstLimit(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "check", "--config", path,
		"--method", "POST", "--path", "/api/chats/1/", "--role", "admin",
		"--at", "2026-01-02T12:00:00Z", "--repeat", "3", "--interval", "10s", "-o", "json")
	require.NoError(t, err)

	var decisions []output.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &decisions))
	require.Len(t, decisions, 3)
	assert.True(t, decisions[0].Allowed)
	assert.True(t, decisions[1].Allowed)
	assert.False(t, decisions[2].Allowed)
	assert.Equal(t, "RATE_LIMITED", decisions[2].Reason)
	assert.Equal(t, "40s", decisions[2].RetryAfter)
	assert.Equal(t, 3, decisions[2].Request)
}

func TestCheckDenials(t *testing.T) {
	path := writeConfig(t, testConfig)

	tests := []struct {
		name   string
		args   []string
		reason string
	}{
		{
			name:   "restricted hours",
			args:   []string{"--path", "/api/chats/", "--role", "ADMIN", "--at", "2026-01-02T22:00:00Z"},
			reason: "TIME_RESTRICTED",
		},
		{
			name:   "member role",
			args:   []string{"--path", "/api/chats/", "--role", "MEMBER", "--at", "2026-01-02T12:00:00Z"},
			reason: "ROLE_DENIED",
		},
		{
			name:   "anonymous",
			args:   []string{"--path", "/api/messages/", "--anonymous", "--at", "2026-01-02T12:00:00Z"},
			reason: "UNAUTHENTICATED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"check", "--config", path, "-o", "yaml"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)

			var decisions []output.Decision
			require.NoError(t, yaml.Unmarshal([]byte(out), &decisions))
			require.Len(t, decisions, 1)
			assert.False(t, decisions[0].Allowed)
			assert.Equal(t, tt.reason, decisions[0].Reason)
		})
	}
}

func TestCheckTable(t *testing.T) {
	out, err := execute(t, "check", "--path", "/healthz")
	require.NoError(t, err)
	assert.Contains(t, out, "DECISION")
	assert.Contains(t, out, "ALLOW")
}

func TestCheckFlagValidation(t *testing.T) {
	_, err := execute(t, "check")
	require.Error(t, err)

	_, err = execute(t, "check", "--path", "/x", "--repeat", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--repeat")

	_, err = execute(t, "check", "--path", "/x", "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--at")

	_, err = execute(t, "check", "--path", "/x", "-o", "xml")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gatectl "+version.Version)

	out, err = execute(t, "version", "-o", "yaml")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Name, info.Name)
}

func TestVersionSkipsConfigLoading(t *testing.T) {
	_, err := execute(t, "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		out, err := execute(t, "completion", shell)
		require.NoError(t, err, shell)
		assert.NotEmpty(t, out, shell)
	}

	_, err := execute(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestDefaultConfigReadsEnv(t *testing.T) {
	t.Setenv("ADMISSION_CONFIG_PATH", "/etc/gateway.yaml")
	assert.Equal(t, "/etc/gateway.yaml", DefaultConfig().ConfigPath)
}
