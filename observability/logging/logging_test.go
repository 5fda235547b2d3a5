package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	return line
}

func TestSetupRenamesKeysAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("govtxd", "test", WithWriter(&buf))
	logger.Info("submitted", "action", "castVote")

	line := decodeLine(t, &buf)
	require.Equal(t, "submitted", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "govtxd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("govtx", "", WithWriter(&buf))
	logger.Info("unlock", "passphrase", "hunter2", "Authorization", "Bearer abc")

	line := decodeLine(t, &buf)
	require.Equal(t, RedactedValue, line["passphrase"])
	require.Equal(t, RedactedValue, line["Authorization"])
	require.NotContains(t, line, "env")
}

func TestSetupLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("govtx", "", WithWriter(&buf), WithLevel("warn"))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Equal(t, "WARN", decodeLine(t, &buf)["severity"])
}

func TestSetupMirrorsToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "govtxd.log")
	logger := Setup("govtxd", "", WithWriter(&buf), WithFile(FileConfig{Path: path}))
	logger.Info("hello")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"message":"hello"`)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "castVote", MaskField("action", "castVote").Value.String())
	require.Equal(t, RedactedValue, MaskField("rpc_url", "https://key@rpc").Value.String())
	require.Equal(t, "", MaskField("rpc_url", "").Value.String())
	require.True(t, IsSensitive(" Token "))
	require.Contains(t, RedactionAllowlist(), "tracker")
}
