package main

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeorch/internal/app"
)

func TestValidatePrintsRedactedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  broker: \"loopback://\"\n  password: hunter2\n"), 0o644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", "--config", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "loopback://")
	assert.Contains(t, out.String(), "<redacted>")
	assert.NotContains(t, out.String(), "hunter2")
}

func TestValidateFailsOnBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt: [\n"), 0o644))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", "-c", path})
	assert.Error(t, cmd.Execute())
}

func TestSignalReason(t *testing.T) {
	assert.Equal(t, app.StopSIGINT, signalReason(os.Interrupt))
	assert.Equal(t, app.StopSIGTERM, signalReason(syscall.SIGTERM))
	assert.Equal(t, app.StopUnknown, signalReason(syscall.SIGHUP))
}
