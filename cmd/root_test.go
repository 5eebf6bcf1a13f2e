package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidate_DefaultsPass(t *testing.T) {
	out, err := runCommand(t, "validate")
	require.NoError(t, err)
	require.Contains(t, out, "config ok")
}

func TestValidate_GoodFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	out, err := runCommand(t, "validate", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "config ok")
}

func TestValidate_BadFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_risk_per_trade: 2.5\n"), 0o644))

	_, err := runCommand(t, "validate", "--config", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_risk_per_trade")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := runCommand(t, "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
