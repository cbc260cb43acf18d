package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

const testConfigTemplate = `
endpoint:
  url: %q
  credential: "sk-test"
limits:
  max_requests_per_minute: 600
  max_cost_units_per_minute: %d
cost:
  scheme: "bytes"
retry:
  max_attempts: 2
dispatch:
  max_in_flight: 4
  progress_interval_ms: -1
logging:
  level: error
  format: json
`

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// useConfig points the global --config flag at a fresh config file for the
// duration of the test.
func useConfig(t *testing.T, url string, maxCost int) string {
	t.Helper()
	dir := t.TempDir()
	path := writeFile(t, dir, "talazo.yaml", fmt.Sprintf(testConfigTemplate, url, maxCost))

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	return dir
}

// newTestCmd returns a command with captured output and the flags added by
// addFlags.
func newTestCmd(addFlags func(*cobra.Command)) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{Use: "test"}
	if addFlags != nil {
		addFlags(cmd)
	}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	if err := cmd.Flags().Set(name, value); err != nil {
		t.Fatalf("set --%s: %v", name, err)
	}
}
