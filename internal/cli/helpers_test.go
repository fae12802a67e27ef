package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config file using a database in a temp dir and
// returns the config path and the database path.
func writeConfig(t *testing.T, remoteKind string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "shop.db")
	path := filepath.Join(dir, "stockline.yaml")
	body := fmt.Sprintf("database: %s\nlog:\n  level: error\nremote:\n  kind: %s\n", db, remoteKind)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, db
}
