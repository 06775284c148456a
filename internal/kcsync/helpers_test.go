package kcsync

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	eventually = 5 * time.Second
	tick       = 10 * time.Millisecond
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// kubeconfigYAML renders a kubeconfig with one cluster and user per context.
func kubeconfigYAML(contexts ...string) string {
	return kubeconfigWithServer("", contexts...)
}

// kubeconfigWithServer is kubeconfigYAML with every server set to server,
// or a per-context default when server is empty.
func kubeconfigWithServer(server string, contexts ...string) string {
	var b strings.Builder

	b.WriteString("apiVersion: v1\nkind: Config\nclusters:\n")

	for _, c := range contexts {
		s := server
		if s == "" {
			s = fmt.Sprintf("https://%s.example.com:6443", c)
		}

		fmt.Fprintf(&b, "- name: %s-cluster\n  cluster:\n    server: %s\n", c, s)
	}

	b.WriteString("users:\n")

	for _, c := range contexts {
		fmt.Fprintf(&b, "- name: %s-user\n  user:\n    token: secret\n", c)
	}

	b.WriteString("contexts:\n")

	for _, c := range contexts {
		fmt.Fprintf(&b, "- name: %s\n  context:\n    cluster: %s-cluster\n    user: %s-user\n", c, c, c)
	}

	return b.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// writeAtomic replaces path via rename so watchers see a single event.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func testDiffer() *Differ {
	d := NewDiffer(discardLogger())
	d.Home = ""

	return d
}
