package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Timestamp constants for test data.
const (
	tsEarly   = "2024-01-01T10:00:00Z"
	tsEarlyS1 = "2024-01-01T10:00:01Z"
	tsEarlyS5 = "2024-01-01T10:00:05Z"
	tsLate    = "2024-01-01T10:01:00Z"
)

// createTestFile writes content to a file named name inside a fresh
// temp dir. name may contain slashes.
func createTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// statOf returns the FileStat of path.
func statOf(t *testing.T, path string) FileStat {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return FileStat{Size: info.Size(), MtimeMs: info.ModTime().UnixMilli()}
}

// parseFile runs the provider's parser over path.
func parseFile(
	t *testing.T, p Provider, path string, opts Options,
) Details {
	t.Helper()
	d, err := ParserFor(p).Parse(path, statOf(t, path), opts)
	require.NoError(t, err)
	return d
}

// blocksOf returns the blocks of the given kind across all messages.
func blocksOf(d Details, kind BlockKind) []ContentBlock {
	var out []ContentBlock
	for _, m := range d.Messages {
		for _, b := range m.Blocks {
			if b.Kind == kind {
				out = append(out, b)
			}
		}
	}
	return out
}
