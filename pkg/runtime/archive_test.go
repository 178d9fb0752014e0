package runtime

import (
	"archive/tar"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleFileTar(t *testing.T) {
	archive, err := singleFileTar("workspace/src/main.py", []byte("print(1)"))
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "workspace/src/main.py", hdr.Name)
	assert.Equal(t, byte(tar.TypeReg), hdr.Typeflag)
	assert.Equal(t, int64(8), hdr.Size)

	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSingleFileTarEmptyContent(t *testing.T) {
	archive, err := singleFileTar("workspace/empty.txt", nil)
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), hdr.Size)
}

func TestHookSnippet(t *testing.T) {
	// The marker keeps reinstallation idempotent; the grep guard depends
	// on it appearing in the snippet body.
	assert.Contains(t, hookSnippet, hookMarker)

	for _, verb := range []string{"touch", "mkdir", "rm", "mv", "cp", "cd"} {
		assert.Contains(t, hookSnippet, verb)
	}
	assert.Contains(t, hookSnippet, "$IDE_API/api/fs-event")
	assert.Contains(t, hookSnippet, "trap __sandbox_fs_notify DEBUG")

	// The heredoc install would break if the snippet ever contained the
	// delimiter.
	assert.NotContains(t, hookSnippet, "SANDBOX_HOOK")
	assert.False(t, strings.HasPrefix(hookSnippet, "\n\n"))
}
