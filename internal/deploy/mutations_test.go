package deploy

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestLocalArchiveMutationExtractsFilesIntoTargetDir(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "pkg.zip")
	writeTestZip(t, archive, map[string]string{
		"route.config.json": `{"base":"/hello","routes":[]}`,
		"handler.js":        "module.exports = {}",
	})

	target := filepath.Join(t.TempDir(), "hello")
	mutation := LocalArchiveMutation(archive)
	require.NoError(t, mutation(context.Background(), target))

	data, err := os.ReadFile(filepath.Join(target, "route.config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/hello")
}

func TestLocalArchiveMutationRejectsZipSlipEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	writeTestZip(t, archive, map[string]string{
		"../../etc/passwd": "pwned",
	})

	target := filepath.Join(t.TempDir(), "hello")
	mutation := LocalArchiveMutation(archive)
	err := mutation(context.Background(), target)
	assert.Error(t, err, "an archive entry that escapes the target directory must be rejected")
}

func TestLocalArchiveMutationClearsAnyExistingTargetContent(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "stale.js"), []byte("stale"), 0o644))

	archive := filepath.Join(t.TempDir(), "pkg.zip")
	writeTestZip(t, archive, map[string]string{"handler.js": "new"})

	mutation := LocalArchiveMutation(archive)
	require.NoError(t, mutation(context.Background(), target))

	_, err := os.Stat(filepath.Join(target, "stale.js"))
	assert.True(t, os.IsNotExist(err))
}
