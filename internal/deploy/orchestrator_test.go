package deploy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reaatech/funcdock/internal/registry"
)

func TestHasTestsDetectsTestAndSpecFiles(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, hasTests(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.test.js"), []byte("x"), 0o644))
	assert.True(t, hasTests(dir))
}

func TestFormatTestResultIncludesCountsAndOutput(t *testing.T) {
	msg := formatTestResult(&TestResult{Passed: 1, Failed: 2, Total: 3, Output: "AssertionError"})
	assert.Contains(t, msg, "2/3")
	assert.Contains(t, msg, "AssertionError")
}

func TestWriteDeploymentMetadataWritesValidJSON(t *testing.T) {
	dir := t.TempDir()
	meta := registry.DeploymentMetadata{Source: registry.SourceLocal, DeployedAt: time.Now().UTC()}
	require.NoError(t, writeDeploymentMetadata(dir, meta))

	data, err := os.ReadFile(filepath.Join(dir, ".deployment.json"))
	require.NoError(t, err)

	var roundTripped registry.DeploymentMetadata
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, registry.SourceLocal, roundTripped.Source)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, string, string) {
	t.Helper()
	functionsDir := t.TempDir()
	backupDir := t.TempDir()
	o := New(functionsDir, backupDir, 2, 0, nil, nil)
	return o, functionsDir, backupDir
}

func TestSnapshotSourceReturnsNoBackupWhenPackageIsNew(t *testing.T) {
	o, functionsDir, _ := newTestOrchestrator(t)
	dir := filepath.Join(functionsDir, "hello")

	backupPath, hadExisting, err := o.snapshotSource("hello", dir)
	require.NoError(t, err)
	assert.False(t, hadExisting)
	assert.Empty(t, backupPath)
}

func TestSnapshotSourceCopiesExistingPackageToABackup(t *testing.T) {
	o, functionsDir, backupDir := newTestOrchestrator(t)
	dir := filepath.Join(functionsDir, "hello")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.js"), []byte("v1"), 0o644))

	backupPath, hadExisting, err := o.snapshotSource("hello", dir)
	require.NoError(t, err)
	assert.True(t, hadExisting)
	require.NotEmpty(t, backupPath)
	assert.Contains(t, backupPath, backupDir)

	data, err := os.ReadFile(filepath.Join(backupPath, "handler.js"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestCommitPrunesBackupsBeyondRetention(t *testing.T) {
	o, _, backupDir := newTestOrchestrator(t)
	// retention is 2; create 4 backups with increasing timestamps.
	for _, suffix := range []string{"20240101T000000Z", "20240102T000000Z", "20240103T000000Z", "20240104T000000Z"} {
		require.NoError(t, os.MkdirAll(filepath.Join(backupDir, "hello-"+suffix), 0o755))
	}

	require.NoError(t, o.commit("hello"))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the retention limit's worth of most recent backups should remain")

	_, err = os.Stat(filepath.Join(backupDir, "hello-20240104T000000Z"))
	assert.NoError(t, err, "the newest backup must survive pruning")
}

func TestCommitLeavesBackupsAloneWhenUnderRetention(t *testing.T) {
	o, _, backupDir := newTestOrchestrator(t)
	require.NoError(t, os.MkdirAll(filepath.Join(backupDir, "hello-20240101T000000Z"), 0o755))

	require.NoError(t, o.commit("hello"))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAcquireReportsBusyForAConcurrentDeployOfTheSamePackage(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	lock, busy := o.acquire("hello")
	require.False(t, busy)
	require.NotNil(t, lock)

	_, busyAgain := o.acquire("hello")
	assert.True(t, busyAgain, "a second deploy of the same package must be rejected as busy")

	o.release("hello", lock)
	_, busyAfterRelease := o.acquire("hello")
	assert.False(t, busyAfterRelease, "releasing must free the package for a subsequent deploy")
}

func TestAcquireTracksDifferentPackagesIndependently(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, busyA := o.acquire("a")
	_, busyB := o.acquire("b")
	assert.False(t, busyA)
	assert.False(t, busyB)
}
