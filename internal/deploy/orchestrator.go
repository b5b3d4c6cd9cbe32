// Package deploy implements the Safe-Deploy Orchestrator (C6): snapshot the
// current on-disk package, apply a mutation, load it into the registry,
// validate it by running its test suite, and commit or roll back.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reaatech/funcdock/internal/apperrors"
	"github.com/reaatech/funcdock/internal/logger"
	"github.com/reaatech/funcdock/internal/registry"
)

// Mutation installs a new version of a package's files at dir. It is
// supplied by the caller: a multipart-upload extractor for local deploys,
// or a git clone/pull for git deploys.
type Mutation func(ctx context.Context, dir string) error

// TestRunner executes a package's tests and returns a structured verdict.
// Implementations shell out to whatever test tool the function's language
// runtime provides.
type TestRunner interface {
	Run(ctx context.Context, dir string, timeout time.Duration) (*TestResult, error)
}

// TestResult is the orchestrator's validation verdict for one deploy.
type TestResult struct {
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
	Total  int    `json:"total"`
	Output string `json:"output"`
}

const (
	backupDirName        = ".deployment-backups"
	defaultRetention      = 5
	defaultTestTimeoutSec = 30
)

// Orchestrator runs the snapshot/apply/load/validate/commit-or-rollback
// protocol for every package mutation, serialised per package (I3).
type Orchestrator struct {
	functionsDir string
	backupDir    string
	retention    int
	testTimeout  time.Duration

	reg    *registry.Registry
	runner TestRunner

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	busy    map[string]bool
}

// New creates an Orchestrator rooted at functionsDir, storing backups under
// backupDir (normally "<functionsDir>/../.deployment-backups").
func New(functionsDir, backupDir string, retention int, testTimeout time.Duration, reg *registry.Registry, runner TestRunner) *Orchestrator {
	if retention <= 0 {
		retention = defaultRetention
	}
	if testTimeout <= 0 {
		testTimeout = defaultTestTimeoutSec * time.Second
	}
	return &Orchestrator{
		functionsDir: functionsDir,
		backupDir:    backupDir,
		retention:    retention,
		testTimeout:  testTimeout,
		reg:          reg,
		runner:       runner,
		locks:        make(map[string]*sync.Mutex),
		busy:         make(map[string]bool),
	}
}

// Deploy runs the full protocol for package name, applying mutate to its
// directory. meta is written to .deployment.json before the registry loads
// the package, so DeploymentMetadata is available to the first load.
func (o *Orchestrator) Deploy(ctx context.Context, name string, meta registry.DeploymentMetadata, mutate Mutation) error {
	lock, alreadyBusy := o.acquire(name)
	if alreadyBusy {
		return apperrors.DeployBusy(name)
	}
	defer o.release(name, lock)

	dir := filepath.Join(o.functionsDir, name)
	backupPath, hadExisting, err := o.snapshotSource(name, dir)
	if err != nil {
		return apperrors.DeployFailed(fmt.Sprintf("snapshotting existing package: %v", err))
	}

	if err := mutate(ctx, dir); err != nil {
		return o.rollback(ctx, name, dir, backupPath, hadExisting, apperrors.DeployFailed(fmt.Sprintf("apply failed: %v", err)))
	}

	if err := writeDeploymentMetadata(dir, meta); err != nil {
		return o.rollback(ctx, name, dir, backupPath, hadExisting, apperrors.DeployFailed(fmt.Sprintf("writing deployment metadata: %v", err)))
	}

	if _, err := o.reg.Load(name); err != nil {
		return o.rollback(ctx, name, dir, backupPath, hadExisting, err)
	}

	if hasTests(dir) {
		result, err := o.runner.Run(ctx, dir, o.testTimeout)
		if err != nil {
			return o.rollback(ctx, name, dir, backupPath, hadExisting, apperrors.ValidationFailed(fmt.Sprintf("test runner crashed: %v", err)))
		}
		if result.Failed > 0 {
			return o.rollback(ctx, name, dir, backupPath, hadExisting, apperrors.ValidationFailed(formatTestResult(result)))
		}
	}

	return o.commit(name)
}

// Delete runs the orchestrator's unload path for a package, removing its
// on-disk directory after unloading it from the registry.
func (o *Orchestrator) Delete(name string) error {
	lock, alreadyBusy := o.acquire(name)
	if alreadyBusy {
		return apperrors.DeployBusy(name)
	}
	defer o.release(name, lock)

	if err := o.reg.Unload(name); err != nil {
		return apperrors.DeployFailed(fmt.Sprintf("unloading package: %v", err))
	}
	dir := filepath.Join(o.functionsDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.DeployFailed(fmt.Sprintf("removing package directory: %v", err))
	}
	return nil
}

func (o *Orchestrator) acquire(name string) (*sync.Mutex, bool) {
	o.locksMu.Lock()
	l, ok := o.locks[name]
	if !ok {
		l = &sync.Mutex{}
		o.locks[name] = l
	}
	busy := o.busy[name]
	if !busy {
		o.busy[name] = true
	}
	o.locksMu.Unlock()

	if busy {
		return nil, true
	}
	l.Lock()
	return l, false
}

func (o *Orchestrator) release(name string, lock *sync.Mutex) {
	if lock == nil {
		return
	}
	lock.Unlock()
	o.locksMu.Lock()
	o.busy[name] = false
	o.locksMu.Unlock()
}

// snapshotSource copies dir's current contents to a timestamped backup, if
// dir currently exists. It returns the backup path (empty if none was
// taken) and whether a prior package existed at all.
func (o *Orchestrator) snapshotSource(name, dir string) (string, bool, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(o.backupDir, fmt.Sprintf("%s-%s", name, timestamp))
	if err := copyTree(dir, backupPath); err != nil {
		return "", true, err
	}

	meta := map[string]interface{}{
		"origin":    dir,
		"timestamp": timestamp,
	}
	metaBytes, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(filepath.Join(backupPath, ".backup-metadata.json"), metaBytes, 0o644); err != nil {
		return backupPath, true, err
	}
	return backupPath, true, nil
}

// rollback undoes a failed deploy: removes the partial install, and either
// restores the prior backup and reloads it, or unloads the package if it
// never existed before this deploy attempt.
func (o *Orchestrator) rollback(ctx context.Context, name, dir, backupPath string, hadExisting bool, cause error) error {
	log := logger.Deploy()
	log.Warn().Err(cause).Str("package", name).Msg("deploy failed, rolling back")

	if err := os.RemoveAll(dir); err != nil {
		log.Error().Err(err).Str("package", name).Msg("failed to remove partially-installed directory during rollback")
	}

	if hadExisting && backupPath != "" {
		if err := copyTree(backupPath, dir); err != nil {
			log.Error().Err(err).Str("package", name).Msg("failed to restore backup during rollback")
			return cause
		}
		if _, err := o.reg.Load(name); err != nil {
			log.Error().Err(err).Str("package", name).Msg("failed to reload restored backup during rollback")
		}
	} else {
		if err := o.reg.Unload(name); err != nil {
			log.Error().Err(err).Str("package", name).Msg("failed to unload during rollback")
		}
	}

	return cause
}

// commit prunes backups beyond the retention limit for name.
func (o *Orchestrator) commit(name string) error {
	entries, err := os.ReadDir(o.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil
	}

	prefix := name + "-"
	var backups []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups) // timestamp suffix sorts lexicographically by time

	if len(backups) <= o.retention {
		return nil
	}
	toPrune := backups[:len(backups)-o.retention]
	for _, b := range toPrune {
		if err := os.RemoveAll(filepath.Join(o.backupDir, b)); err != nil {
			logger.Deploy().Warn().Err(err).Str("package", name).Str("backup", b).Msg("failed to prune old backup")
		}
	}
	return nil
}

func writeDeploymentMetadata(dir string, meta registry.DeploymentMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ".deployment.json"), data, 0o644)
}

func hasTests(dir string) bool {
	found := false
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		base := info.Name()
		if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
			found = true
		}
		return nil
	})
	return found
}

func formatTestResult(r *TestResult) string {
	return fmt.Sprintf("%d/%d tests failed: %s", r.Failed, r.Total, r.Output)
}
