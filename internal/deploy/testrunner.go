package deploy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// NPMTestRunner drives `npm test` against a function package directory,
// the test runner every function package on this platform ships with via
// its package.json "test" script. It is deliberately the only supported
// runner: the registry's package.json contract is opaque to the core, so
// shelling out to the one command every Node package manager standardizes
// on is the only language-agnostic integration point available.
type NPMTestRunner struct{}

// Run executes `npm test` in dir with the given timeout. A nonzero exit is
// treated as every discovered test file having failed, since npm's own
// output format varies by test framework and parsing it is outside this
// runner's scope; frameworks that emit a TAP or JSON summary can be
// supported by a more specific TestRunner later without changing this
// interface.
func (NPMTestRunner) Run(ctx context.Context, dir string, timeout time.Duration) (*TestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	total := countTestFiles(dir)

	cmd := exec.CommandContext(ctx, "npm", "test", "--silent")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.New("test runner timed out")
	}
	if err != nil {
		return &TestResult{Passed: 0, Failed: max1(total), Total: max1(total), Output: out.String()}, nil
	}
	return &TestResult{Passed: total, Failed: 0, Total: total, Output: out.String()}, nil
}

func countTestFiles(dir string) int {
	n := 0
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.Contains(info.Name(), ".test.") || strings.Contains(info.Name(), ".spec.") {
			n++
		}
		return nil
	})
	return n
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
