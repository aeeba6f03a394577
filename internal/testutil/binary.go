// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

var (
	builtBinaryPath string
	buildOnce       sync.Once
	buildErr        error
)

// BinaryPath returns the path to the cloudshift binary. It checks the
// CLOUDSHIFT_BINARY environment variable first, then falls back to building
// the binary on first call. The build is performed only once per test run.
func BinaryPath() (string, error) {
	if p := os.Getenv("CLOUDSHIFT_BINARY"); p != "" {
		return p, nil
	}
	buildOnce.Do(func() {
		builtBinaryPath, buildErr = buildBinary()
	})
	return builtBinaryPath, buildErr
}

// buildBinary compiles the cloudshift binary into a temp directory and
// returns its path. The SQLite driver needs cgo, so the caller's CGO
// setting is kept.
func buildBinary() (string, error) {
	tmpDir, err := os.MkdirTemp("", "cloudshift-e2e-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}

	binaryName := "cloudshift"
	if runtime.GOOS == "windows" {
		binaryName = "cloudshift.exe"
	}
	outputPath := filepath.Join(tmpDir, binaryName)

	// Find the module root by walking up from this file's directory
	_, thisFile, _, _ := runtime.Caller(0)
	moduleRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))

	cmd := exec.Command("go", "build", "-o", outputPath, "./cmd/cloudshift")
	cmd.Dir = moduleRoot

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building cloudshift binary: %w\nstderr: %s", err, stderr.String())
	}

	return outputPath, nil
}

// RunCloudshift executes the cloudshift binary with the given arguments and
// returns stdout, stderr, and the exit code. The binary is built on first
// call if not provided via CLOUDSHIFT_BINARY.
func RunCloudshift(args ...string) (stdout string, stderr string, exitCode int, err error) {
	binaryPath, err := BinaryPath()
	if err != nil {
		return "", "", -1, fmt.Errorf("getting binary path: %w", err)
	}

	cmd := exec.Command(binaryPath, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			return stdout, stderr, exitCode, nil
		}
		return stdout, stderr, -1, runErr
	}

	return stdout, stderr, 0, nil
}
