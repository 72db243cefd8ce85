// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Options mirrors spec.md's MarkerOptions: the subset of extraction
// behavior a caller can request.
type Options struct {
	ExtractImages bool
	ForceOCR      bool
	PreferMarker  bool
}

const defaultTimeout = 20 * time.Minute

// Driver runs marker_single as a subprocess against a resolved runtime.
type Driver struct {
	resolution *Resolution
	timeout    time.Duration
}

// NewDriver builds a Driver bound to a resolved marker_single runtime.
func NewDriver(resolution *Resolution, timeout time.Duration) *Driver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Driver{resolution: resolution, timeout: timeout}
}

// Extract runs marker_single against inputPath and returns the
// recovered markdown content.
func (d *Driver) Extract(ctx context.Context, inputPath string, opts Options) (string, error) {
	if !d.resolution.Found() {
		return "", &Error{Stage: "subprocess", Class: ClassMissingDependency, Wrapped: fmt.Errorf("no marker_single runtime resolved")}
	}

	if _, err := os.Stat(inputPath); err != nil {
		return "", &Error{Stage: "subprocess", Class: ClassFileMissing, Wrapped: fmt.Errorf("input file not found: %s", inputPath)}
	}

	outputDir, err := os.MkdirTemp("", "stellar-marker-*")
	if err != nil {
		return "", &Error{Stage: "subprocess", Class: ClassUnknown, Wrapped: fmt.Errorf("creating temp output dir: %w", err)}
	}
	defer os.RemoveAll(outputDir)

	argv := []string{inputPath, "--output_format", "markdown", "--output_dir", outputDir}
	if opts.ForceOCR {
		argv = append(argv, "--force_ocr")
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.resolution.BinaryPath, argv...)
	cmd.Env = d.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return "", &Error{Stage: "subprocess", Class: ClassTimeout, Stderr: stderr.String(), Wrapped: fmt.Errorf("marker_single timed out after %s", d.timeout)}
	}

	content, foundErr := recoverOutput(outputDir, inputPath)
	if foundErr == nil {
		// Non-zero exit with recoverable output still counts as success
		// per spec.md 4.4.2.
		return content, nil
	}

	if runErr != nil {
		class := classifyStderr(stderr.String())
		return "", &Error{Stage: "subprocess", Class: class, Stderr: stderr.String(), Wrapped: runErr}
	}

	// Zero exit but no markdown output: treat as an error.
	return "", &Error{Stage: "subprocess", Class: ClassUnknown, Stderr: stderr.String(), Wrapped: fmt.Errorf("marker_single exited 0 but produced no markdown output")}
}

// buildEnv constructs the subprocess environment: the resolved venv
// (when present) prepended to PATH and exported as VIRTUAL_ENV, with
// the thread/tokenizer knobs marker needs to run predictably inside a
// background worker.
func (d *Driver) buildEnv() []string {
	env := os.Environ()
	filtered := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "PYTHONHOME=") {
			continue
		}
		filtered = append(filtered, kv)
	}
	env = filtered

	if d.resolution.VenvPath != "" {
		env = append(env, "VIRTUAL_ENV="+d.resolution.VenvPath)
		binDir := filepath.Join(d.resolution.VenvPath, "bin")
		env = append(env, "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
		env = append(env, "PYTHONPATH="+filepath.Join(d.resolution.VenvPath, "lib"))
	}

	env = append(env,
		"OMP_NUM_THREADS=1",
		"MKL_NUM_THREADS=1",
		"TOKENIZERS_PARALLELISM=false",
		"PYTHONUNBUFFERED=1",
		"PYTORCH_ENABLE_MPS_FALLBACK=1",
	)
	return env
}

// recoverOutput looks for the markdown file marker_single would have
// written for inputPath inside outputDir, regardless of the process's
// exit code.
func recoverOutput(outputDir, inputPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))

	candidates := []string{
		filepath.Join(outputDir, base+".md"),
		filepath.Join(outputDir, base, base+".md"),
	}
	for _, c := range candidates {
		if data, err := os.ReadFile(c); err == nil {
			return string(data), nil
		}
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("no markdown output found in %s", outputDir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".md") {
			data, err := os.ReadFile(filepath.Join(outputDir, e.Name()))
			if err == nil {
				return string(data), nil
			}
		}
	}
	return "", fmt.Errorf("no markdown output found in %s", outputDir)
}
