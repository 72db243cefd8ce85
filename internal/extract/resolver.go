// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package extract implements C2: resolving and driving the marker_single
// PDF-to-markdown extractor, with a go-fitz in-process fallback whose
// raw text is turned into Markdown by a heuristic converter.
package extract

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Status describes how (or whether) a marker_single runtime was found.
type Status string

const (
	StatusVirtualEnvironment        Status = "virtual_environment"
	StatusGlobal                    Status = "global"
	StatusVenvExistsButMarkerMissing Status = "venv_exists_but_marker_missing"
	StatusNotFound                  Status = "not_found"
)

// Resolution is the outcome of resolving a marker_single runtime.
type Resolution struct {
	Status     Status
	VenvPath   string // the marker_env directory, when found
	BinaryPath string // absolute path to the marker_single executable
	Source     string // human-readable description of where this was found
}

// Found reports whether a usable marker_single binary was resolved.
func (r *Resolution) Found() bool {
	return r != nil && r.BinaryPath != "" && (r.Status == StatusVirtualEnvironment || r.Status == StatusGlobal)
}

const venvDirName = "marker_env"

// Resolver locates the marker_single runtime according to the priority
// chain in spec.md 4.4.1: an isolated marker_env next to the working
// directory or its parent, then STELLAR_MARKER_VENV, then a venv next
// to the running executable, then a global marker_single on PATH or in
// common install locations.
type Resolver struct {
	workDir  string
	execDir  string
	envVenv  string
	lookPath func(string) (string, error)
	verify   func(string) bool
}

// NewResolver builds a Resolver rooted at the process's current working
// directory and executable location.
func NewResolver() *Resolver {
	execDir := ""
	if exe, err := os.Executable(); err == nil {
		execDir = filepath.Dir(exe)
	}
	cwd, _ := os.Getwd()
	return &Resolver{
		workDir:  cwd,
		execDir:  execDir,
		envVenv:  os.Getenv("STELLAR_MARKER_VENV"),
		lookPath: exec.LookPath,
		verify:   verifyMarkerExecutable,
	}
}

// Resolve walks the priority chain and returns the first usable runtime,
// or a Resolution describing why none was found.
func (r *Resolver) Resolve() *Resolution {
	candidates := []string{}
	if r.workDir != "" {
		candidates = append(candidates, filepath.Join(r.workDir, venvDirName))
		candidates = append(candidates, filepath.Join(filepath.Dir(r.workDir), venvDirName))
	}
	if r.envVenv != "" {
		candidates = append(candidates, r.envVenv)
	}
	if r.execDir != "" {
		candidates = append(candidates, filepath.Join(r.execDir, venvDirName))
	}

	var sawVenvWithoutMarker bool
	for _, venv := range candidates {
		if venv == "" {
			continue
		}
		info, err := os.Stat(venv)
		if err != nil || !info.IsDir() {
			continue
		}
		bin := venvMarkerBinary(venv)
		if bin != "" && r.verify(bin) {
			return &Resolution{
				Status:     StatusVirtualEnvironment,
				VenvPath:   venv,
				BinaryPath: bin,
				Source:     "isolated virtual environment at " + venv,
			}
		}
		sawVenvWithoutMarker = true
	}

	if global := r.resolveGlobal(); global != "" {
		return &Resolution{
			Status:     StatusGlobal,
			BinaryPath: global,
			Source:     "global marker_single on PATH",
		}
	}

	if sawVenvWithoutMarker {
		return &Resolution{Status: StatusVenvExistsButMarkerMissing}
	}
	return &Resolution{Status: StatusNotFound}
}

func venvMarkerBinary(venv string) string {
	candidates := []string{
		filepath.Join(venv, "bin", "marker_single"),
		filepath.Join(venv, "Scripts", "marker_single.exe"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() && isExecutable(info.Mode()) {
			return c
		}
	}
	return ""
}

func isExecutable(mode os.FileMode) bool {
	return mode&0111 != 0 || mode.IsRegular()
}

func (r *Resolver) resolveGlobal() string {
	if path, err := r.lookPath("marker_single"); err == nil && r.verify(path) {
		return path
	}
	for _, loc := range commonGlobalLocations() {
		if info, err := os.Stat(loc); err == nil && !info.IsDir() && r.verify(loc) {
			return loc
		}
	}
	for _, finder := range []string{"which", "whereis"} {
		if out, err := exec.Command(finder, "marker_single").Output(); err == nil {
			if path := firstExistingPath(string(out)); path != "" && r.verify(path) {
				return path
			}
		}
	}
	return ""
}

// verifyMarkerExecutable runs `<path> --help` and checks that the
// output looks like marker_single's, grounded on
// verify_marker_executable_path/verify_global_marker_executable in
// pdf_processor.rs:344-356,412-446.
func verifyMarkerExecutable(path string) bool {
	out, err := exec.Command(path, "--help").Output()
	if err != nil {
		return false
	}
	stdout := string(out)
	return strings.Contains(stdout, "marker") || strings.Contains(stdout, "PDF") || strings.Contains(stdout, "markdown")
}

func commonGlobalLocations() []string {
	return []string{
		"/usr/local/bin/marker_single",
		"/usr/bin/marker_single",
		filepath.Join(os.Getenv("HOME"), ".local", "bin", "marker_single"),
	}
}

func firstExistingPath(output string) string {
	for _, field := range splitFields(output) {
		if info, err := os.Stat(field); err == nil && !info.IsDir() {
			return field
		}
	}
	return ""
}

func splitFields(s string) []string {
	var fields []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			fields = append(fields, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		switch r {
		case ' ', '\n', '\t', '\r', ':':
			flush()
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return fields
}
