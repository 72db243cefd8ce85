// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import "testing"

func TestClassifyStderr(t *testing.T) {
	cases := []struct {
		stderr string
		want   FailureClass
	}{
		{"CUDA out of memory", ClassOutOfMemory},
		{"Process killed", ClassOutOfMemory},
		{"ConnectionError: failed to download model from huggingface.co", ClassModelDownload},
		{"invalid PDF header", ClassCorruptedPDF},
		{"ModuleNotFoundError: No module named 'marker'", ClassMissingDependency},
		{"some unrelated stack trace", ClassUnknown},
	}
	for _, c := range cases {
		if got := classifyStderr(c.stderr); got != c.want {
			t.Errorf("classifyStderr(%q) = %q, want %q", c.stderr, got, c.want)
		}
	}
}

func TestResolutionFound(t *testing.T) {
	found := &Resolution{Status: StatusGlobal, BinaryPath: "/usr/local/bin/marker_single"}
	if !found.Found() {
		t.Error("expected Found() true for a global resolution with a binary path")
	}

	notFound := &Resolution{Status: StatusNotFound}
	if notFound.Found() {
		t.Error("expected Found() false for StatusNotFound")
	}

	venvMissing := &Resolution{Status: StatusVenvExistsButMarkerMissing}
	if venvMissing.Found() {
		t.Error("expected Found() false when venv exists but marker_single is missing")
	}
}
