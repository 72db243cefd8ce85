// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"github.com/northbound/stellar/internal/logger"
)

// Result is the outcome of a successful extraction attempt.
type Result struct {
	Markdown string
	// Source names which tier of the fallback chain produced Markdown:
	// "marker_single" or "go-fitz+heuristic".
	Source string
}

// Extractor drives the subprocess -> in-process fallback chain
// described in spec.md 4.4.3. The in-process tier passes go-fitz text
// through ConvertToMarkdown; the heuristic converter never runs on its
// own, so when go-fitz yields no text Extract returns an error.
type Extractor struct {
	resolver *Resolver
	timeout  time.Duration
	log      *logger.Logger
}

// NewExtractor builds an Extractor. log may be nil, in which case
// fallback events are not logged.
func NewExtractor(timeout time.Duration, log *logger.Logger) *Extractor {
	return &Extractor{resolver: NewResolver(), timeout: timeout, log: log}
}

// Extract runs the full fallback chain against inputPath.
func (e *Extractor) Extract(ctx context.Context, inputPath string, opts Options) (*Result, error) {
	resolution := e.resolver.Resolve()

	if resolution.Found() {
		driver := NewDriver(resolution, e.timeout)
		markdown, err := driver.Extract(ctx, inputPath, opts)
		if err == nil {
			return &Result{Markdown: markdown, Source: "marker_single"}, nil
		}
		if isFileMissing(err) {
			e.logf("marker_single extraction failed (%v): input file missing, not falling back", err)
			return nil, err
		}
		e.logf("marker_single extraction failed (%v), falling back to go-fitz", err)
	} else {
		e.logf("no marker_single runtime resolved (%s), falling back to go-fitz", resolution.Status)
	}

	// A tier succeeding only after the input file itself went missing
	// makes no sense; check once up front so every remaining tier shares
	// the same short-circuit per spec.md 4.4.3.
	if _, err := os.Stat(inputPath); err != nil {
		return nil, &Error{Stage: "in-process", Class: ClassFileMissing, Wrapped: fmt.Errorf("input file not found: %s", inputPath)}
	}

	rawText, fitzErr := extractWithFitz(inputPath)
	if fitzErr == nil && strings.TrimSpace(rawText) != "" {
		markdown := ConvertToMarkdown(rawText)
		return &Result{Markdown: markdown, Source: "go-fitz+heuristic"}, nil
	}
	if fitzErr != nil {
		e.logf("go-fitz extraction failed (%v), no further fallback available", fitzErr)
	}

	return nil, &Error{Stage: "fallback", Class: ClassUnknown, Wrapped: fmt.Errorf("all extraction tiers failed for %s", inputPath)}
}

// isFileMissing reports whether err is (or wraps) an *Error classified
// as ClassFileMissing.
func isFileMissing(err error) bool {
	var extractErr *Error
	if errors.As(err, &extractErr) {
		return extractErr.Class == ClassFileMissing
	}
	return false
}

func (e *Extractor) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}

// extractWithFitz pulls raw page text out of a PDF using MuPDF
// bindings, with no markdown structuring of its own — ConvertToMarkdown
// does that in a second pass.
func extractWithFitz(inputPath string) (string, error) {
	doc, err := fitz.New(inputPath)
	if err != nil {
		return "", fmt.Errorf("opening pdf with go-fitz: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	numPages := doc.NumPage()
	for i := 0; i < numPages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		if i < numPages-1 {
			sb.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from %s", inputPath)
	}
	return text, nil
}
