// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"regexp"
	"strings"
)

var listItemPattern = regexp.MustCompile(`^\s*([-*•]|\d+[.)])\s+`)

// codeLikePattern mirrors looks_like_code in pdf_processor.rs:673-684:
// common keywords from several languages, plus four-space indentation
// paired with a paren/brace/semicolon.
var codeLikePattern = regexp.MustCompile(`function |class |def |import |from |SELECT |INSERT |UPDATE `)

// ConvertToMarkdown is the second pass of the in-process tier: it
// turns go-fitz's raw extracted text into passable Markdown using
// surface heuristics rather than real layout analysis.
func ConvertToMarkdown(raw string) string {
	rawLines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	trimmedLines := make([]string, len(rawLines))
	for i, l := range rawLines {
		trimmedLines[i] = strings.TrimSpace(l)
	}

	var out []string
	var paragraph []string
	var inCodeBlock bool

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		out = append(out, strings.Join(paragraph, " "))
		paragraph = paragraph[:0]
	}

	for i, line := range rawLines {
		trimmed := trimmedLines[i]

		if trimmed == "" {
			flushParagraph()
			continue
		}

		if looksLikeCode(line) {
			flushParagraph()
			if !inCodeBlock {
				out = append(out, "```")
				inCodeBlock = true
			}
			out = append(out, line)
			continue
		}
		if inCodeBlock {
			out = append(out, "```")
			inCodeBlock = false
		}

		if listItemPattern.MatchString(line) {
			flushParagraph()
			out = append(out, normalizeListItem(line))
			continue
		}

		if looksLikeHeading(trimmed) {
			flushParagraph()
			level := headingLevel(trimmed, i, trimmedLines)
			out = append(out, strings.Repeat("#", level)+" "+trimmed)
			continue
		}

		paragraph = append(paragraph, trimmed)
	}
	flushParagraph()
	if inCodeBlock {
		out = append(out, "```")
	}

	return strings.TrimSpace(strings.Join(out, "\n\n"))
}

func looksLikeCode(line string) bool {
	if codeLikePattern.MatchString(line) {
		return true
	}
	if !strings.HasPrefix(line, "    ") {
		return false
	}
	return strings.ContainsAny(line, "({;")
}

func normalizeListItem(line string) string {
	trimmed := strings.TrimSpace(line)
	match := listItemPattern.FindString(trimmed)
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, match))
	return "- " + rest
}

// looksLikeHeading mirrors looks_like_heading in
// pdf_processor.rs:687-711: short, not sentence-terminated, carries at
// least one uppercase letter, and no more than 12 words (spec.md 4.4.4).
func looksLikeHeading(line string) bool {
	if line == "" || len(line) > 100 {
		return false
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") || strings.HasSuffix(line, ";") ||
		strings.HasSuffix(line, "!") || strings.HasSuffix(line, "?") {
		return false
	}
	if !strings.ContainsFunc(line, func(r rune) bool { return r >= 'A' && r <= 'Z' }) {
		return false
	}
	words := strings.Fields(line)
	return len(words) <= 12
}

// headingLevel mirrors determine_heading_level in
// pdf_processor.rs:625-649: all-caps lines are level 1, title-cased
// lines (>=75% of words uppercase-initial, per isTitleCase) are level
// 2, lines isolated by blank lines on both sides are level 2, and
// everything else that reached here is level 3.
func headingLevel(line string, index int, lines []string) int {
	if isAllCaps(line) {
		return 1
	}
	if isTitleCase(line) {
		return 2
	}
	if index > 0 && index < len(lines)-1 {
		prev := lines[index-1]
		next := lines[index+1]
		if prev == "" && next == "" {
			return 2
		}
	}
	return 3
}

// isAllCaps reports whether every letter in line is uppercase (non-
// letters are ignored), matching the Rust original's
// char::is_uppercase() || !is_alphabetic() check.
func isAllCaps(line string) bool {
	hasLetter := false
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

// isTitleCase reports whether at least 75% of line's words start with
// an uppercase letter, matching is_title_case in pdf_processor.rs:652-670.
func isTitleCase(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	titleCased := 0
	for _, w := range words {
		r := []rune(w)
		if len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z' {
			titleCased++
		}
	}
	return float64(titleCased)/float64(len(words)) >= 0.75
}
