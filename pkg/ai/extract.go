// Package ai runs the streaming analysis pipeline: provider streams,
// chunk batching, result extraction, and finding normalisation.
package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const jsonFence = "```json"

var errNoFence = errors.New("no json fence in response")

// techniqueRe matches MITRE ATT&CK technique ids, sub-techniques included.
var techniqueRe = regexp.MustCompile(`T\d{4}(?:\.\d{3})?`)

// ExtractResult parses the structured analysis out of an assembled
// response. Primary path is the last ```json fence (repaired when the
// closing fence was truncated away); fallback is the Markdown report.
func ExtractResult(text string) (*models.AIAnalysisResult, error) {
	result, err := extractJSON(text)
	if err == nil && len(result.Findings) > 0 {
		return result, nil
	}

	fallback := parseMarkdownReport(text)
	if len(fallback.Findings) > 0 {
		return fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("no findings extracted: %w", err)
	}
	return result, nil
}

// extractJSON locates the LAST ```json fence — models sometimes emit
// example fences earlier in the narrative — and parses its contents.
func extractJSON(text string) (*models.AIAnalysisResult, error) {
	idx := strings.LastIndex(text, jsonFence)
	if idx < 0 {
		return nil, errNoFence
	}

	payload := text[idx+len(jsonFence):]
	if end := strings.Index(payload, "```"); end >= 0 {
		payload = payload[:end]
	} else {
		// Truncated stream: the closing fence never arrived.
		payload = repairJSON(payload)
	}

	var result models.AIAnalysisResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &result); err != nil {
		return nil, fmt.Errorf("parse analysis json: %w", err)
	}
	return &result, nil
}

// repairJSON patches a truncated JSON document: close an unterminated
// string, drop a trailing comma, then balance the open brackets in
// reverse order.
func repairJSON(s string) string {
	var closers []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) > 0 && closers[len(closers)-1] == c {
				closers = closers[:len(closers)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	trimmed := strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		s = strings.TrimSuffix(trimmed, ",")
	}
	for i := len(closers) - 1; i >= 0; i-- {
		s += string(closers[i])
	}
	return s
}

// skippedSections are report headings that are narrative, not findings.
var skippedSections = map[string]bool{
	"Executive Summary":   true,
	"Risk Assessment":     true,
	"Remediation Summary": true,
}

// parseMarkdownReport recovers findings from the Markdown report when the
// JSON block is absent or unusable.
func parseMarkdownReport(text string) *models.AIAnalysisResult {
	result := &models.AIAnalysisResult{}

	var current *models.AIFinding
	flush := func() {
		if current != nil && current.Title != "" {
			result.Findings = append(result.Findings, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### ") {
			flush()
			title := strings.TrimSpace(trimmed[4:])
			if skippedSections[title] {
				continue
			}
			current = &models.AIFinding{Title: title, Severity: "medium", Confidence: 0.5}
			continue
		}
		if current == nil {
			continue
		}

		key, value, ok := parseBoldField(trimmed)
		if !ok {
			continue
		}
		switch key {
		case "severity":
			current.Severity = strings.ToLower(value)
		case "confidence":
			if v, ok := parseConfidenceString(value); ok {
				current.Confidence = v
			}
		case "mitre att&ck", "mitre attack", "techniques":
			current.TechniqueIDs = techniqueRe.FindAllString(value, -1)
		case "description":
			current.Description = value
		case "remediation":
			current.RemediationSteps = []string{value}
		}
	}
	flush()
	return result
}

// parseBoldField handles "**Key**: value" report lines.
func parseBoldField(line string) (key, value string, ok bool) {
	if !strings.HasPrefix(line, "**") {
		return "", "", false
	}
	rest := line[2:]
	end := strings.Index(rest, "**")
	if end < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(rest[:end]))
	value = strings.TrimSpace(strings.TrimPrefix(rest[end+2:], ":"))
	return key, value, true
}

// parseConfidenceString accepts raw floats, "NN%", and "a/b" fractions.
func parseConfidenceString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasSuffix(s, "%") {
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, false
		}
		return n / 100, true
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN == nil && errD == nil && d != 0 {
			return n / d, true
		}
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
