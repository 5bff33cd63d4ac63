package ai

import (
	"fmt"
	"strings"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const (
	promptStdoutLimit = 3 * 1024
	promptStderrLimit = 500
)

const systemPrompt = `You are a senior threat hunter analysing command output collected from a live host during an incident-response engagement.

Write a Markdown report with these sections:
- "## Executive Summary" — two or three sentences for an on-call lead.
- One "### <Finding Title>" subsection per distinct finding, each containing:
  **Severity**: one of critical, high, medium, low, info
  **Confidence**: a value between 0 and 1
  **MITRE ATT&CK**: technique ids (e.g. T1053.003)
  **Description**: what the evidence shows and why it matters
  **Remediation**: the immediate containment or hardening step
- "## Risk Assessment" — overall risk for the host.

After the report, emit exactly one fenced json block:

` + "```json" + `
{
  "summary": "...",
  "overall_risk": "critical|high|medium|low|info",
  "findings": [
    {
      "title": "...",
      "severity": "critical|high|medium|low|info",
      "confidence": 0.0,
      "description": "...",
      "technique_ids": ["T1059"],
      "indicators": [{"type": "ip|domain|hash|file_path|user|process", "value": "...", "context": "..."}],
      "remediation_steps": ["..."],
      "raw_evidence": "..."
    }
  ]
}
` + "```" + `

Report only what the evidence supports. An empty findings array is a valid answer for a clean host.`

// SystemPrompt returns the analysis system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// BuildUserPrompt renders the hunt's observations for the model: each
// step's command, exit code, and bounded slices of its output.
func BuildUserPrompt(module *models.HuntModule, observations []models.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hunt module: %s (%s)\n", module.Name, module.ID)
	if module.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", module.Description)
	}
	fmt.Fprintf(&b, "\nCollected observations (%d steps):\n", len(observations))

	for i, obs := range observations {
		fmt.Fprintf(&b, "\n--- Step %d: %s ---\n", i+1, obs.StepID)
		fmt.Fprintf(&b, "Command: %s\n", obs.Command)
		fmt.Fprintf(&b, "Exit code: %d\n", obs.ExitCode)
		if obs.Error != "" {
			fmt.Fprintf(&b, "Execution error: %s\n", obs.Error)
			continue
		}
		if stdout := clip(obs.Stdout, promptStdoutLimit); stdout != "" {
			fmt.Fprintf(&b, "Stdout:\n%s\n", stdout)
		}
		if stderr := clip(obs.Stderr, promptStderrLimit); stderr != "" {
			fmt.Fprintf(&b, "Stderr:\n%s\n", stderr)
		}
		if obs.Truncated {
			b.WriteString("(output truncated)\n")
		}
	}

	b.WriteString("\nAnalyse the observations and produce the report and json block.")
	return b.String()
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
