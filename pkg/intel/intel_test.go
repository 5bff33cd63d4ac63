package intel

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhound-project/darkhound/pkg/models"
)

func TestContentHash(t *testing.T) {
	h1 := ContentHash("asset-1", "Rogue Key", "T1098")
	h2 := ContentHash("asset-1", "Rogue Key", "T1098")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	assert.NotEqual(t, h1, ContentHash("asset-2", "Rogue Key", "T1098"))
	assert.NotEqual(t, h1, ContentHash("asset-1", "Rogue Key", ""))
	assert.NotEqual(t, h1, ContentHash("asset-1", "Other Title", "T1098"))
}

func TestPrimaryTechnique(t *testing.T) {
	assert.Equal(t, "T1053", PrimaryTechnique([]string{"T1053", "T1098"}))
	assert.Equal(t, "", PrimaryTechnique(nil))
}

func TestPatternFromIndicator(t *testing.T) {
	md5 := strings.Repeat("a", 32)
	sha1 := strings.Repeat("b", 40)
	sha256 := strings.Repeat("c", 64)

	tests := []struct {
		name string
		ioc  models.Indicator
		want string
		ok   bool
	}{
		{"ip", models.Indicator{Type: "ip", Value: "10.0.0.5"}, "[ipv4-addr:value = '10.0.0.5']", true},
		{"domain", models.Indicator{Type: "domain", Value: "evil.example.com"}, "[domain-name:value = 'evil.example.com']", true},
		{"md5", models.Indicator{Type: "hash", Value: md5}, "[file:hashes.MD5 = '" + md5 + "']", true},
		{"sha1", models.Indicator{Type: "hash", Value: sha1}, "[file:hashes.SHA-1 = '" + sha1 + "']", true},
		{"sha256", models.Indicator{Type: "hash", Value: sha256}, "[file:hashes.SHA-256 = '" + sha256 + "']", true},
		{"file path", models.Indicator{Type: "file_path", Value: "/tmp/.hidden"}, "[file:name = '/tmp/.hidden']", true},
		{"odd hash length", models.Indicator{Type: "hash", Value: "abc123"}, "", false},
		{"user has no observable", models.Indicator{Type: "user", Value: "eve"}, "", false},
		{"process has no observable", models.Indicator{Type: "process", Value: "nc"}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := PatternFromIndicator(tc.ioc)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, p.Render())
			}
		})
	}
}

func sampleFinding() *models.AIFinding {
	return &models.AIFinding{
		Title:       "Suspicious Cron Entry",
		Severity:    "high",
		Description: "A cron job downloads a remote script.",
		TechniqueIDs: []string{
			"T1053.003",
			"T1105",
		},
		Indicators: []models.Indicator{
			{Type: "domain", Value: "evil.example.com"},
			{Type: "ip", Value: "203.0.113.9"},
		},
		RemediationSteps: []string{
			"Remove the cron entry",
			"Implement egress filtering",
			"Rotate the affected account credentials",
		},
	}
}

func TestBuildBundle(t *testing.T) {
	raw, bundleID, err := BuildBundle(sampleFinding(), models.SeverityHigh, 0.85)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(bundleID, "bundle--"))

	var bundle struct {
		Type        string           `json:"type"`
		ID          string           `json:"id"`
		SpecVersion string           `json:"spec_version"`
		Objects     []map[string]any `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(raw, &bundle))
	assert.Equal(t, "bundle", bundle.Type)
	assert.Equal(t, bundleID, bundle.ID)
	assert.Equal(t, "2.1", bundle.SpecVersion)

	// indicator + 2 attack-patterns + 2 relationships + report
	require.Len(t, bundle.Objects, 6)

	byType := map[string][]map[string]any{}
	for _, obj := range bundle.Objects {
		typ := obj["type"].(string)
		byType[typ] = append(byType[typ], obj)
	}

	require.Len(t, byType["indicator"], 1)
	indicator := byType["indicator"][0]
	assert.Equal(t, "[domain-name:value = 'evil.example.com'] OR [ipv4-addr:value = '203.0.113.9']", indicator["pattern"])
	assert.Equal(t, "stix", indicator["pattern_type"])
	assert.EqualValues(t, 85, indicator["confidence"])

	require.Len(t, byType["attack-pattern"], 2)
	ap := byType["attack-pattern"][0]
	refs := ap["external_references"].([]any)
	ref := refs[0].(map[string]any)
	assert.Equal(t, "mitre-attack", ref["source_name"])
	assert.Equal(t, "https://attack.mitre.org/techniques/T1053/003", ref["url"])

	require.Len(t, byType["relationship"], 2)
	rel := byType["relationship"][0]
	assert.Equal(t, "indicates", rel["relationship_type"])
	assert.Equal(t, indicator["id"], rel["source_ref"])

	require.Len(t, byType["report"], 1)
	report := byType["report"][0]
	assert.Len(t, report["object_refs"].([]any), 5)
	assert.Equal(t, []any{"high"}, report["labels"])
}

func TestBuildBundleNoRenderableIOCs(t *testing.T) {
	f := &models.AIFinding{
		Title:      "Odd Login",
		Indicators: []models.Indicator{{Type: "user", Value: "eve"}},
	}
	raw, _, err := BuildBundle(f, models.SeverityLow, 0.3)
	require.NoError(t, err)

	var bundle struct {
		Objects []map[string]any `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(raw, &bundle))
	assert.Equal(t, fallbackPattern, bundle.Objects[0]["pattern"])
}

func TestValidateBundle(t *testing.T) {
	raw, _, err := BuildBundle(sampleFinding(), models.SeverityHigh, 0.85)
	require.NoError(t, err)
	assert.NoError(t, ValidateBundle(raw))

	tests := []struct {
		name  string
		input string
	}{
		{"not a bundle", `{"type":"report","id":"x","spec_version":"2.1","objects":[]}`},
		{"wrong spec version", `{"type":"bundle","id":"b","spec_version":"2.0","objects":[{"type":"indicator","id":"i","spec_version":"2.0"}]}`},
		{"no objects", `{"type":"bundle","id":"b","spec_version":"2.1","objects":[]}`},
		{"object missing id", `{"type":"bundle","id":"b","spec_version":"2.1","objects":[{"type":"indicator","spec_version":"2.1"}]}`},
		{"dangling report ref", `{"type":"bundle","id":"b","spec_version":"2.1","objects":[{"type":"report","id":"report--1","spec_version":"2.1","object_refs":["indicator--missing"]}]}`},
		{"not json", `{{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateBundle([]byte(tc.input)))
		})
	}
}

func TestStructureRemediation(t *testing.T) {
	r := StructureRemediation(sampleFinding(), models.SeverityHigh)

	assert.Equal(t, []string{"Remove the cron entry"}, r.ImmediateActions)
	assert.Equal(t, []string{"Implement egress filtering"}, r.LongTermActions)
	assert.Equal(t, []string{"Rotate the affected account credentials"}, r.ShortTermActions)
	assert.Len(t, r.AllSteps, 3)
	assert.Equal(t, []string{"T1053.003", "T1105"}, r.TechniqueReferences)
	assert.Equal(t, "high", r.Severity)
	assert.Equal(t, "Remove the cron entry", r.Summary())
}

func TestStructureRemediationEmptySteps(t *testing.T) {
	r := StructureRemediation(&models.AIFinding{Title: "x"}, models.SeverityInfo)
	assert.Empty(t, r.AllSteps)
	assert.NotNil(t, r.ImmediateActions)
	assert.Equal(t, "", r.Summary())

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"immediate_actions":[]`)
}
