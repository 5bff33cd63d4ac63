package intel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const (
	stixSpecVersion = "2.1"
	stixTimeFormat  = "2006-01-02T15:04:05Z"
	// fallbackPattern keeps the indicator object valid when a finding
	// carries no renderable IOC.
	fallbackPattern = "[ipv4-addr:value = '0.0.0.0']"
)

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

type stixIndicator struct {
	Type           string   `json:"type"`
	SpecVersion    string   `json:"spec_version"`
	ID             string   `json:"id"`
	Created        string   `json:"created"`
	Modified       string   `json:"modified"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	IndicatorTypes []string `json:"indicator_types"`
	Pattern        string   `json:"pattern"`
	PatternType    string   `json:"pattern_type"`
	ValidFrom      string   `json:"valid_from"`
	Confidence     int      `json:"confidence"`
	Labels         []string `json:"labels,omitempty"`
}

type stixAttackPattern struct {
	Type               string              `json:"type"`
	SpecVersion        string              `json:"spec_version"`
	ID                 string              `json:"id"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	ExternalReferences []externalReference `json:"external_references"`
}

type stixRelationship struct {
	Type             string `json:"type"`
	SpecVersion      string `json:"spec_version"`
	ID               string `json:"id"`
	Created          string `json:"created"`
	Modified         string `json:"modified"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

type stixReport struct {
	Type        string   `json:"type"`
	SpecVersion string   `json:"spec_version"`
	ID          string   `json:"id"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Published   string   `json:"published"`
	ReportTypes []string `json:"report_types"`
	ObjectRefs  []string `json:"object_refs"`
	Confidence  int      `json:"confidence"`
	Labels      []string `json:"labels"`
}

type stixBundle struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	SpecVersion string `json:"spec_version"`
	Objects     []any  `json:"objects"`
}

// BuildBundle assembles a STIX 2.1 bundle for one finding: an indicator
// whose pattern joins the finding's renderable IOCs, an attack-pattern
// per MITRE technique, "indicates" relationships between them, and a
// report referencing every object. Confidence must already be
// normalised to [0,1]. Returns the marshalled bundle and its id.
func BuildBundle(f *models.AIFinding, severity models.Severity, confidence float64) ([]byte, string, error) {
	now := time.Now().UTC().Format(stixTimeFormat)
	bundleID := "bundle--" + uuid.NewString()
	indicatorID := "indicator--" + uuid.NewString()
	pct := int(confidence * 100)

	var patterns []string
	for _, ioc := range f.Indicators {
		if p, ok := PatternFromIndicator(ioc); ok {
			patterns = append(patterns, p.Render())
		}
	}
	pattern := fallbackPattern
	if len(patterns) > 0 {
		pattern = strings.Join(patterns, " OR ")
	}

	objects := []any{stixIndicator{
		Type:           "indicator",
		SpecVersion:    stixSpecVersion,
		ID:             indicatorID,
		Created:        now,
		Modified:       now,
		Name:           f.Title,
		Description:    f.Description,
		IndicatorTypes: []string{"malicious-activity"},
		Pattern:        pattern,
		PatternType:    "stix",
		ValidFrom:      now,
		Confidence:     pct,
		Labels:         f.TechniqueIDs,
	}}

	refs := []string{indicatorID}
	for _, techniqueID := range f.TechniqueIDs {
		apID := "attack-pattern--" + uuid.NewString()
		relID := "relationship--" + uuid.NewString()
		objects = append(objects,
			stixAttackPattern{
				Type:        "attack-pattern",
				SpecVersion: stixSpecVersion,
				ID:          apID,
				Created:     now,
				Modified:    now,
				Name:        techniqueID,
				ExternalReferences: []externalReference{{
					SourceName: "mitre-attack",
					ExternalID: techniqueID,
					URL:        "https://attack.mitre.org/techniques/" + strings.ReplaceAll(techniqueID, ".", "/"),
				}},
			},
			stixRelationship{
				Type:             "relationship",
				SpecVersion:      stixSpecVersion,
				ID:               relID,
				Created:          now,
				Modified:         now,
				RelationshipType: "indicates",
				SourceRef:        indicatorID,
				TargetRef:        apID,
			},
		)
		refs = append(refs, apID, relID)
	}

	objects = append(objects, stixReport{
		Type:        "report",
		SpecVersion: stixSpecVersion,
		ID:          "report--" + uuid.NewString(),
		Created:     now,
		Modified:    now,
		Name:        f.Title,
		Description: f.Description,
		Published:   now,
		ReportTypes: []string{"threat-report"},
		ObjectRefs:  refs,
		Confidence:  pct,
		Labels:      []string{string(severity)},
	})

	raw, err := json.Marshal(stixBundle{
		Type:        "bundle",
		ID:          bundleID,
		SpecVersion: stixSpecVersion,
		Objects:     objects,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal stix bundle: %w", err)
	}
	if err := ValidateBundle(raw); err != nil {
		return nil, "", err
	}
	return raw, bundleID, nil
}
