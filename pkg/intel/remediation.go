package intel

import (
	"strings"

	"github.com/darkhound-project/darkhound/pkg/models"
)

var immediateKeywords = []string{"remove", "delete", "kill", "disable", "revoke", "block", "stop"}
var longTermKeywords = []string{"implement", "deploy", "configure", "monitor", "review policy", "audit"}

// Remediation is the structured guidance persisted alongside a finding.
type Remediation struct {
	ImmediateActions    []string `json:"immediate_actions"`
	ShortTermActions    []string `json:"short_term_actions"`
	LongTermActions     []string `json:"long_term_actions"`
	AllSteps            []string `json:"all_steps"`
	TechniqueReferences []string `json:"technique_references"`
	Severity            string   `json:"severity"`
}

// Summary returns the most urgent step for notification payloads.
func (r *Remediation) Summary() string {
	if len(r.ImmediateActions) > 0 {
		return r.ImmediateActions[0]
	}
	if len(r.ShortTermActions) > 0 {
		return r.ShortTermActions[0]
	}
	if len(r.LongTermActions) > 0 {
		return r.LongTermActions[0]
	}
	return ""
}

// StructureRemediation buckets a finding's remediation steps by urgency.
// Containment verbs sort a step into immediate actions, hardening verbs
// into long-term, everything else into short-term.
func StructureRemediation(f *models.AIFinding, severity models.Severity) *Remediation {
	r := &Remediation{
		ImmediateActions:    []string{},
		ShortTermActions:    []string{},
		LongTermActions:     []string{},
		AllSteps:            f.RemediationSteps,
		TechniqueReferences: f.TechniqueIDs,
		Severity:            string(severity),
	}
	if r.AllSteps == nil {
		r.AllSteps = []string{}
	}
	if r.TechniqueReferences == nil {
		r.TechniqueReferences = []string{}
	}

	for _, step := range f.RemediationSteps {
		lower := strings.ToLower(step)
		switch {
		case containsAny(lower, immediateKeywords):
			r.ImmediateActions = append(r.ImmediateActions, step)
		case containsAny(lower, longTermKeywords):
			r.LongTermActions = append(r.LongTermActions, step)
		default:
			r.ShortTermActions = append(r.ShortTermActions, step)
		}
	}
	return r
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
