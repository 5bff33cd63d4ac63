// Package enrich looks up finding IOCs against external
// threat-intelligence services and folds the verdicts into events.
package enrich

import (
	"fmt"
	"strings"
)

// Result is one provider's verdict on one IOC. Lookup failures travel
// in Error rather than as Go errors so a batch never aborts.
type Result struct {
	Provider  string         `json:"provider"`
	IOCType   string         `json:"ioc_type"`
	IOCValue  string         `json:"ioc_value"`
	Malicious *bool          `json:"malicious,omitempty"`
	Score     *float64       `json:"score,omitempty"` // 0.0 – 1.0
	Tags      []string       `json:"tags,omitempty"`
	Country   string         `json:"country,omitempty"`
	ASN       string         `json:"asn,omitempty"`
	ISP       string         `json:"isp,omitempty"`
	LastSeen  string         `json:"last_seen,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Summary renders the verdict for event payloads.
func (r *Result) Summary() string {
	if r.Error != "" {
		return "Error: " + r.Error
	}
	var parts []string
	if r.Malicious != nil {
		if *r.Malicious {
			parts = append(parts, "MALICIOUS")
		} else {
			parts = append(parts, "clean")
		}
	}
	if r.Score != nil {
		parts = append(parts, fmt.Sprintf("score=%.2f", *r.Score))
	}
	if r.Country != "" {
		parts = append(parts, "country="+r.Country)
	}
	if r.ASN != "" {
		parts = append(parts, "ASN="+r.ASN)
	}
	if len(r.Tags) > 0 {
		n := len(r.Tags)
		if n > 3 {
			n = 3
		}
		parts = append(parts, "tags=["+strings.Join(r.Tags[:n], ",")+"]")
	}
	if len(parts) == 0 {
		return "no data"
	}
	return strings.Join(parts, "; ")
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
