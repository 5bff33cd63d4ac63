package enrich

import (
	"context"
	"fmt"
)

// VirusTotal queries the VirusTotal v3 API for IPs, domains, and file
// hashes.
type VirusTotal struct {
	apiKey string
	http   *httpClient
}

// NewVirusTotal creates a VirusTotal provider against baseURL.
func NewVirusTotal(apiKey, baseURL string) *VirusTotal {
	return &VirusTotal{apiKey: apiKey, http: newHTTPClient(baseURL)}
}

func (v *VirusTotal) Name() string {
	return "virustotal"
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			Country           string         `json:"country"`
			ASN               int            `json:"asn"`
			ASOwner           string         `json:"as_owner"`
			Tags              []string       `json:"tags"`
			LastAnalysisDate  int64          `json:"last_analysis_date"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup resolves one IOC. Failures are reported inside the result.
func (v *VirusTotal) Lookup(ctx context.Context, iocType, iocValue string) *Result {
	result := &Result{Provider: v.Name(), IOCType: iocType, IOCValue: iocValue}

	var path string
	switch iocType {
	case "ip":
		path = "/ip_addresses/" + iocValue
	case "domain":
		path = "/domains/" + iocValue
	case "hash":
		path = "/files/" + iocValue
	default:
		result.Error = fmt.Sprintf("unsupported IOC type: %s", iocType)
		return result
	}

	var resp vtResponse
	if err := v.http.getJSON(ctx, path, nil, map[string]string{"x-apikey": v.apiKey}, &resp); err != nil {
		result.Error = err.Error()
		return result
	}

	attrs := resp.Data.Attributes
	malicious := attrs.LastAnalysisStats["malicious"]
	total := 0
	for _, n := range attrs.LastAnalysisStats {
		total += n
	}
	if total == 0 {
		total = 1
	}

	result.Malicious = boolPtr(malicious > 0)
	result.Score = floatPtr(float64(malicious) / float64(total))
	result.Tags = attrs.Tags
	if iocType == "ip" {
		result.Country = attrs.Country
		if attrs.ASN != 0 {
			result.ASN = fmt.Sprintf("%d", attrs.ASN)
		}
		result.ISP = attrs.ASOwner
	}
	if iocType == "hash" && attrs.LastAnalysisDate != 0 {
		result.LastSeen = fmt.Sprintf("%d", attrs.LastAnalysisDate)
	}
	result.Raw = map[string]any{"last_analysis_stats": attrs.LastAnalysisStats}
	return result
}
