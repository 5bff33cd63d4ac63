package enrich

import (
	"context"
	"net/url"
)

// Shodan queries the Shodan host API. IP lookups only.
type Shodan struct {
	apiKey string
	http   *httpClient
}

// NewShodan creates a Shodan provider against baseURL.
func NewShodan(apiKey, baseURL string) *Shodan {
	return &Shodan{apiKey: apiKey, http: newHTTPClient(baseURL)}
}

func (s *Shodan) Name() string {
	return "shodan"
}

type shodanResponse struct {
	Ports       []int          `json:"ports"`
	Vulns       map[string]any `json:"vulns"`
	Tags        []string       `json:"tags"`
	CountryCode string         `json:"country_code"`
	ASN         string         `json:"asn"`
	ISP         string         `json:"isp"`
	LastUpdate  string         `json:"last_update"`
	Hostnames   []string       `json:"hostnames"`
	OS          string         `json:"os"`
	Org         string         `json:"org"`
}

// Lookup resolves one IOC. Failures are reported inside the result.
func (s *Shodan) Lookup(ctx context.Context, iocType, iocValue string) *Result {
	result := &Result{Provider: s.Name(), IOCType: iocType, IOCValue: iocValue}
	if iocType != "ip" {
		result.Error = "shodan only supports IP lookups"
		return result
	}

	var resp shodanResponse
	query := url.Values{"key": []string{s.apiKey}}
	if err := s.http.getJSON(ctx, "/shodan/host/"+iocValue, query, nil, &resp); err != nil {
		result.Error = err.Error()
		return result
	}

	vulns := make([]string, 0, len(resp.Vulns))
	for cve := range resp.Vulns {
		vulns = append(vulns, cve)
	}
	tags := append([]string{}, resp.Tags...)
	for i, cve := range vulns {
		if i == 5 {
			break
		}
		tags = append(tags, "CVE:"+cve)
	}

	score := float64(len(vulns)) * 0.1
	if score > 1.0 {
		score = 1.0
	}

	result.Malicious = boolPtr(len(vulns) > 0)
	result.Score = floatPtr(score)
	result.Country = resp.CountryCode
	result.ASN = resp.ASN
	result.ISP = resp.ISP
	result.Tags = tags
	result.LastSeen = resp.LastUpdate
	result.Raw = map[string]any{
		"ports":     resp.Ports,
		"vulns":     vulns,
		"hostnames": resp.Hostnames,
		"os":        resp.OS,
		"org":       resp.Org,
	}
	return result
}
