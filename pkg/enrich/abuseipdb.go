package enrich

import (
	"context"
	"net/url"
	"strconv"
)

// abuseCategoryNames labels AbuseIPDB report category ids.
var abuseCategoryNames = map[int]string{
	3: "Fraud Orders", 4: "DDoS Attack", 5: "FTP Brute-Force",
	6: "Ping of Death", 7: "Phishing", 8: "Fraud VoIP",
	9: "Open Proxy", 10: "Web Spam", 11: "Email Spam",
	12: "Blog Spam", 13: "VPN IP", 14: "Port Scan",
	15: "Hacking", 16: "SQL Injection", 17: "Spoofing",
	18: "Brute-Force", 19: "Bad Web Bot", 20: "Exploited Host",
	21: "Web App Attack", 22: "SSH", 23: "IoT Targeted",
}

// AbuseIPDB queries the AbuseIPDB v2 check endpoint. IP lookups only.
type AbuseIPDB struct {
	apiKey string
	http   *httpClient
}

// NewAbuseIPDB creates an AbuseIPDB provider against baseURL.
func NewAbuseIPDB(apiKey, baseURL string) *AbuseIPDB {
	return &AbuseIPDB{apiKey: apiKey, http: newHTTPClient(baseURL)}
}

func (a *AbuseIPDB) Name() string {
	return "abuseipdb"
}

type abuseResponse struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		ISP                  string `json:"isp"`
		UsageType            string `json:"usageType"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		IsTor                bool   `json:"isTor"`
		IsPublic             bool   `json:"isPublic"`
		LastReportedAt       string `json:"lastReportedAt"`
		Reports              []struct {
			Categories []int `json:"categories"`
		} `json:"reports"`
	} `json:"data"`
}

// Lookup resolves one IOC. Failures are reported inside the result.
func (a *AbuseIPDB) Lookup(ctx context.Context, iocType, iocValue string) *Result {
	result := &Result{Provider: a.Name(), IOCType: iocType, IOCValue: iocValue}
	if iocType != "ip" {
		result.Error = "abuseipdb only supports IP lookups"
		return result
	}

	query := url.Values{
		"ipAddress":    []string{iocValue},
		"maxAgeInDays": []string{"90"},
		"verbose":      []string{"true"},
	}
	headers := map[string]string{"Key": a.apiKey, "Accept": "application/json"}

	var resp abuseResponse
	if err := a.http.getJSON(ctx, "/check", query, headers, &resp); err != nil {
		result.Error = err.Error()
		return result
	}

	info := resp.Data
	var tags []string
	for i, report := range info.Reports {
		if i == 5 {
			break
		}
		for _, id := range report.Categories {
			label, ok := abuseCategoryNames[id]
			if !ok {
				label = strconv.Itoa(id)
			}
			if !contains(tags, label) {
				tags = append(tags, label)
			}
		}
	}
	if len(tags) > 8 {
		tags = tags[:8]
	}

	result.Malicious = boolPtr(info.AbuseConfidenceScore >= 25)
	result.Score = floatPtr(float64(info.AbuseConfidenceScore) / 100)
	result.Country = info.CountryCode
	result.ISP = info.ISP
	result.Tags = tags
	result.LastSeen = info.LastReportedAt
	result.Raw = map[string]any{
		"abuse_confidence_score": info.AbuseConfidenceScore,
		"total_reports":          info.TotalReports,
		"distinct_users":         info.NumDistinctUsers,
		"usage_type":             info.UsageType,
		"is_tor":                 info.IsTor,
		"is_public":              info.IsPublic,
	}
	return result
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
