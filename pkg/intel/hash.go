// Package intel turns AI findings into threat-intelligence artefacts:
// dedup hashes, STIX 2.1 bundles, and structured remediation guidance.
package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PrimaryTechnique picks the technique id that keys deduplication: the
// first listed, or empty when the finding carries none.
func PrimaryTechnique(techniqueIDs []string) string {
	if len(techniqueIDs) == 0 {
		return ""
	}
	return techniqueIDs[0]
}

// ContentHash computes the dedup key for a finding. Two findings with
// the same asset, title, and primary technique are the same artefact.
func ContentHash(assetID, title, primaryTechnique string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{assetID, title, primaryTechnique}, "|")))
	return hex.EncodeToString(sum[:])
}
