package intel

import (
	"encoding/json"
	"fmt"
)

// ValidateBundle runs a light structural check over a marshalled STIX
// bundle: bundle envelope fields, per-object required fields, and that
// every report object_ref resolves to an object in the bundle.
func ValidateBundle(raw []byte) error {
	var bundle struct {
		Type        string            `json:"type"`
		ID          string            `json:"id"`
		SpecVersion string            `json:"spec_version"`
		Objects     []json.RawMessage `json:"objects"`
	}
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}
	if bundle.Type != "bundle" {
		return fmt.Errorf("bundle type is %q, want \"bundle\"", bundle.Type)
	}
	if bundle.SpecVersion != stixSpecVersion {
		return fmt.Errorf("bundle spec_version is %q, want %q", bundle.SpecVersion, stixSpecVersion)
	}
	if bundle.ID == "" {
		return fmt.Errorf("bundle has no id")
	}
	if len(bundle.Objects) == 0 {
		return fmt.Errorf("bundle has no objects")
	}

	ids := make(map[string]bool, len(bundle.Objects))
	var reports []struct {
		ID         string   `json:"id"`
		ObjectRefs []string `json:"object_refs"`
	}
	for i, rawObj := range bundle.Objects {
		var obj struct {
			Type        string   `json:"type"`
			ID          string   `json:"id"`
			SpecVersion string   `json:"spec_version"`
			ObjectRefs  []string `json:"object_refs"`
		}
		if err := json.Unmarshal(rawObj, &obj); err != nil {
			return fmt.Errorf("decode object %d: %w", i, err)
		}
		if obj.Type == "" || obj.ID == "" {
			return fmt.Errorf("object %d is missing type or id", i)
		}
		if obj.SpecVersion != stixSpecVersion {
			return fmt.Errorf("object %s spec_version is %q, want %q", obj.ID, obj.SpecVersion, stixSpecVersion)
		}
		ids[obj.ID] = true
		if obj.Type == "report" {
			reports = append(reports, struct {
				ID         string   `json:"id"`
				ObjectRefs []string `json:"object_refs"`
			}{obj.ID, obj.ObjectRefs})
		}
	}

	for _, report := range reports {
		for _, ref := range report.ObjectRefs {
			if !ids[ref] {
				return fmt.Errorf("report %s references missing object %s", report.ID, ref)
			}
		}
	}
	return nil
}
