// Package hunt loads declarative hunt modules from markdown and runs
// them step by step against a session's remote shell.
package hunt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const defaultStepTimeout = 30

// frontMatter is the YAML header of a module file.
type frontMatter struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	OSTypes      []string `yaml:"os_types"`
	Tags         []string `yaml:"tags"`
	SeverityHint string   `yaml:"severity_hint"`
}

// Parse reads one module from its markdown + front-matter form.
func Parse(content string) (*models.HuntModule, error) {
	header, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}
	if fm.ID == "" {
		return nil, fmt.Errorf("module missing id")
	}

	steps, err := parseSteps(body)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", fm.ID, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("module %s has no steps", fm.ID)
	}

	return &models.HuntModule{
		ID:           fm.ID,
		Name:         fm.Name,
		Description:  fm.Description,
		OSTypes:      fm.OSTypes,
		Tags:         fm.Tags,
		SeverityHint: fm.SeverityHint,
		Steps:        steps,
	}, nil
}

// splitFrontMatter separates the --- delimited YAML header from the body.
func splitFrontMatter(content string) (header, body string, err error) {
	content = strings.TrimLeft(content, "\uFEFF\n\r ")
	if !strings.HasPrefix(content, "---") {
		return "", "", fmt.Errorf("missing front matter")
	}
	rest := content[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated front matter")
	}
	header = rest[:idx]
	body = rest[idx+4:]
	return header, body, nil
}

// parseSteps walks the "### <step_id>" sections and their "**key**: value"
// lines.
func parseSteps(body string) ([]models.HuntStep, error) {
	var steps []models.HuntStep
	var current *models.HuntStep

	flush := func() {
		if current != nil {
			if current.Timeout <= 0 {
				current.Timeout = defaultStepTimeout
			}
			steps = append(steps, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### ") {
			flush()
			current = &models.HuntStep{ID: strings.TrimSpace(trimmed[4:])}
			continue
		}
		if current == nil || !strings.HasPrefix(trimmed, "**") {
			continue
		}

		key, value, ok := parseFieldLine(trimmed)
		if !ok {
			continue
		}
		switch key {
		case "description":
			current.Description = value
		case "command":
			current.Command = strings.Trim(value, "`")
		case "timeout":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("step %s: bad timeout %q", current.ID, value)
			}
			current.Timeout = n
		case "requires_sudo":
			current.RequiresSudo = strings.EqualFold(value, "true") || value == "yes"
		}
	}
	flush()
	return steps, nil
}

// parseFieldLine handles "**key**: value".
func parseFieldLine(line string) (key, value string, ok bool) {
	rest := strings.TrimPrefix(line, "**")
	end := strings.Index(rest, "**")
	if end < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(rest[:end]))
	value = strings.TrimSpace(strings.TrimPrefix(rest[end+2:], ":"))
	return key, value, true
}

// Serialize renders a module back into its markdown + front-matter form.
// Parse(Serialize(m)) is field-for-field equal to m.
func Serialize(m *models.HuntModule) (string, error) {
	fm := frontMatter{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		OSTypes:      m.OSTypes,
		Tags:         m.Tags,
		SeverityHint: m.SeverityHint,
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n")
	for _, step := range m.Steps {
		fmt.Fprintf(&b, "\n### %s\n", step.ID)
		if step.Description != "" {
			fmt.Fprintf(&b, "**description**: %s\n", step.Description)
		}
		fmt.Fprintf(&b, "**command**: `%s`\n", step.Command)
		fmt.Fprintf(&b, "**timeout**: %d\n", step.Timeout)
		fmt.Fprintf(&b, "**requires_sudo**: %t\n", step.RequiresSudo)
	}
	return b.String(), nil
}

// SortModules orders modules by id for stable listings.
func SortModules(mods []*models.HuntModule) {
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
}
