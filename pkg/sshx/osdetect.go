package sshx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/darkhound-project/darkhound/pkg/models"
)

const fingerprintTimeout = 10 * time.Second

// Fingerprint is the result of the post-connect OS detection pipeline.
type Fingerprint struct {
	OSType    models.OSType
	OSVersion string
	Kernel    string
	Arch      string
	Raw       string
}

// Metadata renders the fingerprint as the asset's platform_metadata JSONB.
func (f *Fingerprint) Metadata() []byte {
	data, _ := json.Marshal(map[string]string{
		"kernel": f.Kernel,
		"arch":   f.Arch,
		"uname":  f.Raw,
	})
	return data
}

// runner is the minimal execution surface DetectOS needs. *Engine
// satisfies it; tests substitute a canned implementation.
type runner interface {
	Run(ctx context.Context, command string, timeout time.Duration, sudoPassword string) (*CommandResult, error)
}

// DetectOS probes the remote host with uname and os-release. Probes are
// best-effort: a failing command leaves its field empty rather than
// failing detection.
func DetectOS(ctx context.Context, r runner) (*Fingerprint, error) {
	fp := &Fingerprint{OSType: models.OSUnknown}

	if res, err := r.Run(ctx, "uname -a", fingerprintTimeout, ""); err == nil && res.ExitCode == 0 {
		fp.Raw = strings.TrimSpace(res.Stdout)
		fp.OSType = classifyUname(fp.Raw)
	}
	if res, err := r.Run(ctx, "uname -r", fingerprintTimeout, ""); err == nil && res.ExitCode == 0 {
		fp.Kernel = strings.TrimSpace(res.Stdout)
	}
	if res, err := r.Run(ctx, "uname -m", fingerprintTimeout, ""); err == nil && res.ExitCode == 0 {
		fp.Arch = strings.TrimSpace(res.Stdout)
	}
	if res, err := r.Run(ctx, "cat /etc/os-release", fingerprintTimeout, ""); err == nil && res.ExitCode == 0 {
		fp.OSVersion = parseOSRelease(res.Stdout)
	}
	if fp.OSVersion == "" && fp.OSType == models.OSMacOS {
		if res, err := r.Run(ctx, "sw_vers -productVersion", fingerprintTimeout, ""); err == nil && res.ExitCode == 0 {
			fp.OSVersion = "macOS " + strings.TrimSpace(res.Stdout)
		}
	}
	return fp, nil
}

func classifyUname(uname string) models.OSType {
	lower := strings.ToLower(uname)
	switch {
	case strings.HasPrefix(lower, "linux"):
		return models.OSLinux
	case strings.HasPrefix(lower, "darwin"):
		return models.OSMacOS
	case strings.Contains(lower, "cygwin"), strings.Contains(lower, "mingw"),
		strings.Contains(lower, "msys"), strings.Contains(lower, "windows"):
		return models.OSWindows
	default:
		return models.OSUnknown
	}
}

// parseOSRelease extracts PRETTY_NAME (or NAME + VERSION_ID) from
// /etc/os-release KEY=VALUE lines.
func parseOSRelease(content string) string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"`)
	}
	if v := fields["PRETTY_NAME"]; v != "" {
		return v
	}
	if name := fields["NAME"]; name != "" {
		if ver := fields["VERSION_ID"]; ver != "" {
			return name + " " + ver
		}
		return name
	}
	return ""
}
