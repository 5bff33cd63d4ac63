// Package security holds the command safety classifier, sudo policy,
// at-rest credential encryption, Vault access, and token verification.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// CommandClass is the safety verdict for a shell command.
type CommandClass string

// Classifier verdicts.
const (
	ClassSafe    CommandClass = "SAFE"
	ClassSuspect CommandClass = "SUSPECT"
	ClassBlocked CommandClass = "BLOCKED"
)

// MaxCommandLength is the largest accepted command, in bytes.
const MaxCommandLength = 4096

var blockedPatterns = compileAll(
	// Destructive filesystem
	`(?i)\brm\s+-[rRf]`,
	`(?i)\bmkfs\b`,
	`(?i)\bdd\b.*\bof=/dev/`,
	`(?i)\bshred\b`,
	`(?i)\btruncate\b.*\b/`,
	// Privilege escalation bypass
	`(?i)chmod\s+[0-7]*7[0-7]*\s+/etc/sudoers`,
	`(?i)chmod\s+[0-7]*7[0-7]*\s+/etc/shadow`,
	`(?i)chmod\s+[0-7]*7[0-7]*\s+/etc/passwd`,
	`(?i)\bvisudo\b`,
	// Pipe-to-shell downloads
	`(?i)\bcurl\b.*\|\s*bash\b`,
	`(?i)\bwget\b.*\|\s*bash\b`,
	`(?i)\bcurl\b.*\|\s*sh\b`,
	`(?i)\bwget\b.*\|\s*sh\b`,
	// Crypto miners
	`(?i)\bxmrig\b`,
	`(?i)\bminerd\b`,
	`(?i)stratum\+tcp://`,
	// Kernel / system destruction
	`(?i)echo\s+[01]\s+>\s*/proc/sys/kernel/panic`,
	`(?i)\bsysrq\b`,
	// Fork bomb
	`(?i):\(\)\s*\{.*:\|:&\s*\}`,
	// Reverse shells
	`(?i)bash\s+-i\s+>(&|\|)\s*/dev/tcp/`,
	`(?i)/dev/tcp/\d`,
	`(?i)/dev/udp/\d`,
	`(?i)\bpython[23]?\b.*\bsocket\b.*\bconnect\b`,
	`(?i)\bperl\b.*\bsocket\b.*\bINET\b`,
	`(?i)\bphp\b.*\bfsockopen\b`,
	`(?i)\bruby\b.*\bTCPSocket\b`,
	`(?i)\bnc\b.*-e\s+/bin/(ba)?sh`,
	`(?i)\bncat\b.*-e\s+/bin/(ba)?sh`,
	`(?i)\bsocat\b.*\bexec\b`,
	// History / log tampering
	`(?i)\bhistory\s+-[cdw]`,
	`(?i)\bunset\s+HISTFILE\b`,
	`(?i)\bunset\s+HISTSIZE\b`,
	`(?i)export\s+HISTSIZE=0\b`,
	`(?i)export\s+HISTFILESIZE=0\b`,
	`(?i)>\s*/var/log/`,
	`(?i)\btruncate\b.*\b/var/log/`,
	`(?i)\brm\b.*\b/var/log/`,
	// Kernel module loading (possible rootkit)
	`(?i)\binsmod\b`,
	`(?i)\bmodprobe\b`,
	// Disk wipe
	`(?i)\bwipefs\b`,
	`(?i)\bsgdisk\b.*-Z`,
)

var suspectPatterns = compileAll(
	`(?i)\bchmod\b`,
	`(?i)\bchown\b`,
	`(?i)\bpasswd\b`,
	`(?i)\buseradd\b|\busermod\b|\buserdel\b`,
	`(?i)\biptables\b|\bnftables\b|\bufw\b`,
	`(?i)\bcrontab\s+-[er]\b`,
	`(?i)\bsystemctl\s+(start|stop|disable|enable|mask)\b`,
	`(?i)\bscp\b|\brsync\b`,
	`(?i)\bnc\b|\bnetcat\b|\bncat\b`,
	`(?i)\bkill\b|\bkillall\b|\bpkill\b`,
	`(?i)\bmount\b|\bumount\b`,
	`(?i)\bchattr\b`,
	`(?i)\bsetenforce\b`,
)

// safePrefixes is the curated allowlist of read-only / forensic tooling.
var safePrefixes = []string{
	"ls", "cat", "less", "more", "head", "tail", "find", "locate",
	"grep", "awk", "sed", "sort", "uniq", "wc", "cut", "echo",
	"ps", "top", "htop", "lsof", "netstat", "ss", "ip", "ifconfig",
	"uname", "hostname", "id", "whoami", "w", "who", "last", "lastb",
	"history", "env", "printenv", "df", "du", "free", "uptime",
	"dmesg", "journalctl", "systemctl list", "systemctl status",
	"crontab -l", "stat", "file", "strings", "hexdump", "xxd",
	"md5sum", "sha256sum", "sha1sum", "ldd", "readelf", "objdump",
	"strace", "ltrace", "lsmod", "modinfo", "rpm", "dpkg", "apt list",
	"yum list", "pip list", "gem list", "docker ps", "docker inspect",
	"kubectl get", "kubectl describe",
	"getent", "timedatectl", "hostnamectl", "loginctl",
	"ausearch", "aureport",
	"pstree",
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Verdict pairs a classification with the rule that produced it.
type Verdict struct {
	Class  CommandClass
	Reason string
}

// Classifier applies the allow/deny lists with a per-command verdict cache.
// Safe for concurrent use.
type Classifier struct {
	cache sync.Map // command string → Verdict
}

// NewClassifier returns a classifier with an empty cache.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the safety verdict for a command. Verdicts are cached by
// exact string; the rule lists are static so cached entries never go stale.
func (c *Classifier) Classify(command string) Verdict {
	if v, ok := c.cache.Load(command); ok {
		return v.(Verdict)
	}
	v := classify(command)
	c.cache.Store(command, v)
	return v
}

func classify(command string) Verdict {
	stripped := strings.TrimSpace(command)

	if len(stripped) > MaxCommandLength {
		return Verdict{ClassBlocked, fmt.Sprintf("Command exceeds maximum length (%d bytes)", MaxCommandLength)}
	}
	if stripped == "" {
		return Verdict{ClassBlocked, "Empty command"}
	}

	for _, p := range blockedPatterns {
		if p.MatchString(stripped) {
			return Verdict{ClassBlocked, "Matched blocklist pattern: " + p.String()}
		}
	}

	lower := strings.ToLower(stripped)
	for _, prefix := range safePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return Verdict{ClassSafe, "Matches safe prefix: " + prefix}
		}
	}

	for _, p := range suspectPatterns {
		if p.MatchString(stripped) {
			return Verdict{ClassSuspect, "Matched suspect pattern: " + p.String()}
		}
	}

	return Verdict{ClassSuspect, "Unknown command — requires analyst approval"}
}
