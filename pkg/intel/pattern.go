package intel

import (
	"fmt"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// HashAlgo is a file-hash algorithm recognised in STIX patterns.
type HashAlgo string

const (
	HashMD5    HashAlgo = "MD5"
	HashSHA1   HashAlgo = "SHA-1"
	HashSHA256 HashAlgo = "SHA-256"
)

// IndicatorPattern is one observable expressed as a STIX pattern
// comparison. Each variant knows its own rendering.
type IndicatorPattern interface {
	Render() string
}

// IPv4Pattern matches an IPv4 address observable.
type IPv4Pattern string

func (p IPv4Pattern) Render() string {
	return fmt.Sprintf("[ipv4-addr:value = '%s']", string(p))
}

// DomainPattern matches a domain-name observable.
type DomainPattern string

func (p DomainPattern) Render() string {
	return fmt.Sprintf("[domain-name:value = '%s']", string(p))
}

// HashPattern matches a file-hash observable under a named algorithm.
type HashPattern struct {
	Algo  HashAlgo
	Value string
}

func (p HashPattern) Render() string {
	return fmt.Sprintf("[file:hashes.%s = '%s']", p.Algo, p.Value)
}

// FilePathPattern matches a file-name observable.
type FilePathPattern string

func (p FilePathPattern) Render() string {
	return fmt.Sprintf("[file:name = '%s']", string(p))
}

// PatternFromIndicator classifies an IOC into a pattern variant. Hash
// values are assigned an algorithm by length; indicator types with no
// STIX observable (user, process) and unrecognised hash lengths report
// false.
func PatternFromIndicator(ioc models.Indicator) (IndicatorPattern, bool) {
	switch ioc.Type {
	case "ip":
		return IPv4Pattern(ioc.Value), true
	case "domain":
		return DomainPattern(ioc.Value), true
	case "hash":
		switch len(ioc.Value) {
		case 32:
			return HashPattern{Algo: HashMD5, Value: ioc.Value}, true
		case 40:
			return HashPattern{Algo: HashSHA1, Value: ioc.Value}, true
		case 64:
			return HashPattern{Algo: HashSHA256, Value: ioc.Value}, true
		}
		return nil, false
	case "file_path":
		return FilePathPattern(ioc.Value), true
	}
	return nil, false
}
