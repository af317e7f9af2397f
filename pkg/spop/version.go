package spop

import (
	"fmt"
	"strconv"
	"strings"
)

// SupportVersion is a SPOP version number, as carried in a HELLO frame's
// "version" or "supported-versions" fields: "MAJOR.MINOR" or
// "MAJOR.MINOR.PATCH", the latter re-serialized without its patch component.
type SupportVersion struct {
	Major int
	Minor int
}

// ParseVersion parses a single "MAJOR.MINOR[.PATCH]" token. Surrounding
// whitespace is trimmed, matching the engine's tendency to pad
// comma-separated lists.
func ParseVersion(s string) (SupportVersion, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return SupportVersion{}, fmt.Errorf("%w: version %q", ErrUnsupportedVersion, s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return SupportVersion{}, fmt.Errorf("%w: version %q: %w", ErrUnsupportedVersion, s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return SupportVersion{}, fmt.Errorf("%w: version %q: %w", ErrUnsupportedVersion, s, err)
	}

	return SupportVersion{Major: major, Minor: minor}, nil
}

// ParseSupportedVersions parses a comma-separated "supported-versions" list.
func ParseSupportedVersions(s string) ([]SupportVersion, error) {
	fields := strings.Split(s, ",")
	versions := make([]SupportVersion, 0, len(fields))
	for _, f := range fields {
		v, err := ParseVersion(f)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (v SupportVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Supports reports whether v (an engine-advertised version) is one this
// agent can speak: same major, any minor at or below ours.
func (v SupportVersion) Supports(agent SupportVersion) bool {
	return v.Major == agent.Major && v.Minor <= agent.Minor
}

// Version is the SPOP version this agent implements.
var Version = SupportVersion{Major: 2, Minor: 0}

// NegotiateVersion picks the highest entry of supported that this agent can
// speak. It returns [ErrUnsupportedVersion] if none match.
func NegotiateVersion(supported []SupportVersion) (SupportVersion, error) {
	best, ok := SupportVersion{}, false
	for _, v := range supported {
		if !v.Supports(Version) {
			continue
		}
		if !ok || v.Minor > best.Minor {
			best, ok = v, true
		}
	}
	if !ok {
		return SupportVersion{}, ErrUnsupportedVersion
	}
	return best, nil
}

// Capability is a named optional protocol feature, advertised in a HELLO
// frame's "capabilities" field.
type Capability string

const (
	CapabilityPipelining    Capability = "pipelining"
	CapabilityAsync         Capability = "async"
	CapabilityFragmentation Capability = "fragmentation"
)

// ParseCapabilities parses a comma-separated "capabilities" list. An empty
// string yields an empty list. Any token outside {pipelining, async,
// fragmentation} is rejected: capability negotiation is strict, so the
// agent never has to reason about a capability it cannot name.
func ParseCapabilities(s string) ([]Capability, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	caps := make([]Capability, 0, len(fields))
	for _, f := range fields {
		c := Capability(strings.TrimSpace(f))
		switch c {
		case CapabilityPipelining, CapabilityAsync, CapabilityFragmentation:
			caps = append(caps, c)
		default:
			return nil, fmt.Errorf("%w: capability %q", ErrInvalidCapabilities, c)
		}
	}
	return caps, nil
}

// FormatCapabilities renders caps as a comma-separated list.
func FormatCapabilities(caps []Capability) string {
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	return strings.Join(strs, ",")
}

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, x := range caps {
		if x == c {
			return true
		}
	}
	return false
}
