// Package skills loads SKILL.md manifests and gates them through the
// supply-chain security policy before they reach agents.
package skills

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Trust classifies where a skill came from.
type Trust string

const (
	TrustOfficial       Trust = "OFFICIAL"
	TrustInternalSigned Trust = "INTERNAL_SIGNED"
	TrustThirdParty     Trust = "THIRD_PARTY"
	TrustUntrusted      Trust = "UNTRUSTED"
)

// Permissions a manifest may request, declared as boolean frontmatter
// keys. Everything except fs_read counts as high risk.
const (
	PermFSRead       = "fs_read"
	PermFSWrite      = "fs_write"
	PermNetwork      = "network"
	PermSecrets      = "secrets"
	PermExternalSend = "external_send"
	PermShellExec    = "shell_exec"
)

var permissionKeys = []string{
	PermFSRead, PermFSWrite, PermNetwork, PermSecrets, PermExternalSend, PermShellExec,
}

// HighRiskPermission reports whether a permission needs gate scrutiny.
func HighRiskPermission(p string) bool {
	switch p {
	case PermFSWrite, PermNetwork, PermSecrets, PermExternalSend, PermShellExec:
		return true
	}
	return false
}

// Manifest is the parsed SKILL.md frontmatter.
type Manifest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Version         string   `json:"version,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	RiskLevel       string   `json:"risk_level,omitempty"`
	Trust           Trust    `json:"trust"`
	Permissions     []string `json:"permissions,omitempty"`
	StaticScanScore int      `json:"static_scan_score,omitempty"`
	LastAuditAt     string   `json:"last_audit_at,omitempty"`
	EntryPoint      string   `json:"entry_point,omitempty"`
	Signature       string   `json:"signature,omitempty"`
}

var skillNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

func (m Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("skill manifest missing name")
	}
	if !skillNameRe.MatchString(m.Name) {
		return fmt.Errorf("skill name %q must be lowercase alphanumeric with hyphens", m.Name)
	}
	if m.Description == "" {
		return fmt.Errorf("skill %s missing description", m.Name)
	}
	switch m.Trust {
	case TrustOfficial, TrustInternalSigned, TrustThirdParty, TrustUntrusted, "":
	default:
		return fmt.Errorf("skill %s has unknown trust level %q", m.Name, m.Trust)
	}
	return nil
}

// parseManifest extracts and parses the --- delimited frontmatter.
// Returns the manifest and the body with the frontmatter stripped.
func parseManifest(content string) (Manifest, string, error) {
	front, body := splitFrontmatter(content)
	if front == "" {
		return Manifest{}, content, fmt.Errorf("missing frontmatter")
	}

	fields := parseSimpleYAML(front)
	m := Manifest{
		Name:        fields["name"],
		Description: fields["description"],
		Version:     fields["version"],
		Tags:        splitList(fields["tags"]),
		RiskLevel:   strings.ToUpper(fields["risk_level"]),
		Trust:       Trust(strings.ToUpper(fields["trust"])),
		LastAuditAt: fields["last_audit_at"],
		EntryPoint:  fields["entry_point"],
		Signature:   fields["signature"],
	}
	for _, key := range permissionKeys {
		val, ok := fields[key]
		if !ok {
			continue
		}
		granted, err := strconv.ParseBool(val)
		if err != nil {
			return Manifest{}, body, fmt.Errorf("skill %s: %s must be a boolean, got %q", m.Name, key, val)
		}
		if granted {
			m.Permissions = append(m.Permissions, key)
		}
	}
	if raw, ok := fields["static_scan_score"]; ok {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return Manifest{}, body, fmt.Errorf("skill %s: static_scan_score must be an integer, got %q", m.Name, raw)
		}
		m.StaticScanScore = score
	}
	if m.Trust == "" {
		// Unknown provenance is treated as untrusted, not third-party.
		m.Trust = TrustUntrusted
	}
	if err := m.validate(); err != nil {
		return Manifest{}, body, err
	}
	return m, body, nil
}

// splitFrontmatter returns the frontmatter block (without delimiters)
// and the remaining body. Handles CRLF.
func splitFrontmatter(content string) (front, body string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", content
	}
	rest := normalized[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", content
	}
	front = rest[:end]
	body = strings.TrimPrefix(rest[end+4:], "\n")
	return front, strings.TrimLeft(body, "\n")
}

// parseSimpleYAML handles the flat key: value subset manifests use.
func parseSimpleYAML(s string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(trimmed, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		val := strings.TrimSpace(trimmed[idx+1:])
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	return out
}

// splitList parses "a, b, c" or "[a, b]" into a slice.
func splitList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
