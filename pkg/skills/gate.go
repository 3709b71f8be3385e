package skills

import (
	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// minScanScore is the lowest acceptable malware-scan score for
// third-party skills.
const minScanScore = 80

// Verdict is the gate's decision for one skill.
type Verdict struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Quarantined      bool   `json:"quarantined"`
	Reason           string `json:"reason,omitempty"`
}

// Scanner scores a skill 0-100; higher is cleaner. The default scanner
// trusts the static_scan_score declared in the manifest; real
// deployments plug in their own.
type Scanner func(s Skill) int

// Verifier checks the signature on an INTERNAL_SIGNED skill.
type Verifier func(s Skill) bool

// Gate applies the supply-chain policy to skills before install.
type Gate struct {
	b         *bus.Bus
	allowlist map[string]bool
	scan      Scanner
	verify    Verifier
}

func NewGate(b *bus.Bus, allowlist []string, scan Scanner, verify Verifier) *Gate {
	allowed := make(map[string]bool, len(allowlist))
	for _, id := range allowlist {
		allowed[SkillID(id)] = true
	}
	if scan == nil {
		scan = func(s Skill) int { return s.Manifest.StaticScanScore }
	}
	if verify == nil {
		verify = func(s Skill) bool { return s.Manifest.Signature != "" }
	}
	return &Gate{b: b, allowlist: allowed, scan: scan, verify: verify}
}

// Evaluate runs the trust ladder:
//
//	OFFICIAL         allowed outright
//	INTERNAL_SIGNED  allowed when the signature verifies
//	THIRD_PARTY      scan >= 80, then high-risk permissions need the
//	                 allowlist or a human approval
//	UNTRUSTED        rejected and quarantined
func (g *Gate) Evaluate(s Skill) Verdict {
	switch s.Manifest.Trust {
	case TrustOfficial:
		return Verdict{Allowed: true}

	case TrustInternalSigned:
		if g.verify(s) {
			return Verdict{Allowed: true}
		}
		return g.quarantine(s, "signature verification failed")

	case TrustThirdParty:
		if score := g.scan(s); score < minScanScore {
			return g.quarantine(s, "scan score below threshold")
		}
		if g.requestsHighRisk(s) && !g.allowlist[s.ID] {
			return Verdict{Allowed: true, RequiresApproval: true,
				Reason: "high-risk permissions outside allowlist"}
		}
		return Verdict{Allowed: true}

	default:
		return g.quarantine(s, "untrusted origin")
	}
}

func (g *Gate) requestsHighRisk(s Skill) bool {
	for _, p := range s.Manifest.Permissions {
		if HighRiskPermission(p) {
			return true
		}
	}
	return false
}

// quarantine rejects the skill and broadcasts SKILL_QUARANTINED.
func (g *Gate) quarantine(s Skill, reason string) Verdict {
	logger.WarnCF("skills", "skill quarantined", map[string]any{
		"skill": s.ID, "trust": string(s.Manifest.Trust), "reason": reason,
	})
	if g.b != nil {
		ev := bus.NewEvent(bus.TopicSkillQuarantined, "")
		ev.Payload = map[string]any{
			"skill_id": s.ID,
			"trust":    string(s.Manifest.Trust),
			"reason":   reason,
		}
		g.b.Publish(ev)
	}
	return Verdict{Quarantined: true, Reason: reason}
}
