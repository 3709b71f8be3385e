// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// tagRule maps an intent pattern to the role tags it implies.
type tagRule struct {
	pattern *regexp.Regexp
	tags    []string
}

// The fixed routing table. Keywords cover English and Chinese phrasing;
// the tag set is what the matcher and decomposer operate on.
var tagRules = []tagRule{
	{regexp.MustCompile(`(?i)data|clean|lead|crawl|scrape|spreadsheet|数据|清洗|爬取`), []string{"data"}},
	{regexp.MustCompile(`(?i)report|summar|digest|报告|周报|总结`), []string{"report"}},
	{regexp.MustCompile(`(?i)bug|defect|crash|fix\b|缺陷|修复|崩溃`), []string{"bug"}},
	{regexp.MustCompile(`(?i)code|implement|develop|refactor|script|代码|开发|实现`), []string{"code"}},
	{regexp.MustCompile(`(?i)review|audit|inspect|评审|审查|检查`), []string{"review"}},
	{regexp.MustCompile(`(?i)research|investigat|analy[sz]e|benchmark|调研|分析`), []string{"research"}},
	{regexp.MustCompile(`(?i)design|mockup|wireframe|设计|原型`), []string{"design"}},
	{regexp.MustCompile(`(?i)deploy|monitor|rollback|on.?call|部署|运维|监控`), []string{"ops"}},
}

var highRiskPattern = regexp.MustCompile(`(?i)delete|drop\b|production|payment|transfer|send money|删除|线上|支付|转账`)
var mediumRiskPattern = regexp.MustCompile(`(?i)deploy|publish|email|external|send|部署|发布|外发|邮件`)

// IntentRouter turns free-form user intents into TASK_POSTED events.
type IntentRouter struct {
	b *bus.Bus
}

func NewIntentRouter(b *bus.Bus) *IntentRouter {
	return &IntentRouter{b: b}
}

// DeriveTags runs the routing table across an intent.
func DeriveTags(intent string) []string {
	set := map[string]struct{}{}
	for _, rule := range tagRules {
		if rule.pattern.MatchString(intent) {
			for _, tag := range rule.tags {
				set[tag] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DeriveRisk applies the risk keyword heuristics.
func DeriveRisk(intent string) bus.RiskLevel {
	switch {
	case highRiskPattern.MatchString(intent):
		return bus.RiskHigh
	case mediumRiskPattern.MatchString(intent):
		return bus.RiskMedium
	default:
		return bus.RiskLow
	}
}

// IdempotencyKey hashes the intent together with the 5-minute window it
// arrived in, so repeats inside the window are absorbed by the bus.
func IdempotencyKey(intent string, now time.Time) string {
	window := now.Unix() / int64((5 * time.Minute).Seconds())
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", intent, window))
	return hex.EncodeToString(sum[:])
}

// RouteOptions carries optional caller overrides.
type RouteOptions struct {
	Budget    *bus.Budget
	RiskLevel bus.RiskLevel
	ExtraTags []string
	// IdempotencyKey replaces the default intent-window key. Schedulers
	// use this to scope dedup to their own firing window.
	IdempotencyKey string
}

// Route parses an intent and posts the task to the blackboard.
func (r *IntentRouter) Route(intent string, opts RouteOptions) (bus.Event, error) {
	tags := DeriveTags(intent)
	for _, tag := range opts.ExtraTags {
		found := false
		for _, t := range tags {
			if t == tag {
				found = true
				break
			}
		}
		if !found {
			tags = append(tags, tag)
		}
	}

	risk := opts.RiskLevel
	if risk == "" {
		risk = DeriveRisk(intent)
	}

	ev := bus.NewEvent(bus.TopicTaskPosted, intent)
	ev.RequiredTags = tags
	ev.RiskLevel = risk
	ev.Budget = opts.Budget
	ev.IdempotencyKey = opts.IdempotencyKey
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = IdempotencyKey(intent, time.Now())
	}

	posted, err := r.b.Publish(ev)
	if err != nil {
		return bus.Event{}, fmt.Errorf("failed to post intent: %w", err)
	}

	logger.InfoCF("router", "intent routed", map[string]any{
		"event_id": posted.ID, "tags": tags, "risk": string(risk),
	})
	return posted, nil
}
