package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Decision outcomes.
const (
	OutcomeAllow                = "allow"
	OutcomeAllowWithConstraints = "allow_with_constraints"
	OutcomeBlock                = "block"
)

// Risk levels attached to decisions.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Decision is the outcome of evaluating one input against the loaded rule
// set. Evaluation is a pure function of (input, category, rule set), so a
// decision is reproducible from its RuleSetDigest.
type Decision struct {
	Category           string    `json:"category"`
	Outcome            string    `json:"outcome"`
	Passed             bool      `json:"passed"`
	Risk               string    `json:"risk"`
	Constraints        []string  `json:"constraints,omitempty"`
	RequiresEscalation bool      `json:"requires_escalation,omitempty"`
	Code               string    `json:"code,omitempty"`
	Reason             string    `json:"reason"`
	Suggestion         string    `json:"suggestion,omitempty"`
	RuleSetVersion     string    `json:"ruleset_version"`
	RuleSetDigest      string    `json:"ruleset_digest"`
	EvaluatedAt        time.Time `json:"evaluated_at"`
}

// BlockedError is returned by gated operations when a decision blocks the
// mutation. Nothing is persisted when this error is returned.
type BlockedError struct {
	Decision *Decision
}

func (e *BlockedError) Error() string {
	if e.Decision.Code != "" {
		return fmt.Sprintf("blocked by policy: %s (%s)", e.Decision.Reason, e.Decision.Code)
	}
	return fmt.Sprintf("blocked by policy: %s", e.Decision.Reason)
}

// Engine evaluates inputs against a rule set. The set can be swapped
// atomically at runtime (see Watcher) without pausing evaluation.
type Engine struct {
	rs atomic.Pointer[RuleSet]
}

// NewEngine creates an engine over the given rule set.
func NewEngine(rs *RuleSet) *Engine {
	e := &Engine{}
	e.rs.Store(rs)
	return e
}

// Swap replaces the active rule set. In-flight evaluations finish against
// the set they started with.
func (e *Engine) Swap(rs *RuleSet) {
	e.rs.Store(rs)
}

// RuleSet returns the currently active rule set.
func (e *Engine) RuleSet() *RuleSet {
	return e.rs.Load()
}

// Evaluate runs the two-pass evaluation: an allowlist pass that can
// short-circuit, then a violation pass whose worst severity picks the
// outcome. Identical inputs against the same rule set always produce the
// same decision.
func (e *Engine) Evaluate(text, category string) *Decision {
	rs := e.rs.Load()
	normalized := Normalize(text)

	d := &Decision{
		Category:       category,
		RuleSetVersion: rs.Version,
		RuleSetDigest:  rs.Digest,
		EvaluatedAt:    time.Now().UTC(),
	}

	// Pass 1: allowlist short-circuit.
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if !isAllowRule(rule) || !ruleApplies(rule, category) {
			continue
		}
		if !ruleMatches(rule, normalized) {
			continue
		}
		d.Passed = true
		d.Risk = RiskLow
		d.Reason = "input matches an allowlisted pattern"
		d.Constraints = dedupeSorted(rule.Constraints)
		if rule.Effect == EffectAllowWithConstraints && len(d.Constraints) > 0 {
			d.Outcome = OutcomeAllowWithConstraints
		} else {
			d.Outcome = OutcomeAllow
		}
		return d
	}

	// Pass 2: collect violations.
	var (
		violated    []*Rule
		constraints []string
		groups      = map[string]struct{}{}
		worst       = -1
	)
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if isAllowRule(rule) || !ruleApplies(rule, category) {
			continue
		}
		if !ruleMatches(rule, normalized) {
			continue
		}
		violated = append(violated, rule)
		constraints = append(constraints, rule.Constraints...)
		groups[groupID(rule)] = struct{}{}
		if r := severityRank(rule.Severity); r > worst {
			worst = r
		}
	}

	if len(violated) == 0 {
		d.Passed = true
		d.Outcome = OutcomeAllow
		d.Risk = RiskLow
		d.Reason = "no violations detected"
		return d
	}

	primary := primaryViolation(violated)
	d.Code = primary.ViolationCode
	d.Suggestion = primary.Suggestion
	d.Constraints = dedupeSorted(constraints)
	d.RequiresEscalation = len(groups) > 1
	d.Reason = fmt.Sprintf("violated %d rule(s): %s", len(violated), primary.Violation)

	if worst >= severityRank(SeverityHigh) {
		d.Outcome = OutcomeBlock
		d.Passed = false
		d.Risk = RiskHigh
		return d
	}

	d.Outcome = OutcomeAllowWithConstraints
	d.Passed = true
	if worst >= severityRank(SeverityMedium) {
		d.Risk = RiskMedium
	} else {
		d.Risk = RiskLow
	}
	return d
}

func isAllowRule(r *Rule) bool {
	return strings.EqualFold(r.Effect, EffectAllow) ||
		strings.EqualFold(r.Effect, EffectAllowWithConstraints) ||
		strings.EqualFold(r.Severity, SeverityNone)
}

func ruleApplies(r *Rule, category string) bool {
	return r.Category == "" || strings.EqualFold(r.Category, category)
}

func ruleMatches(r *Rule, normalized string) bool {
	// Exact phrases first; they are the more specific signal.
	for _, p := range r.MatchesAny {
		if p != "" && strings.Contains(normalized, Normalize(p)) {
			return true
		}
	}
	for _, k := range r.ContainsAny {
		if k != "" && strings.Contains(normalized, Normalize(k)) {
			return true
		}
	}
	return false
}

// primaryViolation picks the violated rule to report: highest severity wins,
// phrase matches break ties over keyword matches.
func primaryViolation(violated []*Rule) *Rule {
	best := violated[0]
	bestRank, bestSpec := -1, -1
	for _, r := range violated {
		rank := severityRank(r.Severity)
		spec := 0
		switch {
		case len(r.MatchesAny) > 0:
			spec = 2
		case len(r.ContainsAny) > 0:
			spec = 1
		}
		if rank > bestRank || (rank == bestRank && spec > bestSpec) {
			best, bestRank, bestSpec = r, rank, spec
		}
	}
	return best
}

func groupID(r *Rule) string {
	if r.Group != "" {
		return r.Group
	}
	if r.ViolationCode != "" {
		return r.ViolationCode
	}
	return r.Violation
}

func severityRank(severity string) int {
	switch strings.ToLower(severity) {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityNone:
		return 0
	default:
		// Unlabeled rules count as low.
		return 1
	}
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
