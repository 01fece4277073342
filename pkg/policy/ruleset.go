// Package policy implements the deterministic decision engine that gates
// every mutating write: TOML rule sets, text normalization, evaluation and
// hot reload.
package policy

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Severity levels, weakest to strongest.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Rule effects. An empty effect means the rule records a violation.
const (
	EffectAllow                = "allow"
	EffectAllowWithConstraints = "allow_with_constraints"
)

// Rule is a single matching clause in a rule set.
type Rule struct {
	// Category is the intent this rule speaks to (e.g. "memory_storage").
	// Empty means it applies to every category.
	Category string `toml:"category"`

	// ContainsAny matches when any keyword occurs in the normalized input.
	ContainsAny []string `toml:"contains_any"`

	// MatchesAny matches exact normalized phrases; more specific than
	// ContainsAny when choosing the primary violation.
	MatchesAny []string `toml:"matches_any"`

	// Violation is the human-readable description of what matching means.
	Violation string `toml:"violation"`

	// ViolationCode is a stable machine identifier for the violation.
	ViolationCode string `toml:"violation_code"`

	// Suggestion is optional remediation advice surfaced with a block.
	Suggestion string `toml:"suggestion"`

	// Severity is one of none|low|medium|high|critical. Empty means low.
	Severity string `toml:"severity"`

	// Effect marks allowlist rules: "allow" short-circuits evaluation,
	// "allow_with_constraints" short-circuits but carries its constraints.
	Effect string `toml:"effect"`

	// Constraints are remediation tags merged into the decision.
	Constraints []string `toml:"constraints"`

	// Group identifies an independent predicate family. Violations spanning
	// more than one group escalate the decision for human review.
	Group string `toml:"group"`
}

// RuleSet is a versioned TOML policy document.
type RuleSet struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Rules       []Rule `toml:"rules"`

	// Digest is the hex SHA-256 of the serialized document the set was
	// loaded from. Stamped on every decision for tamper evidence.
	Digest string `toml:"-"`
}

//go:embed default_ruleset.toml
var defaultRuleSetTOML []byte

// Load reads and parses a rule set from a TOML file, recording its digest.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ruleset: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rule set from TOML bytes, recording their digest.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := toml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing ruleset: %w", err)
	}
	sum := sha256.Sum256(data)
	rs.Digest = hex.EncodeToString(sum[:])
	return &rs, nil
}

// Default returns the embedded rule set shipped with the substrate.
func Default() *RuleSet {
	rs, err := Parse(defaultRuleSetTOML)
	if err != nil {
		panic("embedded ruleset is invalid: " + err.Error())
	}
	return rs
}

// WriteDefault materializes the embedded rule set at path unless a file
// already exists there. Returns true when a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating policy directory: %w", err)
	}
	if err := os.WriteFile(path, defaultRuleSetTOML, 0o644); err != nil {
		return false, fmt.Errorf("writing default ruleset: %w", err)
	}
	return true, nil
}
