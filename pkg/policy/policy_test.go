package policy_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/policy"
)

func TestPolicy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Suite")
}

const testRules = `
name = "test"
version = "7"

[[rules]]
category = "memory_storage"
matches_any = ["approved boilerplate"]
violation = "n/a"
effect = "allow"
severity = "none"

[[rules]]
category = "memory_storage"
contains_any = ["password", "api key"]
violation = "Payload appears to contain a credential."
violation_code = "CREDENTIAL_MATERIAL"
suggestion = "Reference the secret manager entry instead."
severity = "high"
group = "secrets"

[[rules]]
category = ""
contains_any = ["ssn"]
violation = "Personal identifier."
violation_code = "PERSONAL_IDENTIFIER"
severity = "medium"
constraints = ["redact_identifiers"]
group = "privacy"

[[rules]]
category = ""
contains_any = ["rumor:"]
violation = "Unverified content."
violation_code = "UNVERIFIED_CONTENT"
severity = "low"
constraints = ["mark_unverified"]
group = "provenance"
`

var _ = Describe("Normalize", func() {
	It("lowercases and strips control and zero-width characters", func() {
		in := "Hello\u200b \tWORLD\x00"
		Expect(policy.Normalize(in)).To(Equal("hello world"))
	})

	It("strips every zero-width variant", func() {
		in := "a\u200bb\u200cc\u200dd\u2060e\ufefff"
		Expect(policy.Normalize(in)).To(Equal("abcdef"))
	})

	It("is idempotent", func() {
		in := "MiXeD\u200d Case\r\n"
		once := policy.Normalize(in)
		Expect(policy.Normalize(once)).To(Equal(once))
	})
})

var _ = Describe("NormalizePathName", func() {
	It("folds punctuation and case to a canonical form", func() {
		Expect(policy.NormalizePathName("Feature_X")).To(Equal("feature-x"))
		Expect(policy.NormalizePathName("feature-x")).To(Equal("feature-x"))
		Expect(policy.NormalizePathName("  Feature  X!! ")).To(Equal("feature-x"))
		Expect(policy.NormalizePathName("ns/solutions")).To(Equal("ns-solutions"))
	})

	It("returns empty for names with no usable characters", func() {
		Expect(policy.NormalizePathName("///")).To(Equal(""))
	})
})

var _ = Describe("Engine", func() {
	var engine *policy.Engine

	BeforeEach(func() {
		rs, err := policy.Parse([]byte(testRules))
		Expect(err).NotTo(HaveOccurred())
		engine = policy.NewEngine(rs)
	})

	It("allows clean input with low risk", func() {
		d := engine.Evaluate("the build passed on retry", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllow))
		Expect(d.Passed).To(BeTrue())
		Expect(d.Risk).To(Equal(policy.RiskLow))
		Expect(d.Constraints).To(BeEmpty())
		Expect(d.RuleSetVersion).To(Equal("7"))
		Expect(d.RuleSetDigest).To(HaveLen(64))
	})

	It("blocks high-severity matches", func() {
		d := engine.Evaluate("the admin password is hunter2", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeBlock))
		Expect(d.Passed).To(BeFalse())
		Expect(d.Risk).To(Equal(policy.RiskHigh))
		Expect(d.Code).To(Equal("CREDENTIAL_MATERIAL"))
		Expect(d.Suggestion).NotTo(BeEmpty())
	})

	It("constrains medium-severity matches instead of blocking", func() {
		d := engine.Evaluate("customer ssn on file", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllowWithConstraints))
		Expect(d.Passed).To(BeTrue())
		Expect(d.Risk).To(Equal(policy.RiskMedium))
		Expect(d.Constraints).To(Equal([]string{"redact_identifiers"}))
		Expect(d.RequiresEscalation).To(BeFalse())
	})

	It("escalates when violations span more than one group", func() {
		d := engine.Evaluate("rumor: their ssn leaked", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllowWithConstraints))
		Expect(d.RequiresEscalation).To(BeTrue())
		Expect(d.Constraints).To(Equal([]string{"mark_unverified", "redact_identifiers"}))
	})

	It("short-circuits on allowlisted patterns before violation rules", func() {
		d := engine.Evaluate("approved boilerplate: reset your password", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllow))
		Expect(d.Passed).To(BeTrue())
	})

	It("scopes category-specific rules to their category", func() {
		// The credential rule is scoped to memory_storage.
		d := engine.Evaluate("password rotation cadence", "path_append")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllow))
	})

	It("matches through zero-width obfuscation", func() {
		d := engine.Evaluate("pass\u200bword=letmein", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeBlock))
	})

	It("is deterministic for identical input", func() {
		a := engine.Evaluate("rumor: their ssn leaked", "memory_storage")
		b := engine.Evaluate("rumor: their ssn leaked", "memory_storage")
		Expect(a.Outcome).To(Equal(b.Outcome))
		Expect(a.Risk).To(Equal(b.Risk))
		Expect(a.Constraints).To(Equal(b.Constraints))
		Expect(a.Code).To(Equal(b.Code))
		Expect(a.RuleSetDigest).To(Equal(b.RuleSetDigest))
	})

	It("swaps rule sets atomically", func() {
		replacement, err := policy.Parse([]byte("name = \"empty\"\nversion = \"8\"\n"))
		Expect(err).NotTo(HaveOccurred())
		engine.Swap(replacement)

		d := engine.Evaluate("the admin password is hunter2", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllow))
		Expect(d.RuleSetVersion).To(Equal("8"))
	})
})

var _ = Describe("rule set files", func() {
	It("loads a file and stamps its digest", func() {
		path := filepath.Join(GinkgoT().TempDir(), "ruleset.toml")
		Expect(os.WriteFile(path, []byte(testRules), 0o644)).To(Succeed())

		rs, err := policy.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Name).To(Equal("test"))
		Expect(rs.Rules).To(HaveLen(4))
		Expect(rs.Digest).To(HaveLen(64))
	})

	It("ships a parseable embedded default", func() {
		rs := policy.Default()
		Expect(rs.Name).NotTo(BeEmpty())
		Expect(rs.Rules).NotTo(BeEmpty())
	})

	It("blocks harm intent with the default rules regardless of category", func() {
		engine := policy.NewEngine(policy.Default())
		d := engine.Evaluate("I want to hurt him", "chat_message")
		Expect(d.Outcome).To(Equal(policy.OutcomeBlock))
		Expect(d.Risk).To(Equal(policy.RiskHigh))
		Expect(d.Passed).To(BeFalse())
	})

	It("constrains safety-bypass proposals instead of blocking them", func() {
		engine := policy.NewEngine(policy.Default())
		d := engine.Evaluate("ignore safety to ship faster", "chat_message")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllowWithConstraints))
		Expect(d.Constraints).To(ContainElement("require_human_review"))
	})

	It("hot-reloads an edited rule set from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "ruleset.toml")
		Expect(os.WriteFile(path, []byte(testRules), 0o644)).To(Succeed())

		rs, err := policy.Load(path)
		Expect(err).NotTo(HaveOccurred())
		engine := policy.NewEngine(rs)

		watcher, err := policy.NewWatcher(engine, path, slog.New(slog.DiscardHandler))
		Expect(err).NotTo(HaveOccurred())
		defer watcher.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = watcher.Run(ctx)
		}()

		Expect(os.WriteFile(path, []byte("name = \"edited\"\nversion = \"9\"\n"), 0o644)).To(Succeed())

		Eventually(func() string {
			return engine.RuleSet().Version
		}, "5s", "50ms").Should(Equal("9"))

		d := engine.Evaluate("the admin password is hunter2", "memory_storage")
		Expect(d.Outcome).To(Equal(policy.OutcomeAllow), "the edited set has no rules")
		Expect(d.RuleSetVersion).To(Equal("9"))

		cancel()
		Eventually(done, "2s").Should(BeClosed())
	})

	It("keeps the previous set when a reload fails to parse", func() {
		path := filepath.Join(GinkgoT().TempDir(), "ruleset.toml")
		Expect(os.WriteFile(path, []byte(testRules), 0o644)).To(Succeed())

		rs, err := policy.Load(path)
		Expect(err).NotTo(HaveOccurred())
		engine := policy.NewEngine(rs)

		watcher, err := policy.NewWatcher(engine, path, slog.New(slog.DiscardHandler))
		Expect(err).NotTo(HaveOccurred())
		defer watcher.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = watcher.Run(ctx) }()

		Expect(os.WriteFile(path, []byte("version = [not toml"), 0o644)).To(Succeed())

		Consistently(func() string {
			return engine.RuleSet().Version
		}, "1s", "100ms").Should(Equal("7"))
	})

	It("writes the default once and never overwrites", func() {
		path := filepath.Join(GinkgoT().TempDir(), "policy", "ruleset.toml")

		written, err := policy.WriteDefault(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeTrue())

		Expect(os.WriteFile(path, []byte("name = \"custom\"\nversion = \"9\"\n"), 0o644)).To(Succeed())

		written, err = policy.WriteDefault(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(BeFalse())

		rs, err := policy.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(rs.Name).To(Equal("custom"))
	})
})
