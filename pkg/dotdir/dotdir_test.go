package dotdir_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/dotdir"
)

func TestDotdir(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dotdir Suite")
}

var _ = Describe("Manager", func() {
	var mgr *dotdir.Manager

	BeforeEach(func() {
		mgr = dotdir.NewManager()
	})

	Describe("Target", func() {
		It("uses the override directory when provided", func() {
			override := filepath.Join(GinkgoT().TempDir(), "custom")

			dir, err := mgr.Target(override)
			Expect(err).NotTo(HaveOccurred())
			Expect(dir).To(Equal(override))

			info, err := os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})

		It("creates the directory if missing", func() {
			override := filepath.Join(GinkgoT().TempDir(), "a", "b", ".engram")

			dir, err := mgr.Target(override)
			Expect(err).NotTo(HaveOccurred())

			_, err = os.Stat(dir)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("focus state", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("returns nil for a fresh workspace", func() {
			state, err := mgr.LoadFocus(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("round-trips the focused path", func() {
			Expect(mgr.SaveFocus(&dotdir.FocusState{Path: "feature-x", Head: "abc123"}, dir)).To(Succeed())

			state, err := mgr.LoadFocus(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Path).To(Equal("feature-x"))
			Expect(state.Head).To(Equal("abc123"))
		})

		It("rejects saving nil state", func() {
			Expect(mgr.SaveFocus(nil, dir)).To(HaveOccurred())
		})

		It("clears focus idempotently", func() {
			Expect(mgr.SaveFocus(&dotdir.FocusState{Path: "feature-x"}, dir)).To(Succeed())
			Expect(mgr.ClearFocus(dir)).To(Succeed())

			state, err := mgr.LoadFocus(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())

			Expect(mgr.ClearFocus(dir)).To(Succeed())
		})
	})
})
