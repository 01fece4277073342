package inmemory_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/storage"
	"github.com/corticalco/engram/pkg/storage/inmemory"
)

func TestInMemory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Storage Suite")
}

var _ = Describe("InMemory driver", func() {
	var (
		ctx context.Context
		d   *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = inmemory.New()
	})

	Describe("Put", func() {
		It("inserts a seed record and reports insertion", func() {
			seed := engram.New("solutions", []byte("first"), nil)
			inserted, err := d.Put(ctx, seed)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())
		})

		It("is idempotent for an identical record", func() {
			seed := engram.New("solutions", []byte("first"), nil)
			_, err := d.Put(ctx, seed)
			Expect(err).NotTo(HaveOccurred())

			inserted, err := d.Put(ctx, seed)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())
		})

		It("rejects a record whose parent is not stored", func() {
			parent := engram.New("solutions", []byte("ghost"), nil)
			child := engram.New("solutions", []byte("orphan"), parent)

			_, err := d.Put(ctx, child)
			var notFound *storage.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.CID).To(Equal(parent.CID))
		})
	})

	Describe("Get", func() {
		It("round-trips a stored record", func() {
			seed := engram.New("preferences", []byte("tabs over spaces"), nil, engram.Meta{
				Key:  "style",
				Tags: map[string]string{"source": "session"},
			})
			_, err := d.Put(ctx, seed)
			Expect(err).NotTo(HaveOccurred())

			got, err := d.Get(ctx, seed.CID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.CID).To(Equal(seed.CID))
			Expect(got.Lobe).To(Equal("preferences"))
			Expect(got.Key).To(Equal("style"))
			Expect(got.Payload).To(Equal([]byte("tabs over spaces")))
			Expect(got.Tags).To(HaveKeyWithValue("source", "session"))
			Expect(got.Verify()).To(BeTrue())
		})

		It("fails for an unknown digest", func() {
			_, err := d.Get(ctx, "deadbeef")
			var notFound *storage.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.CID).To(Equal("deadbeef"))
		})
	})

	Describe("Ancestry", func() {
		It("walks from a record back to its seed", func() {
			a := engram.New("solutions", []byte("a"), nil)
			b := engram.New("solutions", []byte("b"), a)
			c := engram.New("solutions", []byte("c"), b)
			for _, r := range []*engram.Engram{a, b, c} {
				_, err := d.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}

			chain, err := d.Ancestry(ctx, c.CID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(chain).To(HaveLen(3))
			Expect(chain[0].CID).To(Equal(c.CID))
			Expect(chain[2].CID).To(Equal(a.CID))
		})

		It("respects maxDepth", func() {
			a := engram.New("solutions", []byte("a"), nil)
			b := engram.New("solutions", []byte("b"), a)
			c := engram.New("solutions", []byte("c"), b)
			for _, r := range []*engram.Engram{a, b, c} {
				_, err := d.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}

			chain, err := d.Ancestry(ctx, c.CID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(chain).To(HaveLen(2))
		})
	})

	Describe("IsAncestor", func() {
		It("finds a transitive ancestor", func() {
			a := engram.New("solutions", []byte("a"), nil)
			b := engram.New("solutions", []byte("b"), a)
			c := engram.New("solutions", []byte("c"), b)
			for _, r := range []*engram.Engram{a, b, c} {
				_, err := d.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}

			ok, err := d.IsAncestor(ctx, a.CID, c.CID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = d.IsAncestor(ctx, c.CID, a.CID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("treats a record as its own ancestor", func() {
			a := engram.New("solutions", []byte("a"), nil)
			_, err := d.Put(ctx, a)
			Expect(err).NotTo(HaveOccurred())

			ok, err := d.IsAncestor(ctx, a.CID, a.CID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Recent", func() {
		It("returns newest first, filtered by lobe", func() {
			a := engram.New("solutions", []byte("a"), nil)
			b := engram.New("preferences", []byte("b"), nil)
			c := engram.New("solutions", []byte("c"), a)
			for _, r := range []*engram.Engram{a, b, c} {
				_, err := d.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}

			cids, err := d.Recent(ctx, "solutions", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(cids).To(Equal([]string{c.CID, a.CID}))

			cids, err = d.Recent(ctx, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(cids).To(Equal([]string{c.CID, b.CID}))
		})
	})

	Describe("heads", func() {
		var seed, next *engram.Engram

		BeforeEach(func() {
			seed = engram.New("solutions", []byte("seed"), nil)
			next = engram.New("solutions", []byte("next"), seed)
			for _, r := range []*engram.Engram{seed, next} {
				_, err := d.Put(ctx, r)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("seeds a path and remembers its base", func() {
			Expect(d.SeedHead(ctx, "feature-x", seed.CID)).To(Succeed())

			h, err := d.Head(ctx, "feature-x")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.CID).To(Equal(seed.CID))
			Expect(h.Base).To(Equal(seed.CID))
		})

		It("refuses to seed an already-seeded path", func() {
			Expect(d.SeedHead(ctx, "feature-x", seed.CID)).To(Succeed())

			err := d.SeedHead(ctx, "feature-x", next.CID)
			var conflict *storage.ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Actual).To(Equal(seed.CID))

			h, err := d.Head(ctx, "feature-x")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.CID).To(Equal(seed.CID), "losing seeder must not overwrite")
		})

		It("advances a head when the expected value matches", func() {
			Expect(d.SeedHead(ctx, "feature-x", seed.CID)).To(Succeed())
			Expect(d.AdvanceHead(ctx, "feature-x", seed.CID, next.CID)).To(Succeed())

			h, err := d.Head(ctx, "feature-x")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.CID).To(Equal(next.CID))
			Expect(h.Base).To(Equal(seed.CID), "base stays at the seed")
		})

		It("fails the compare-and-swap when the head moved", func() {
			Expect(d.SeedHead(ctx, "feature-x", seed.CID)).To(Succeed())
			Expect(d.AdvanceHead(ctx, "feature-x", seed.CID, next.CID)).To(Succeed())

			err := d.AdvanceHead(ctx, "feature-x", seed.CID, next.CID)
			var conflict *storage.ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Actual).To(Equal(next.CID))
		})

		It("fails advancement on an unseeded path", func() {
			err := d.AdvanceHead(ctx, "nowhere", seed.CID, next.CID)
			var pathErr *storage.PathNotFoundError
			Expect(errors.As(err, &pathErr)).To(BeTrue())
		})

		It("lists all heads sorted by name", func() {
			Expect(d.SeedHead(ctx, "zeta", seed.CID)).To(Succeed())
			Expect(d.SeedHead(ctx, "alpha", seed.CID)).To(Succeed())

			heads, err := d.Heads(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(heads).To(HaveLen(2))
			Expect(heads[0].Name).To(Equal("alpha"))
			Expect(heads[1].Name).To(Equal("zeta"))
		})
	})

	Describe("Delete", func() {
		It("removes a record so a failed commit can roll back", func() {
			seed := engram.New("solutions", []byte("rollback"), nil)
			_, err := d.Put(ctx, seed)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Delete(ctx, seed.CID)).To(Succeed())

			ok, err := d.Has(ctx, seed.CID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})
