package recall_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/cas"
	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/index"
	"github.com/corticalco/engram/pkg/recall"
	"github.com/corticalco/engram/pkg/storage"
	"github.com/corticalco/engram/pkg/storage/inmemory"
)

func TestRecall(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Recall Suite")
}

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		idx      *index.InMemory
		blobs    *cas.Store
		graph    *inmemory.Driver
		resolver *recall.Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		idx = index.NewInMemory()
		graph = inmemory.New()

		var err error
		blobs, err = cas.New(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		resolver = recall.NewResolver(idx, blobs, graph)
	})

	// commit mimics a full three-tier write.
	commit := func(rec *engram.Engram) {
		cid, err := blobs.Put(rec.CoreBytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(cid).To(Equal(rec.CID), "blob digest must equal the record id")

		_, err = graph.Put(ctx, rec)
		Expect(err).NotTo(HaveOccurred())
		Expect(idx.Put(ctx, rec, true)).To(Succeed())
	}

	It("answers from the requested tier", func() {
		rec := engram.New("solutions", []byte("note A"), nil)
		commit(rec)

		for prefer, source := range map[recall.Prefer]string{
			recall.PreferFast:  recall.TierFast,
			recall.PreferBlob:  recall.TierBlob,
			recall.PreferGraph: recall.TierGraph,
		} {
			res, err := resolver.Recall(ctx, rec.CID, prefer)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Payload).To(Equal([]byte("note A")))
			Expect(res.Source).To(Equal(source))
		}
	})

	It("falls back fast → blob → graph in auto mode", func() {
		rec := engram.New("solutions", []byte("fallback"), nil)

		// Graph only.
		_, err := graph.Put(ctx, rec)
		Expect(err).NotTo(HaveOccurred())

		res, err := resolver.Recall(ctx, rec.CID, recall.PreferAuto)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Source).To(Equal(recall.TierGraph))

		// Add the blob; it now wins over graph.
		_, err = blobs.Put(rec.CoreBytes())
		Expect(err).NotTo(HaveOccurred())

		res, err = resolver.Recall(ctx, rec.CID, recall.PreferAuto)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Source).To(Equal(recall.TierBlob))

		// Add the index entry; the fast tier wins.
		Expect(idx.Put(ctx, rec, true)).To(Succeed())

		res, err = resolver.Recall(ctx, rec.CID, recall.PreferAuto)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Source).To(Equal(recall.TierFast))
	})

	It("misses with NotFound when every tier misses", func() {
		_, err := resolver.Recall(ctx, "absent", recall.PreferAuto)
		var notFound *storage.NotFoundError
		Expect(errors.As(err, &notFound)).To(BeTrue())
	})

	It("rejects unknown preferences", func() {
		_, err := resolver.Recall(ctx, "x", recall.Prefer("psychic"))
		Expect(err).To(HaveOccurred())
	})

	Describe("RecallMany", func() {
		It("preserves order and never aborts on a miss", func() {
			a := engram.New("solutions", []byte("a"), nil)
			b := engram.New("solutions", []byte("b"), nil)
			commit(a)
			commit(b)

			results := resolver.RecallMany(ctx, []string{a.CID, "missing", b.CID}, recall.PreferAuto)
			Expect(results).To(HaveLen(3))
			Expect(results[0].Payload).To(Equal([]byte("a")))
			Expect(results[1].Err).To(HaveOccurred())
			Expect(results[1].CID).To(Equal("missing"))
			Expect(results[2].Payload).To(Equal([]byte("b")))
		})
	})

	Describe("Verify", func() {
		It("passes when all tiers agree", func() {
			rec := engram.New("solutions", []byte("agreed"), nil)
			commit(rec)
			Expect(resolver.Verify(ctx, rec.CID)).To(Succeed())
		})

		It("reports disagreement between tiers", func() {
			rec := engram.New("solutions", []byte("original"), nil)
			commit(rec)

			// Poison the fast tier with different bytes under the same id.
			poisoned := *rec
			poisoned.Payload = []byte("tampered")
			Expect(idx.Put(ctx, &poisoned, true)).To(Succeed())

			err := resolver.Verify(ctx, rec.CID)
			var mismatch *recall.MismatchError
			Expect(errors.As(err, &mismatch)).To(BeTrue())
			Expect(mismatch.CID).To(Equal(rec.CID))
		})
	})

	Describe("Cite", func() {
		It("lists the tiers holding an id", func() {
			rec := engram.New("solutions", []byte("cited"), nil)
			_, err := graph.Put(ctx, rec)
			Expect(err).NotTo(HaveOccurred())
			_, err = blobs.Put(rec.CoreBytes())
			Expect(err).NotTo(HaveOccurred())

			tiers, err := resolver.Cite(ctx, rec.CID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tiers).To(Equal([]string{recall.TierBlob, recall.TierGraph}))
		})
	})
})
