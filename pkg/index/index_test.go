package index_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/index"
	"github.com/corticalco/engram/pkg/storage"
)

func TestIndex(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Index Suite")
}

// Both drivers must satisfy the same behavior; run the shared specs against
// each.
var _ = Describe("index drivers", func() {
	drivers := map[string]func() index.Driver{
		"inmemory": func() index.Driver { return index.NewInMemory() },
		"sqlite": func() index.Driver {
			d, err := index.NewSQLite(filepath.Join(GinkgoT().TempDir(), "index.sqlite"))
			Expect(err).NotTo(HaveOccurred())
			return d
		},
	}

	for name, mk := range drivers {
		Describe(name, func() {
			var (
				ctx context.Context
				d   index.Driver
			)

			BeforeEach(func() {
				ctx = context.Background()
				d = mk()
			})

			AfterEach(func() {
				Expect(d.Close()).To(Succeed())
			})

			It("round-trips a record", func() {
				rec := engram.New("preferences", []byte("short answers"), nil, engram.Meta{Key: "style"})
				Expect(d.Put(ctx, rec, true)).To(Succeed())

				got, err := d.Get(ctx, rec.CID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Payload).To(Equal(rec.Payload))
				Expect(got.Key).To(Equal("style"))

				ok, err := d.Has(ctx, rec.CID)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			})

			It("misses with a typed error", func() {
				_, err := d.Get(ctx, "absent")
				var notFound *storage.NotFoundError
				Expect(errors.As(err, &notFound)).To(BeTrue())
			})

			It("lists recent digests newest first", func() {
				a := engram.New("solutions", []byte("a"), nil)
				b := engram.New("solutions", []byte("b"), nil)
				c := engram.New("preferences", []byte("c"), nil)
				for _, r := range []*engram.Engram{a, b, c} {
					Expect(d.Put(ctx, r, true)).To(Succeed())
				}

				cids, err := d.Recent(ctx, "solutions", 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(cids).To(Equal([]string{b.CID, a.CID}))

				cids, err = d.Recent(ctx, "", 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(cids).To(Equal([]string{c.CID}))
			})

			It("supports rollback deletes", func() {
				rec := engram.New("solutions", []byte("doomed"), nil)
				Expect(d.Put(ctx, rec, false)).To(Succeed())
				Expect(d.Delete(ctx, rec.CID)).To(Succeed())

				ok, err := d.Has(ctx, rec.CID)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("computes stats overall and per lobe", func() {
				a := engram.New("solutions", []byte("a"), nil)
				b := engram.New("solutions", []byte("b"), nil)
				c := engram.New("preferences", []byte("c"), nil)
				Expect(d.Put(ctx, a, true)).To(Succeed())
				Expect(d.Put(ctx, b, false)).To(Succeed())
				Expect(d.Put(ctx, c, true)).To(Succeed())

				st, err := d.Stats(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(st.Total).To(Equal(3))
				Expect(st.Archived).To(Equal(2))
				Expect(st.ByLobe).To(HaveKeyWithValue("solutions", 2))

				st, err = d.Stats(ctx, "solutions")
				Expect(err).NotTo(HaveOccurred())
				Expect(st.Total).To(Equal(2))
				Expect(st.ByLobe).To(HaveLen(1))
			})
		})
	}
})
