package cas_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/corticalco/engram/pkg/cas"
	"github.com/corticalco/engram/pkg/engram"
)

func TestCAS(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CAS Suite")
}

var _ = Describe("blob store", func() {
	var (
		root  string
		store *cas.Store
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()

		var err error
		store, err = cas.New(root)
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores and retrieves a payload under its digest", func() {
		payload := []byte("remember the milk")
		cid, err := store.Put(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(cid).To(Equal(engram.Digest(payload)))

		got, err := store.Get(cid)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(payload))
	})

	It("is idempotent for repeated puts", func() {
		payload := []byte("same bytes")
		cid1, err := store.Put(payload)
		Expect(err).NotTo(HaveOccurred())
		cid2, err := store.Put(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(cid1).To(Equal(cid2))
	})

	It("reports existence without reading", func() {
		cid, err := store.Put([]byte("present"))
		Expect(err).NotTo(HaveOccurred())

		ok, err := store.Has(cid)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = store.Has("0000000000000000000000000000000000000000000000000000000000000000")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("fails with a typed error for missing blobs", func() {
		_, err := store.Get("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
		var notFound *cas.NotFoundError
		Expect(errors.As(err, &notFound)).To(BeTrue())
	})

	It("detects corruption on read", func() {
		payload := []byte("pristine")
		cid, err := store.Put(payload)
		Expect(err).NotTo(HaveOccurred())

		// Flip the bytes on disk behind the store's back.
		path := filepath.Join(root, "blobs", cid)
		Expect(os.WriteFile(path, []byte("tampered"), 0o644)).To(Succeed())

		_, err = store.Get(cid)
		var integrity *cas.IntegrityError
		Expect(errors.As(err, &integrity)).To(BeTrue())
		Expect(integrity.CID).To(Equal(cid))
		Expect(integrity.Actual).NotTo(Equal(cid))
	})

	It("rejects payloads over the size cap", func() {
		huge := make([]byte, cas.MaxBlobSize+1)
		_, err := store.Put(huge)
		var tooLarge *cas.TooLargeError
		Expect(errors.As(err, &tooLarge)).To(BeTrue())
	})

	It("lists stored digests", func() {
		a, err := store.Put([]byte("one"))
		Expect(err).NotTo(HaveOccurred())
		b, err := store.Put([]byte("two"))
		Expect(err).NotTo(HaveOccurred())

		cids, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(cids).To(ConsistOf(a, b))
	})
})
