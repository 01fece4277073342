// Package cas implements the content-addressed blob tier: raw payloads
// stored on the filesystem under their own SHA-256 digest.
package cas

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/corticalco/engram/pkg/engram"
)

// MaxBlobSize caps a single payload at 16 MiB. Larger payloads belong in an
// external artifact store, referenced from a record instead of inlined.
const MaxBlobSize = 16 << 20

// IntegrityError is returned when a blob read back from disk no longer
// hashes to the digest it is filed under.
type IntegrityError struct {
	CID    string
	Actual string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("blob integrity mismatch: stored as %s, hashes to %s", e.CID, e.Actual)
}

// TooLargeError is returned when a payload exceeds MaxBlobSize.
type TooLargeError struct {
	Size int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("blob of %d bytes exceeds the %d byte limit", e.Size, MaxBlobSize)
}

// NotFoundError is returned when no blob exists for a digest.
type NotFoundError struct {
	CID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("blob not found: %s", e.CID)
}

// Store is a filesystem-backed blob store rooted at a single directory.
// Files are written to a temp name then renamed, so a crash mid-write never
// leaves a partial blob under a valid digest.
type Store struct {
	root string
}

// New creates (if needed) the blob directory under root and returns a store.
func New(root string) (*Store, error) {
	dir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Put stores a payload and returns its digest. Storing the same payload
// twice is a no-op; content addressing makes the write idempotent.
func (s *Store) Put(payload []byte) (string, error) {
	if len(payload) > MaxBlobSize {
		return "", &TooLargeError{Size: len(payload)}
	}

	cid := engram.Digest(payload)
	path := s.path(cid)
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("committing blob: %w", err)
	}
	return cid, nil
}

// Get reads a payload by digest, re-hashing on the way out so silent disk
// corruption surfaces as an IntegrityError rather than bad data.
func (s *Store) Get(cid string) ([]byte, error) {
	payload, err := os.ReadFile(s.path(cid))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{CID: cid}
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	if actual := engram.Digest(payload); actual != cid {
		return nil, &IntegrityError{CID: cid, Actual: actual}
	}
	return payload, nil
}

// Has checks whether a blob exists without reading it.
func (s *Store) Has(cid string) (bool, error) {
	_, err := os.Stat(s.path(cid))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statting blob: %w", err)
	}
	return true, nil
}

// List returns the digests of every stored blob.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	var cids []string
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		cids = append(cids, e.Name())
	}
	return cids, nil
}

func (s *Store) path(cid string) string {
	return filepath.Join(s.root, cid)
}
