// Package engram defines the immutable, content-addressed record unit of the
// memory substrate and an in-memory DAG view over stored records.
package engram

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"time"
)

// Engram is a single content-addressed record. Once created it is never
// mutated or deleted; its identity is the digest of its hashable core.
type Engram struct {
	// CID is the content-addressed identifier (SHA-256, hex-encoded).
	CID string `json:"cid"`

	// ParentCID links to the previous record on the same path.
	// Nil for seed records.
	ParentCID *string `json:"parent_cid"`

	// Lobe is the logical namespace the record belongs to
	// (e.g. "preferences", "solutions", "signals/affect").
	Lobe string `json:"lobe"`

	// Key is an optional caller-supplied sub-key within the lobe.
	Key string `json:"key,omitempty"`

	// Payload is the raw recorded content.
	Payload []byte `json:"payload"`

	// CreatedAt is stored but does not participate in the
	// content-addressable hash.
	CreatedAt time.Time `json:"created_at"`

	// Tags carries optional key-value metadata, also outside the hash.
	Tags map[string]string `json:"tags,omitempty"`
}

// Meta contains the optional metadata for a record that is stored but does
// not affect the content-addressable digest.
type Meta struct {
	Key       string
	CreatedAt time.Time
	Tags      map[string]string
}

// New creates a record with the computed digest for the provided payload.
// The optional Meta parameter sets Key/CreatedAt/Tags outside the hashable
// core. CreatedAt defaults to the current UTC time.
func New(lobe string, payload []byte, parent *Engram, metas ...Meta) *Engram {
	e := &Engram{
		Lobe:      lobe,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if parent != nil {
		e.ParentCID = &parent.CID
	}

	if len(metas) > 0 {
		e.Key = metas[0].Key
		if !metas[0].CreatedAt.IsZero() {
			e.CreatedAt = metas[0].CreatedAt
		}
		e.Tags = metas[0].Tags
	}

	e.CID = e.computeDigest()
	return e
}

// NewWithParentCID creates a record whose parent is known only by digest.
// Used when appending to a path head without materializing the parent record.
func NewWithParentCID(lobe string, payload []byte, parentCID *string, metas ...Meta) *Engram {
	e := &Engram{
		Lobe:      lobe,
		Payload:   payload,
		ParentCID: parentCID,
		CreatedAt: time.Now().UTC(),
	}

	if len(metas) > 0 {
		e.Key = metas[0].Key
		if !metas[0].CreatedAt.IsZero() {
			e.CreatedAt = metas[0].CreatedAt
		}
		e.Tags = metas[0].Tags
	}

	e.CID = e.computeDigest()
	return e
}

// Verify recomputes the digest from the stored fields and reports whether it
// still matches the stored CID (content-addressing integrity).
func (e *Engram) Verify() bool {
	return e.CID == e.computeDigest()
}

// Core is the hashable part of a record. Its canonical serialization is what
// the CID commits to, and it is exactly the blob the content-addressed tier
// stores: sha256(CoreBytes) == CID.
type Core struct {
	Parent  string `json:"parent"`
	Lobe    string `json:"lobe"`
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
}

// Core returns the hashable part of the record.
func (e *Engram) Core() Core {
	parent := ""
	if e.ParentCID != nil {
		parent = *e.ParentCID
	}
	return Core{
		Parent:  parent,
		Lobe:    e.Lobe,
		Key:     e.Key,
		Payload: e.Payload,
	}
}

// CoreBytes returns the RFC 8785 canonical JSON serialization of the
// record's hashable core.
func (e *Engram) CoreBytes() []byte {
	data, err := json.Marshal(e.Core())
	if err != nil {
		panic("failed to marshal record core: " + err.Error())
	}

	// Canonicalize according to RFC 8785 so the digest is stable regardless
	// of marshaling order between runs.
	// As of Go 1.25.x this requires "GOEXPERIMENT=jsonv2" for the json v2 and
	// jsontext packages.
	j := jsontext.Value(data)
	if err := j.Canonicalize(); err != nil {
		panic("failed to canonicalize JSON: " + err.Error())
	}
	return j
}

// DecodeCore parses canonical core bytes back into their fields.
func DecodeCore(data []byte) (*Core, error) {
	var c Core
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// computeDigest calculates the content-addressed digest for a record.
func (e *Engram) computeDigest() string {
	h := sha256.Sum256(e.CoreBytes())
	return hex.EncodeToString(h[:])
}

// Digest returns the hex SHA-256 of arbitrary payload bytes. The blob tier
// addresses raw payloads by this digest.
func Digest(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}
