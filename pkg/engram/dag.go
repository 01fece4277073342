package engram

import (
	"context"
	"errors"
	"fmt"
)

// Loader defines the interface for loading records from storage. It allows a
// Dag to be hydrated from any storage implementation without creating a
// circular dependency.
type Loader interface {
	// Get retrieves a record by its digest.
	Get(ctx context.Context, cid string) (*Engram, error)

	// Ancestry returns the chain from a record back to its seed
	// (record first, seed last), walking at most maxDepth links.
	Ancestry(ctx context.Context, cid string, maxDepth int) ([]*Engram, error)
}

// Dag is an in-memory view of a single branch of the record graph, loaded
// on demand from a Loader.
type Dag struct {
	// Root is the oldest record in the view: the seed when the view is
	// unbounded, otherwise the record at the depth boundary.
	Root *Node

	// index provides O(1) lookup by record digest.
	index map[string]*Node
}

// Node wraps an Engram with structural relationships for traversal.
type Node struct {
	*Engram

	// Parent is the parent node (nil for the seed).
	Parent *Node

	// Children are the child nodes (empty for leaves).
	Children []*Node
}

func NewDag() *Dag {
	return &Dag{
		index: make(map[string]*Node),
	}
}

// LoadDag loads the ancestry chain containing the given digest from storage,
// bounded by maxDepth parent links.
func LoadDag(ctx context.Context, loader Loader, cid string, maxDepth int) (*Dag, error) {
	ancestry, err := loader.Ancestry(ctx, cid, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("getting ancestry for %s: %w", cid, err)
	}

	if len(ancestry) == 0 {
		return nil, fmt.Errorf("record %s not found", cid)
	}

	dag := NewDag()

	// Add records from seed to the matched record (ancestry is record-first,
	// seed-last).
	for i := len(ancestry) - 1; i >= 0; i-- {
		if _, err := dag.add(ancestry[i]); err != nil {
			return nil, fmt.Errorf("adding ancestor record: %w", err)
		}
	}

	return dag, nil
}

// Get returns the Node with the given digest, or nil if not found.
func (d *Dag) Get(cid string) *Node {
	return d.index[cid]
}

// Size returns the total number of records in the view.
func (d *Dag) Size() int {
	return len(d.index)
}

// Ancestors returns the chain from the given record up to the seed
// (record first, seed last). Returns nil if the digest is not in the view.
func (d *Dag) Ancestors(cid string) []*Node {
	node := d.Get(cid)
	if node == nil {
		return nil
	}

	ancestors := []*Node{}
	for current := node; current != nil; current = current.Parent {
		ancestors = append(ancestors, current)
	}

	return ancestors
}

// Walk traverses the view depth-first from the seed, calling fn for each
// node. If fn returns false, traversal stops. If fn errors, traversal stops
// and the error is propagated.
func (d *Dag) Walk(fn func(*Node) (bool, error)) error {
	if d.Root == nil {
		return nil
	}

	_, err := d.walk(d.Root, fn)
	return err
}

func (d *Dag) walk(node *Node, fn func(*Node) (bool, error)) (bool, error) {
	ok, err := fn(node)
	if !ok || err != nil {
		return false, err
	}

	for _, child := range node.Children {
		ok, err := d.walk(child, fn)
		if !ok || err != nil {
			return false, err
		}
	}

	return true, nil
}

// add links a record into the view. A record whose parent is not in the view
// becomes the root, which covers both true seeds and the boundary record of
// a depth-bounded load. Adding an already-present record is a no-op.
func (d *Dag) add(rec *Engram) (*Node, error) {
	if rec == nil {
		return nil, errors.New("cannot add nil record to dag")
	}

	node, ok := d.index[rec.CID]
	if ok {
		return node, nil
	}

	node = &Node{
		Engram:   rec,
		Children: make([]*Node, 0),
	}

	var parent *Node
	if rec.ParentCID != nil {
		parent = d.index[*rec.ParentCID]
	}
	if parent == nil {
		if d.Root != nil {
			return nil, fmt.Errorf("record %s is disconnected from the view", rec.CID)
		}
		d.Root = node
	} else {
		node.Parent = parent
		parent.Children = append(parent.Children, node)
	}

	d.index[rec.CID] = node
	return node, nil
}
