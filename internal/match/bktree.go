package match

import "github.com/franz/media-organizer/internal/fingerprint"

// bkTree indexes 64-bit frame hashes by Hamming distance.
type bkTree struct {
	root *bkNode
	size int
}

type bkItem struct {
	ref   int
	frame int
}

type bkNode struct {
	hash     uint64
	items    []bkItem
	children []bkEdge
}

type bkEdge struct {
	dist int
	node *bkNode
}

func (t *bkTree) insert(hash uint64, item bkItem) {
	t.size++
	if t.root == nil {
		t.root = &bkNode{hash: hash, items: []bkItem{item}}
		return
	}
	n := t.root
	for {
		d := fingerprint.Hamming(n.hash, hash)
		if d == 0 {
			n.items = append(n.items, item)
			return
		}
		next := n.child(d)
		if next == nil {
			n.children = append(n.children, bkEdge{dist: d, node: &bkNode{hash: hash, items: []bkItem{item}}})
			return
		}
		n = next
	}
}

func (n *bkNode) child(d int) *bkNode {
	for _, e := range n.children {
		if e.dist == d {
			return e.node
		}
	}
	return nil
}

// search calls fn for every stored item within radius of hash.
func (t *bkTree) search(hash uint64, radius int, fn func(item bkItem, dist int)) {
	if t.root == nil {
		return
	}
	stack := []*bkNode{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		d := fingerprint.Hamming(n.hash, hash)
		if d <= radius {
			for _, it := range n.items {
				fn(it, d)
			}
		}
		for _, e := range n.children {
			if e.dist >= d-radius && e.dist <= d+radius {
				stack = append(stack, e.node)
			}
		}
	}
}
