package tables

import (
	"math/bits"

	"github.com/bastiangx/pcserve/internal/utils"
)

// Node is one position in the code trie. Children are kept in a dense slice
// ordered by alphabet slot; mask has bit i set when slot i has a child.
type Node struct {
	mask     uint64
	children []*Node
	terminal bool
}

// Terminal reports whether a legal code ends at this node.
func (n *Node) Terminal() bool { return n.terminal }

// Leaf reports whether the node has no outgoing edges.
func (n *Node) Leaf() bool { return n.mask == 0 }

func (n *Node) child(slot int) *Node {
	bit := uint64(1) << uint(slot)
	if n.mask&bit == 0 {
		return nil
	}
	return n.children[bits.OnesCount64(n.mask&(bit-1))]
}

func (n *Node) addChild(slot int) *Node {
	bit := uint64(1) << uint(slot)
	pos := bits.OnesCount64(n.mask & (bit - 1))
	if n.mask&bit != 0 {
		return n.children[pos]
	}
	c := &Node{}
	n.children = append(n.children, nil)
	copy(n.children[pos+1:], n.children[pos:])
	n.children[pos] = c
	n.mask |= bit
	return c
}

// Next returns the characters that continue from n, in ascending order.
func (n *Node) Next() []byte {
	out := make([]byte, 0, len(n.children))
	for m := n.mask; m != 0; m &= m - 1 {
		out = append(out, utils.IndexChar(bits.TrailingZeros64(m)))
	}
	return out
}

// Trie holds every legal code as a depth-7 path.
// Safe for concurrent reads once no more inserts happen.
type Trie struct {
	root  *Node
	nodes int
	codes int
}

// NewTrie creates an empty trie.
func NewTrie() *Trie {
	return &Trie{root: &Node{}, nodes: 1}
}

// Insert adds code and reports whether it was new. Codes that are not
// exactly seven alphabet characters are rejected without touching the trie.
func (t *Trie) Insert(code string) bool {
	if len(code) != utils.CodeLength || !utils.IsCodeToken(code) {
		return false
	}
	n := t.root
	for i := 0; i < len(code); i++ {
		slot := utils.CharIndex(code[i])
		next := n.child(slot)
		if next == nil {
			next = n.addChild(slot)
			t.nodes++
		}
		n = next
	}
	if n.terminal {
		return false
	}
	n.terminal = true
	t.codes++
	return true
}

// Walk follows existing edges for token and never creates nodes.
// It returns nil when any character is unknown at its depth.
func (t *Trie) Walk(token string) *Node {
	if len(token) > utils.CodeLength {
		return nil
	}
	n := t.root
	for i := 0; i < len(token); i++ {
		slot := utils.CharIndex(token[i])
		if slot < 0 {
			return nil
		}
		if n = n.child(slot); n == nil {
			return nil
		}
	}
	return n
}

type frame struct {
	node  *Node
	depth int
	path  [utils.CodeLength]byte
}

// Expand returns up to limit complete codes under prefix in ascending order.
// Children are visited in alphabet order, so the result is the
// lexicographically first slice of the subtree.
func (t *Trie) Expand(prefix string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	start := t.Walk(prefix)
	if start == nil {
		return []string{}
	}

	var f frame
	f.node = start
	f.depth = len(prefix)
	for i := 0; i < len(prefix); i++ {
		f.path[i] = utils.IndexChar(utils.CharIndex(prefix[i]))
	}

	out := make([]string, 0, min(limit, 64))
	stack := []frame{f}
	for len(stack) > 0 && len(out) < limit {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.depth == utils.CodeLength {
			if cur.node.terminal {
				out = append(out, string(cur.path[:]))
			}
			continue
		}
		// push in reverse so the smallest character is popped first
		for i := len(cur.node.children) - 1; i >= 0; i-- {
			next := cur
			next.node = cur.node.children[i]
			next.path[cur.depth] = utils.IndexChar(nthSlot(cur.node.mask, i))
			next.depth = cur.depth + 1
			stack = append(stack, next)
		}
	}
	return out
}

// nthSlot returns the alphabet slot of the i-th set bit of mask.
func nthSlot(mask uint64, i int) int {
	for ; i > 0; i-- {
		mask &= mask - 1
	}
	return bits.TrailingZeros64(mask)
}

// Len returns the number of codes stored.
func (t *Trie) Len() int { return t.codes }

// Nodes returns the number of nodes including the root.
func (t *Trie) Nodes() int { return t.nodes }
