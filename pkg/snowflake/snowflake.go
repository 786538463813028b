// Package snowflake generates store-assigned message keys.
//
// Keys are 64-bit snowflakes rendered as 19-digit zero padded decimals, so
// lexicographic key order equals generation order. Stores use the key as
// the tie-break between messages sharing a creation timestamp.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC

	keyWidth = 19
)

var ErrNodeRange = fmt.Errorf("node number must be between 0 and %d", nodeMax)

type Node struct {
	mu   sync.Mutex
	now  func() int64
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{
		now:  func() int64 { return time.Now().UnixMilli() },
		node: node,
	}, nil
}

// Generate returns the next id. Ids from one node are strictly increasing,
// even when the wall clock steps backwards.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Sequence exhausted for this millisecond: borrow the next one.
			now = n.last + 1
		}
	} else {
		n.step = 0
	}
	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Key returns the next id formatted as a sortable store key.
func (n *Node) Key() string {
	return Format(n.Generate())
}

func Format(id int64) string {
	return fmt.Sprintf("%0*d", keyWidth, id)
}
