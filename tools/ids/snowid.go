package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
	tsMask   = 1<<41 - 1
)

// epoch 2020-01-01 UTC
var epochMS = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Node hands out snowflake ids: 41 bits ms timestamp, 10 bits node, 12 bits sequence.
type Node struct {
	mu       sync.Mutex
	id       int64
	seq      int64
	lastTSMS int64
	now      func() int64
}

func NewNode(id int64) *Node {
	if id < 0 || id > maxNode {
		id = 1
	}
	return &Node{id: id, now: func() int64 { return time.Now().UnixMilli() }}
}

var (
	defaultNode = NewNode(1)
	defaultMu   sync.RWMutex
)

// SetNodeID 设置 nodeID（0~1023），在 main() 初始化时调用
func SetNodeID(nodeID int64) {
	defaultMu.Lock()
	defaultNode = NewNode(nodeID)
	defaultMu.Unlock()
}

func Generate() int64 {
	defaultMu.RLock()
	n := defaultNode
	defaultMu.RUnlock()
	return n.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		now := n.now()
		if now < n.lastTSMS {
			// clock went backwards, wait it out
			time.Sleep(time.Duration(n.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == n.lastTSMS {
			n.seq = (n.seq + 1) & seqMask
			if n.seq == 0 {
				for now <= n.lastTSMS {
					now = n.now()
				}
			}
		} else {
			n.seq = 0
		}
		n.lastTSMS = now

		ts := (now - epochMS) & tsMask
		return ts<<(nodeBits+seqBits) | n.id<<seqBits | n.seq
	}
}
