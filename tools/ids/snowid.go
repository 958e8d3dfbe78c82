package ids

import (
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Epoch is the zero point of the timestamp part.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

// Generator hands out snowflake ids: 41 bits of milliseconds since Epoch,
// 10 bits of node, 12 bits of sequence.
type Generator struct {
	mu     sync.Mutex
	clk    clock.Clock
	node   int64
	seq    int64
	lastMS int64
}

// NewGenerator clamps node into 0~1023 (out of range becomes 1). A nil clock means wall time.
func NewGenerator(node int64, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	if node < 0 || node > maxNode {
		node = 1
	}
	return &Generator{clk: clk, node: node}
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now().Sub(Epoch).Milliseconds()
	if now < g.lastMS {
		// clock moved backwards: keep counting inside the last millisecond
		now = g.lastMS
	}
	if now == g.lastMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// sequence exhausted, borrow the next millisecond
			now++
		}
	} else {
		g.seq = 0
	}
	g.lastMS = now
	return (now&(1<<41-1))<<(nodeBits+seqBits) | g.node<<seqBits | g.seq
}

// Node returns the node part of id.
func Node(id int64) int64 {
	return id >> seqBits & maxNode
}

var (
	defaultGen *Generator
	once       sync.Once
)

func def() *Generator {
	once.Do(func() { defaultGen = NewGenerator(1, nil) })
	return defaultGen
}

// Generate returns a new id from the process-wide generator.
func Generate() int64 {
	return def().Next()
}

// ConnID is the relay connection id: base36 snowflake, short enough for log lines and poll sids.
func ConnID() string {
	return strconv.FormatInt(Generate(), 36)
}

// SetNodeID sets the node part of the process-wide generator (0~1023); out of range falls back to 1.
func SetNodeID(node int64) {
	g := def()
	if node < 0 || node > maxNode {
		node = 1
	}
	g.mu.Lock()
	g.node = node
	g.mu.Unlock()
}
