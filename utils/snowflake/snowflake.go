// Package snowflake generates time-ordered 63-bit ids for chat messages.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC) in milliseconds.
	Epoch int64 = 1704067200000

	NodeBits     uint8 = 10
	SequenceBits uint8 = 12

	MaxNodeID = -1 ^ (-1 << NodeBits)

	nodeShift      = SequenceBits
	timestampShift = SequenceBits + NodeBits
	sequenceMask   = -1 ^ (-1 << SequenceBits)

	// maxBackwardDrift is how far the clock may step back before NextID
	// gives up instead of waiting it out.
	maxBackwardDrift = 10 * time.Millisecond
)

var (
	ErrInvalidNodeID       = errors.New("node id out of range")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator is safe for concurrent use. Ids from one generator are strictly
// increasing; ids from generators with distinct node ids never collide.
type Generator struct {
	mu sync.Mutex

	nodeID int64
	now    func() time.Time

	sequence      int64
	lastTimestamp int64
}

// NewGenerator returns a generator for nodeID in [0, MaxNodeID].
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID, now: time.Now}, nil
}

// NextID generates the next unique ID.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.currentMillis()
	if timestamp < g.lastTimestamp {
		if time.Duration(g.lastTimestamp-timestamp)*time.Millisecond > maxBackwardDrift {
			return 0, ErrClockMovedBackwards
		}
		timestamp = g.waitUntil(g.lastTimestamp)
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		// sequence exhausted for this millisecond
		if g.sequence == 0 {
			timestamp = g.waitUntil(g.lastTimestamp + 1)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return ((timestamp - Epoch) << timestampShift) | (g.nodeID << nodeShift) | g.sequence, nil
}

func (g *Generator) currentMillis() int64 {
	return g.now().UnixMilli()
}

func (g *Generator) waitUntil(target int64) int64 {
	timestamp := g.currentMillis()
	for timestamp < target {
		time.Sleep(100 * time.Microsecond)
		timestamp = g.currentMillis()
	}
	return timestamp
}

// Parse splits an id into its creation time, node id and sequence.
func Parse(id int64) (created time.Time, nodeID int64, sequence int64) {
	sequence = id & sequenceMask
	nodeID = (id >> nodeShift) & MaxNodeID
	created = time.UnixMilli((id >> timestampShift) + Epoch).UTC()
	return created, nodeID, sequence
}
