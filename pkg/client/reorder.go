package client

import (
	"sync"

	"github.com/cloudmeeting/orderhub/pkg/protocol"
)

const (
	reorderWindow   = 8  // packets held before old ones are discarded
	lossDistance    = 3  // a packet this far ahead marks the missing one lost
	maxReorderDelay = 16 // furthest look-ahead
)

// ReorderBuffer puts one sender's relayed media packets back in sequence
// order. The relay forwards datagrams as they arrive, so reordering and loss
// are the receiver's problem.
type ReorderBuffer struct {
	mu      sync.Mutex
	pkts    map[uint32]*protocol.MediaPacket
	nextSeq uint32
	started bool
}

// NewReorderBuffer creates an empty buffer.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{pkts: make(map[uint32]*protocol.MediaPacket)}
}

// Push adds a packet. Packets older than the next expected one are ignored.
func (rb *ReorderBuffer) Push(pkt *protocol.MediaPacket) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.started {
		rb.nextSeq = pkt.SeqNum
		rb.started = true
	}
	if seqBefore(pkt.SeqNum, rb.nextSeq) {
		return
	}
	rb.pkts[pkt.SeqNum] = pkt

	if len(rb.pkts) > reorderWindow*3 {
		for seq := range rb.pkts {
			if seq-rb.nextSeq > reorderWindow*3 {
				delete(rb.pkts, seq)
			}
		}
	}
}

// Pop returns the next packet in sequence. A nil packet with ok set means
// seq was lost: a packet at least lossDistance later is already buffered.
// ok is false when the caller should wait for more data.
func (rb *ReorderBuffer) Pop() (pkt *protocol.MediaPacket, seq uint32, ok bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.started {
		return nil, 0, false
	}
	if p, found := rb.pkts[rb.nextSeq]; found {
		seq = rb.nextSeq
		delete(rb.pkts, seq)
		rb.nextSeq++
		return p, seq, true
	}
	for i := uint32(lossDistance); i <= maxReorderDelay; i++ {
		if _, found := rb.pkts[rb.nextSeq+i]; found {
			seq = rb.nextSeq
			rb.nextSeq++
			return nil, seq, true
		}
	}
	return nil, 0, false
}

// Len returns the number of buffered packets.
func (rb *ReorderBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.pkts)
}

// Reset forgets all state, e.g. when the sender rejoins.
func (rb *ReorderBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pkts = make(map[uint32]*protocol.MediaPacket)
	rb.started = false
}

// seqBefore reports whether a precedes b, allowing for uint32 wraparound.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0 //nolint:gosec // wraparound arithmetic
}
