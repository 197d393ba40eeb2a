package book

import "errors"

// ErrSlabExhausted is returned by Alloc when the slab is preallocated
// and full, or block growth is disabled and the last block is full.
var ErrSlabExhausted = errors.New("book: slab exhausted")

const blockSlots = 4096

type hotBlock = [blockSlots]HotSlot
type coldBlock = [blockSlots]ColdPayload

// SlabConfig controls slab growth policy.
type SlabConfig struct {
	// Preallocate, if true, allocates Capacity slots up front and never
	// grows; Alloc returns ErrSlabExhausted once full. If false, the
	// slab grows by one block of blockSlots whenever the current
	// blocks are full.
	Preallocate bool
	// Capacity is the hard slot limit when Preallocate is true, and the
	// growth ceiling (rounded up to a block) when it is false and
	// non-zero. Zero means unbounded growth.
	Capacity int
}

// Slab is the dual-slab allocator: HotSlot storage (slab A) and
// ColdPayload storage (slab B), addressed by the same stable index.
//
// Slots are stored in fixed-size blocks; only the slice of block
// pointers grows, so a *HotSlot handed to a caller remains valid for
// the life of the slab even after a later Alloc triggers growth.
type Slab struct {
	cfg SlabConfig

	hotBlocks  []*hotBlock
	coldBlocks []*coldBlock

	freeHead SlotIndex
	used     int
	capIdx   int // number of slots backed by allocated blocks
}

// NewSlab constructs a slab under the given configuration.
func NewSlab(cfg SlabConfig) *Slab {
	s := &Slab{cfg: cfg, freeHead: NullIndex}
	if cfg.Preallocate && cfg.Capacity > 0 {
		for s.capIdx < cfg.Capacity {
			s.growBlock()
		}
	}
	return s
}

func (s *Slab) growBlock() {
	s.hotBlocks = append(s.hotBlocks, new(hotBlock))
	s.coldBlocks = append(s.coldBlocks, new(coldBlock))
	base := s.capIdx
	s.capIdx += blockSlots
	// Thread the new block onto the free list, highest index first so
	// that allocation proceeds in ascending index order.
	for i := s.capIdx - 1; i >= base; i-- {
		idx := SlotIndex(i)
		hot := s.hotSlotAt(idx)
		hot.reset()
		hot.nodes[QFree].Next = s.freeHead
		s.freeHead = idx
	}
}

func (s *Slab) hotSlotAt(idx SlotIndex) *HotSlot {
	block := idx / blockSlots
	offset := idx % blockSlots
	return &s.hotBlocks[block][offset]
}

func (s *Slab) coldSlotAt(idx SlotIndex) *ColdPayload {
	block := idx / blockSlots
	offset := idx % blockSlots
	return &s.coldBlocks[block][offset]
}

// Alloc removes a slot from the free list (growing the slab first if
// permitted and necessary) and returns its index and a zeroed hot slot.
func (s *Slab) Alloc() (SlotIndex, *HotSlot, error) {
	if s.cfg.Preallocate && s.cfg.Capacity > 0 && s.used >= s.cfg.Capacity {
		return NullIndex, nil, ErrSlabExhausted
	}
	if s.freeHead == NullIndex {
		if s.cfg.Preallocate {
			return NullIndex, nil, ErrSlabExhausted
		}
		if s.cfg.Capacity > 0 && s.capIdx >= s.cfg.Capacity {
			return NullIndex, nil, ErrSlabExhausted
		}
		s.growBlock()
	}
	idx := s.freeHead
	hot := s.hotSlotAt(idx)
	s.freeHead = hot.nodes[QFree].Next
	hot.reset()
	*s.coldSlotAt(idx) = ColdPayload{}
	s.used++
	return idx, hot, nil
}

// Free clears all four queue nodes of the slot at idx and returns it
// to the Q0 free list.
func (s *Slab) Free(idx SlotIndex) {
	hot := s.hotSlotAt(idx)
	for i := range hot.nodes {
		hot.nodes[i] = queueNode{Next: NullIndex, Prev: NullIndex}
	}
	hot.nodes[QFree].Next = s.freeHead
	s.freeHead = idx
	s.used--
}

// SlotFromIdx returns the bijective address for idx. Panics if idx is
// out of range; callers are expected to validate indices obtained from
// the hashmap or queue links, which are internally consistent.
func (s *Slab) SlotFromIdx(idx SlotIndex) *HotSlot {
	return s.hotSlotAt(idx)
}

// ColdFromIdx returns the auxiliary payload for idx.
func (s *Slab) ColdFromIdx(idx SlotIndex) *ColdPayload {
	return s.coldSlotAt(idx)
}

// Used returns the number of currently allocated slots.
func (s *Slab) Used() int { return s.used }

// Capacity returns the number of slots currently backed by storage
// (not the configured ceiling).
func (s *Slab) Capacity() int { return s.capIdx }
