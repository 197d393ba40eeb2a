package book

// ProductBook holds the bid and ask price ladders for a single
// product: the index of each side's best-priced resting order (its Q1
// head), and an accelerator mapping price to its level's Q1 head so
// that Cancel can find and promote a level head in O(1) instead of
// walking the chain.
//
// The accelerator is an addition beyond the four queue nodes stored in
// a slot: it exists purely as a side table, not a departure from the
// head-is-a-node encoding, since the tail marker for a level stays in
// the head slot's own Q2.Prev field. A red-
// black-tree-based book would get the same O(1) head lookup for free
// from the node itself; a pure linked ladder does not, so this table
// restores it without adding a fifth field to every slot.
type ProductBook struct {
	bidHead SlotIndex
	askHead SlotIndex

	bidLevelHead map[uint64]SlotIndex
	askLevelHead map[uint64]SlotIndex
}

// NewProductBook returns an empty book for one product.
func NewProductBook() *ProductBook {
	return &ProductBook{
		bidHead:      NullIndex,
		askHead:      NullIndex,
		bidLevelHead: make(map[uint64]SlotIndex),
		askLevelHead: make(map[uint64]SlotIndex),
	}
}

func (pb *ProductBook) head(side Side) SlotIndex {
	if side == SideBid {
		return pb.bidHead
	}
	return pb.askHead
}

func (pb *ProductBook) setHead(side Side, idx SlotIndex) {
	if side == SideBid {
		pb.bidHead = idx
	} else {
		pb.askHead = idx
	}
}

func (pb *ProductBook) levelMap(side Side) map[uint64]SlotIndex {
	if side == SideBid {
		return pb.bidLevelHead
	}
	return pb.askLevelHead
}

// levelBetter reports whether candidate is a strictly better price
// than existing for side (descending for bids, ascending for asks).
func levelBetter(candidate, existing uint64, side Side) bool {
	if side == SideBid {
		return candidate > existing
	}
	return candidate < existing
}

// BestPrice returns the best resting price on side, and false if the
// side is empty.
func (pb *ProductBook) BestPrice(slab *Slab, side Side) (uint64, bool) {
	head := pb.head(side)
	if head == NullIndex {
		return 0, false
	}
	return slab.hotSlotAt(head).Price, true
}

// Insert threads idx into the price ladder / time FIFO for its side
// and price. The caller has already populated the slot's mandatory
// fields.
func (pb *ProductBook) Insert(slab *Slab, idx SlotIndex) {
	slot := slab.hotSlotAt(idx)
	side := slot.Side()
	price := slot.Price
	levelMap := pb.levelMap(side)

	if headIdx, ok := levelMap[price]; ok {
		headSlot := slab.hotSlotAt(headIdx)
		tailIdx := headSlot.nodes[QTimeFIFO].Prev
		if tailIdx == NullIndex {
			tailIdx = headIdx
		}
		tailSlot := slab.hotSlotAt(tailIdx)
		tailSlot.nodes[QTimeFIFO].Next = idx
		slot.nodes[QTimeFIFO].Prev = tailIdx
		slot.nodes[QTimeFIFO].Next = NullIndex
		headSlot.nodes[QTimeFIFO].Prev = idx
		return
	}

	var prevIdx SlotIndex = NullIndex
	cur := pb.head(side)
	for cur != NullIndex {
		curSlot := slab.hotSlotAt(cur)
		if levelBetter(price, curSlot.Price, side) {
			break
		}
		prevIdx = cur
		cur = curSlot.nodes[QLadder].Next
	}

	slot.nodes[QLadder].Prev = prevIdx
	slot.nodes[QLadder].Next = cur
	if prevIdx != NullIndex {
		slab.hotSlotAt(prevIdx).nodes[QLadder].Next = idx
	} else {
		pb.setHead(side, idx)
	}
	if cur != NullIndex {
		slab.hotSlotAt(cur).nodes[QLadder].Prev = idx
	}
	slot.nodes[QTimeFIFO].Prev = NullIndex
	slot.nodes[QTimeFIFO].Next = NullIndex
	levelMap[price] = idx
}

// Cancel removes idx from the price ladder / time FIFO it belongs to,
// promoting the next Q2 member to level head if one exists. It does
// not touch Q3, the hashmap, or the slab; callers (context.go)
// sequence those around it.
func (pb *ProductBook) Cancel(slab *Slab, idx SlotIndex) {
	slot := slab.hotSlotAt(idx)
	side := slot.Side()
	price := slot.Price
	levelMap := pb.levelMap(side)

	headIdx, ok := levelMap[price]
	if !ok {
		return
	}
	// A deactivated slot was already unlinked from Q1/Q2; its level may
	// still exist, headed by some other order. Nothing to do here.
	if idx != headIdx &&
		slot.nodes[QTimeFIFO].Prev == NullIndex &&
		slot.nodes[QTimeFIFO].Next == NullIndex {
		return
	}

	if idx == headIdx {
		headSlot := slot
		nextQ2 := headSlot.nodes[QTimeFIFO].Next
		p1, n1 := headSlot.nodes[QLadder].Prev, headSlot.nodes[QLadder].Next

		if nextQ2 != NullIndex {
			promoted := slab.hotSlotAt(nextQ2)
			promoted.nodes[QLadder].Prev = p1
			promoted.nodes[QLadder].Next = n1
			if p1 != NullIndex {
				slab.hotSlotAt(p1).nodes[QLadder].Next = nextQ2
			} else {
				pb.setHead(side, nextQ2)
			}
			if n1 != NullIndex {
				slab.hotSlotAt(n1).nodes[QLadder].Prev = nextQ2
			}

			oldTail := headSlot.nodes[QTimeFIFO].Prev
			if oldTail == NullIndex || oldTail == nextQ2 {
				promoted.nodes[QTimeFIFO].Prev = NullIndex
			} else {
				promoted.nodes[QTimeFIFO].Prev = oldTail
			}
			levelMap[price] = nextQ2
		} else {
			if p1 != NullIndex {
				slab.hotSlotAt(p1).nodes[QLadder].Next = n1
			} else {
				pb.setHead(side, n1)
			}
			if n1 != NullIndex {
				slab.hotSlotAt(n1).nodes[QLadder].Prev = p1
			}
			delete(levelMap, price)
		}
		headSlot.nodes[QLadder] = queueNode{NullIndex, NullIndex}
		headSlot.nodes[QTimeFIFO] = queueNode{NullIndex, NullIndex}
		return
	}

	prevQ2, nextQ2 := slot.nodes[QTimeFIFO].Prev, slot.nodes[QTimeFIFO].Next
	slab.hotSlotAt(prevQ2).nodes[QTimeFIFO].Next = nextQ2
	if nextQ2 != NullIndex {
		slab.hotSlotAt(nextQ2).nodes[QTimeFIFO].Prev = prevQ2
	} else {
		headSlot := slab.hotSlotAt(headIdx)
		if prevQ2 == headIdx {
			headSlot.nodes[QTimeFIFO].Prev = NullIndex
		} else {
			headSlot.nodes[QTimeFIFO].Prev = prevQ2
		}
	}
	slot.nodes[QTimeFIFO] = queueNode{NullIndex, NullIndex}
}

// VolumeAtPrice sums VolumeRemain over every resting order at price on
// side, walking the Q2 chain headed by that level.
func (pb *ProductBook) VolumeAtPrice(slab *Slab, side Side, price uint64) uint64 {
	headIdx, ok := pb.levelMap(side)[price]
	if !ok {
		return 0
	}
	var total uint64
	cur := headIdx
	for cur != NullIndex {
		slot := slab.hotSlotAt(cur)
		total += slot.VolumeRemain
		cur = slot.nodes[QTimeFIFO].Next
	}
	return total
}

// LevelExists reports whether side has a resting price level at price.
func (pb *ProductBook) LevelExists(side Side, price uint64) bool {
	_, ok := pb.levelMap(side)[price]
	return ok
}

// LevelCount returns the number of distinct price levels on side.
func (pb *ProductBook) LevelCount(side Side) int {
	return len(pb.levelMap(side))
}
