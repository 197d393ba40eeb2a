// Package book implements the order-book storage core: a dual-slab
// allocator addressed by stable 32-bit indices, four intrusive queue
// roles threaded through each slot, and the per-product book built on
// top of them.
//
// Design decisions. Cross-slot linkage is always by index, never by
// pointer, so the slab can grow without invalidating existing links
// (see internal/book/slab.go). A slot's hot fields and queue nodes
// live in one array (slab A); a second, parallel array (slab B) holds
// the variable-length user/aux payload for the same index, so the two
// slabs always grow together.
package book

import "fmt"

// SlotIndex addresses a slot in the slab. NullIndex is the all-ones
// sentinel; it never identifies a live slot.
type SlotIndex uint32

// NullIndex is SLOT_NULL from the wire format: the all-ones 32-bit word.
const NullIndex SlotIndex = 0xFFFFFFFF

// QueueID names one of the four intrusive queue roles stored in every slot.
type QueueID int

const (
	// QFree is Q0, the slab's free list. Singly linked through Next only.
	QFree QueueID = iota
	// QLadder is Q1, the per-product price ladder.
	QLadder
	// QTimeFIFO is Q2, the per-price time FIFO. The level head repurposes
	// its Prev field to hold the level's tail index (see productbook.go).
	QTimeFIFO
	// QOrg is Q3, the per-(product,org) doubly linked queue.
	QOrg
	numQueues
)

// queueNode holds the two link fields for one queue role.
type queueNode struct {
	Next SlotIndex
	Prev SlotIndex
}

// Side is which side of the book an order rests on.
type Side uint8

const (
	SideBid Side = 0
	SideAsk Side = 1
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// OrderType is the taker/maker order type, packed into flag bits 1-4.
type OrderType uint8

const (
	TypeLimit  OrderType = 0
	TypeMarket OrderType = 1
	TypeIOC    OrderType = 2
	TypeFOK    OrderType = 3
	TypeGTC    OrderType = 4
)

// Status is the order lifecycle state, packed into flag bits 5-7.
type Status uint8

const (
	StatusNew         Status = 0
	StatusPartial     Status = 1
	StatusFilled      Status = 2
	StatusCancelled   Status = 3
	StatusRejected    Status = 4
	StatusDeactivated Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartial:
		return "PARTIAL"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusDeactivated:
		return "DEACTIVATED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Flag bit layout: bit 0 side, bits 1-4 type, bits 5-7 status.
const (
	flagSideShift   = 0
	flagSideMask    = 0x1
	flagTypeShift   = 1
	flagTypeMask    = 0xF
	flagStatusShift = 5
	flagStatusMask  = 0x7
)

// MakeFlags packs side, type and status into the 32-bit flags word.
func MakeFlags(side Side, typ OrderType, status Status) uint32 {
	return (uint32(side)&flagSideMask)<<flagSideShift |
		(uint32(typ)&flagTypeMask)<<flagTypeShift |
		(uint32(status)&flagStatusMask)<<flagStatusShift
}

func FlagSide(flags uint32) Side { return Side((flags >> flagSideShift) & flagSideMask) }

func FlagType(flags uint32) OrderType { return OrderType((flags >> flagTypeShift) & flagTypeMask) }

func FlagStatus(flags uint32) Status { return Status((flags >> flagStatusShift) & flagStatusMask) }

func setFlagStatus(flags uint32, status Status) uint32 {
	cleared := flags &^ (flagStatusMask << flagStatusShift)
	return cleared | (uint32(status)&flagStatusMask)<<flagStatusShift
}

// HotSlot is slab A: the mandatory fields and the four intrusive queue
// nodes for one order. It is the unit the matching engine, the book,
// and WAL replay all operate on directly.
type HotSlot struct {
	OrderID      uint64
	Price        uint64
	Volume       uint64
	VolumeRemain uint64
	Org          uint16
	Product      uint16
	Flags        uint32

	nodes [numQueues]queueNode
}

func (s *HotSlot) Side() Side           { return FlagSide(s.Flags) }
func (s *HotSlot) Type() OrderType      { return FlagType(s.Flags) }
func (s *HotSlot) Status() Status       { return FlagStatus(s.Flags) }
func (s *HotSlot) SetStatus(st Status) { s.Flags = setFlagStatus(s.Flags, st) }

// ColdPayload is slab B: the trailing user-defined and auxiliary
// payload carried alongside a hot slot, addressed by the same index.
type ColdPayload struct {
	UserData []byte
	AuxData  []byte
}

func (s *HotSlot) reset() {
	s.OrderID, s.Price, s.Volume, s.VolumeRemain = 0, 0, 0, 0
	s.Org, s.Product, s.Flags = 0, 0, 0
	for i := range s.nodes {
		s.nodes[i] = queueNode{Next: NullIndex, Prev: NullIndex}
	}
}
