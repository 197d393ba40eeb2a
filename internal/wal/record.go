// Package wal implements the append-only write-ahead log: packed
// record headers, optional CRC32 framing, a buffered writer with
// optional O_DIRECT support, and a sequential reader that can both
// scan for a writer's resume point and drive full book recovery.
package wal

import "encoding/binary"

// Record type codes. Types at or above TypeUserBase are reserved for
// caller-defined records and dispatched to a handler on replay.
const (
	TypeInsert     uint8 = 1
	TypeCancel     uint8 = 2
	TypeMatch      uint8 = 3
	TypeCheckpoint uint8 = 4
	TypeDeactivate uint8 = 5
	TypeActivate   uint8 = 6
	TypeUserBase   uint8 = 0x80
)

const maxSeq = (uint64(1) << 40) - 1
const maxPayload = 0xFFFF

// packHeader encodes seq(40)|type(8)|len(16) into the 8-byte packed
// header word, little-endian on the wire.
func packHeader(seq uint64, typ uint8, length uint16) uint64 {
	return seq<<24 | uint64(typ)<<16 | uint64(length)
}

func unpackHeader(packed uint64) (seq uint64, typ uint8, length uint16) {
	seq = packed >> 24
	typ = uint8((packed >> 16) & 0xFF)
	length = uint16(packed & 0xFFFF)
	return
}

// insertHeaderSize is the size in bytes of the fixed portion of an
// INSERT payload, before the trailing user_data/aux_data.
const insertHeaderSize = 8 + 8 + 8 + 8 + 2 + 2 + 4 + 2 + 2 + 8 // = 52

type insertHeader struct {
	OrderID      uint64
	Price        uint64
	Volume       uint64
	VolumeRemain uint64
	Org          uint16
	ProductID    uint16
	Flags        uint32
	UserSize     uint16
	AuxSize      uint16
	TimestampNs  int64
}

func encodeInsertHeader(b []byte, h insertHeader) {
	binary.LittleEndian.PutUint64(b[0:], h.OrderID)
	binary.LittleEndian.PutUint64(b[8:], h.Price)
	binary.LittleEndian.PutUint64(b[16:], h.Volume)
	binary.LittleEndian.PutUint64(b[24:], h.VolumeRemain)
	binary.LittleEndian.PutUint16(b[32:], h.Org)
	binary.LittleEndian.PutUint16(b[34:], h.ProductID)
	binary.LittleEndian.PutUint32(b[36:], h.Flags)
	binary.LittleEndian.PutUint16(b[40:], h.UserSize)
	binary.LittleEndian.PutUint16(b[42:], h.AuxSize)
	binary.LittleEndian.PutUint64(b[44:], uint64(h.TimestampNs))
}

func decodeInsertHeader(b []byte) insertHeader {
	return insertHeader{
		OrderID:      binary.LittleEndian.Uint64(b[0:]),
		Price:        binary.LittleEndian.Uint64(b[8:]),
		Volume:       binary.LittleEndian.Uint64(b[16:]),
		VolumeRemain: binary.LittleEndian.Uint64(b[24:]),
		Org:          binary.LittleEndian.Uint16(b[32:]),
		ProductID:    binary.LittleEndian.Uint16(b[34:]),
		Flags:        binary.LittleEndian.Uint32(b[36:]),
		UserSize:     binary.LittleEndian.Uint16(b[40:]),
		AuxSize:      binary.LittleEndian.Uint16(b[42:]),
		TimestampNs:  int64(binary.LittleEndian.Uint64(b[44:])),
	}
}

// cancelLikeSize is the payload size shared by CANCEL, DEACTIVATE and
// ACTIVATE: (order_id, timestamp_ns, slot_idx, product_id).
const cancelLikeSize = 8 + 8 + 4 + 2 // = 22

type cancelLikePayload struct {
	OrderID     uint64
	TimestampNs int64
	SlotIdx     uint32
	ProductID   uint16
}

func encodeCancelLike(b []byte, p cancelLikePayload) {
	binary.LittleEndian.PutUint64(b[0:], p.OrderID)
	binary.LittleEndian.PutUint64(b[8:], uint64(p.TimestampNs))
	binary.LittleEndian.PutUint32(b[16:], p.SlotIdx)
	binary.LittleEndian.PutUint16(b[20:], p.ProductID)
}

func decodeCancelLike(b []byte) cancelLikePayload {
	return cancelLikePayload{
		OrderID:     binary.LittleEndian.Uint64(b[0:]),
		TimestampNs: int64(binary.LittleEndian.Uint64(b[8:])),
		SlotIdx:     binary.LittleEndian.Uint32(b[16:]),
		ProductID:   binary.LittleEndian.Uint16(b[20:]),
	}
}

// matchSize is the MATCH payload size: (maker_id, taker_id, price,
// volume, timestamp_ns, product_id).
const matchSize = 8 + 8 + 8 + 8 + 8 + 2 // = 42

type matchPayload struct {
	MakerID     uint64
	TakerID     uint64
	Price       uint64
	Volume      uint64
	TimestampNs int64
	ProductID   uint16
}

func encodeMatch(b []byte, p matchPayload) {
	binary.LittleEndian.PutUint64(b[0:], p.MakerID)
	binary.LittleEndian.PutUint64(b[8:], p.TakerID)
	binary.LittleEndian.PutUint64(b[16:], p.Price)
	binary.LittleEndian.PutUint64(b[24:], p.Volume)
	binary.LittleEndian.PutUint64(b[32:], uint64(p.TimestampNs))
	binary.LittleEndian.PutUint16(b[40:], p.ProductID)
}

func decodeMatch(b []byte) matchPayload {
	return matchPayload{
		MakerID:     binary.LittleEndian.Uint64(b[0:]),
		TakerID:     binary.LittleEndian.Uint64(b[8:]),
		Price:       binary.LittleEndian.Uint64(b[16:]),
		Volume:      binary.LittleEndian.Uint64(b[24:]),
		TimestampNs: int64(binary.LittleEndian.Uint64(b[32:])),
		ProductID:   binary.LittleEndian.Uint16(b[40:]),
	}
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}
