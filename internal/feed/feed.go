// Package feed fans order book changes out to projection workers over
// the SPMC notification ring.
//
// The Publisher sits between the book and its WAL sink: every record
// the book logs is forwarded to the real WAL first, then broadcast as
// an Event on the ring. Each Consumer runs on its own goroutine,
// draining the ring in batches and applying events to its projection
// worker, so the engine thread never touches projection state and the
// WAL record order is preserved end to end.
package feed

import (
	"github.com/rishav/ob-engine/internal/book"
	"github.com/rishav/ob-engine/internal/projection"
	"github.com/rishav/ob-engine/internal/ring"
)

// Kind discriminates what book change an Event describes.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindCancel
	KindMatch
	KindDeactivate
	KindActivate
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "INSERT"
	case KindCancel:
		return "CANCEL"
	case KindMatch:
		return "MATCH"
	case KindDeactivate:
		return "DEACTIVATE"
	case KindActivate:
		return "ACTIVATE"
	default:
		return "UNKNOWN"
	}
}

// Event is one book change as seen by projection workers. Insert and
// Activate carry the full order record; Cancel and Deactivate carry
// only the order id; Match carries the maker id and matched quantity.
type Event struct {
	Kind     Kind
	Seq      uint64
	Order    projection.OrderRecord
	OrderID  uint64
	MatchQty uint64
}

// Publisher implements book.WAL by delegating each append to an inner
// sink (which may be nil for a book running without durability) and
// then enqueueing the corresponding Event on the ring.
//
// It keeps a shadow record of every live order so that Activate (whose
// WAL record carries only the order id) can be re-broadcast with the
// full order fields a projection worker needs, and so that the matched
// maker's remaining volume stays consistent with the book's. Like the
// book itself it is owned by the single engine thread.
type Publisher struct {
	inner book.WAL
	ring  *ring.Ring[Event]

	orders map[uint64]projection.OrderRecord
}

// NewPublisher wraps inner (nil for no durability) with ring fan-out.
func NewPublisher(inner book.WAL, r *ring.Ring[Event]) *Publisher {
	return &Publisher{
		inner:  inner,
		ring:   r,
		orders: make(map[uint64]projection.OrderRecord),
	}
}

// AppendInsert satisfies book.WAL.
func (p *Publisher) AppendInsert(rec book.InsertRecord) (uint64, error) {
	seq, err := p.forwardInsert(rec)
	if err != nil {
		return seq, err
	}
	ord := projection.OrderRecord{
		OrderID:      rec.OrderID,
		Org:          rec.Org,
		Product:      rec.ProductID,
		Side:         book.FlagSide(rec.Flags),
		Price:        rec.Price,
		VolumeRemain: rec.VolumeRemain,
	}
	p.orders[rec.OrderID] = ord
	p.ring.Enqueue(Event{Kind: KindInsert, Seq: seq, Order: ord})
	return seq, nil
}

func (p *Publisher) forwardInsert(rec book.InsertRecord) (uint64, error) {
	if p.inner == nil {
		return 0, nil
	}
	return p.inner.AppendInsert(rec)
}

// AppendCancel satisfies book.WAL.
func (p *Publisher) AppendCancel(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	var seq uint64
	var err error
	if p.inner != nil {
		seq, err = p.inner.AppendCancel(orderID, slotIdx, productID)
		if err != nil {
			return seq, err
		}
	}
	delete(p.orders, orderID)
	p.ring.Enqueue(Event{Kind: KindCancel, Seq: seq, OrderID: orderID})
	return seq, nil
}

// AppendDeactivate satisfies book.WAL. The shadow record is kept so a
// later Activate can re-broadcast the order's full fields.
func (p *Publisher) AppendDeactivate(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	var seq uint64
	var err error
	if p.inner != nil {
		seq, err = p.inner.AppendDeactivate(orderID, slotIdx, productID)
		if err != nil {
			return seq, err
		}
	}
	p.ring.Enqueue(Event{Kind: KindDeactivate, Seq: seq, OrderID: orderID})
	return seq, nil
}

// AppendActivate satisfies book.WAL.
func (p *Publisher) AppendActivate(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	var seq uint64
	var err error
	if p.inner != nil {
		seq, err = p.inner.AppendActivate(orderID, slotIdx, productID)
		if err != nil {
			return seq, err
		}
	}
	ord, known := p.orders[orderID]
	ev := Event{Kind: KindActivate, Seq: seq, OrderID: orderID}
	if known {
		ev.Order = ord
	}
	p.ring.Enqueue(ev)
	return seq, nil
}

// AppendMatch satisfies book.WAL, decrementing the maker's shadow
// remaining volume in step with what the book will apply.
func (p *Publisher) AppendMatch(makerID, takerID uint64, price, volume uint64, productID uint16) (uint64, error) {
	var seq uint64
	var err error
	if p.inner != nil {
		seq, err = p.inner.AppendMatch(makerID, takerID, price, volume, productID)
		if err != nil {
			return seq, err
		}
	}
	if ord, ok := p.orders[makerID]; ok {
		if volume >= ord.VolumeRemain {
			delete(p.orders, makerID)
		} else {
			ord.VolumeRemain -= volume
			p.orders[makerID] = ord
		}
	}
	p.ring.Enqueue(Event{Kind: KindMatch, Seq: seq, OrderID: makerID, MatchQty: volume})
	return seq, nil
}
