// Package matching implements price-time matching of an incoming
// taker against the resting makers held in an order book context.
//
// The engine itself holds no state beyond the book it matches against;
// every policy decision (self-trade prevention, residual booking,
// fill/cancel notification) is delegated to the Callbacks supplied at
// Submit time.
package matching

import (
	"fmt"

	"github.com/rishav/ob-engine/internal/book"
)

// Taker is the incoming order being matched. Unlike a resting maker it
// is not yet a slab slot; it only becomes one if a residual is
// booked at the end of Submit.
type Taker struct {
	OrderID  uint64
	Price    uint64
	Volume   uint64
	Remain   uint64
	Org      uint16
	Product  uint16
	Side     book.Side
	Type     book.OrderType
	UserData []byte
	AuxData  []byte
}

// Callbacks are the user contracts invoked synchronously during
// Submit. All fields are optional; a nil callback is simply skipped.
// Callbacks must not mutate the book and must be total
// functions, signalling failure only through return values where one
// is defined (CanMatch, PreBooked).
type Callbacks struct {
	// CanMatch caps the matchable volume between maker and taker, or
	// returns 0 to skip this maker without stopping the level scan.
	CanMatch func(maker *book.HotSlot, taker *Taker) uint64
	// OnMatch fires once per side of every partial or full match.
	OnMatch func(isMaker bool, orderID uint64, side book.Side, qty, price uint64)
	// OnDeal fires once per match with both counterparties.
	OnDeal func(makerID, takerID uint64, price, qty uint64)
	// OnFilled fires when a maker's volume_remain reaches zero.
	OnFilled func(makerID uint64)
	// PreBooked gates whether a residual is booked; returning false
	// drops it (OnCancel fires instead).
	PreBooked func(t *Taker) bool
	// OnBooked fires after a residual has been inserted into the book.
	OnBooked func(t *Taker, idx book.SlotIndex)
	// OnCancel fires when a residual is dropped instead of booked.
	OnCancel func(t *Taker)
}

// Fill records one matched trade from Submit's perspective.
type Fill struct {
	MakerOrderID uint64
	Price        uint64
	Qty          uint64
}

// Result summarizes the outcome of one Submit call.
type Result struct {
	Fills      []Fill
	Booked     bool
	BookedIdx  book.SlotIndex
	RemainQty  uint64
}

// Engine matches takers against one order book context.
type Engine struct {
	ctx *book.OrderBookContext
}

// New returns an engine bound to ctx.
func New(ctx *book.OrderBookContext) *Engine {
	return &Engine{ctx: ctx}
}

// crosses reports whether a resting level at levelPrice is still
// matchable against a taker at takerPrice on takerSide.
func crosses(takerSide book.Side, takerPrice, levelPrice uint64) bool {
	if takerSide == book.SideBid {
		return takerPrice >= levelPrice
	}
	return takerPrice <= levelPrice
}

func opposite(s book.Side) book.Side {
	if s == book.SideBid {
		return book.SideAsk
	}
	return book.SideBid
}

func min3(a, b, c uint64) uint64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// nextLevelWorseThan walks the ladder from its current head and
// returns the first level priced strictly worse than price on side
// (higher for asks, lower for bids), or NullIndex when none remains.
func (e *Engine) nextLevelWorseThan(product uint16, side book.Side, price uint64) book.SlotIndex {
	slab := e.ctx.Slab()
	idx := e.ctx.LadderHead(product, side)
	for idx != book.NullIndex {
		p := slab.SlotFromIdx(idx).Price
		if (side == book.SideAsk && p > price) || (side == book.SideBid && p < price) {
			return idx
		}
		idx = e.ctx.NextLevel(idx)
	}
	return book.NullIndex
}

// Submit matches t against resting liquidity and, if any volume
// remains, books it subject to PreBooked/OnBooked.
func (e *Engine) Submit(t Taker, cb Callbacks) (*Result, error) {
	if t.Remain == 0 {
		t.Remain = t.Volume
	}
	result := &Result{}
	oppSide := opposite(t.Side)
	slab := e.ctx.Slab()

	// Each price level is scanned exactly once, makers in time order.
	// A fill can remove the level head, the whole level, or promote a
	// new head, so the next level is resolved by price from the ladder
	// after the pass rather than through a link captured before it.
	levelIdx := e.ctx.LadderHead(t.Product, oppSide)
	for t.Remain > 0 && levelIdx != book.NullIndex {
		level := slab.SlotFromIdx(levelIdx)
		levelPrice := level.Price
		if t.Type != book.TypeMarket && !crosses(t.Side, t.Price, levelPrice) {
			break
		}

		makerIdx := levelIdx
		for makerIdx != book.NullIndex && t.Remain > 0 {
			maker := slab.SlotFromIdx(makerIdx)
			nextMaker := e.ctx.NextInTimeFIFO(makerIdx)

			cap := maker.VolumeRemain
			if cb.CanMatch != nil {
				allowed := cb.CanMatch(maker, &t)
				if allowed == 0 {
					makerIdx = nextMaker
					continue
				}
				if allowed < cap {
					cap = allowed
				}
			}

			qty := min3(maker.VolumeRemain, t.Remain, cap)
			if qty == 0 {
				makerIdx = nextMaker
				continue
			}

			price := maker.Price
			makerOrderID := maker.OrderID
			willFill := maker.VolumeRemain == qty

			if err := e.ctx.LogMatch(makerOrderID, t.OrderID, price, qty, t.Product); err != nil {
				return result, fmt.Errorf("matching: wal match: %w", err)
			}

			if cb.OnMatch != nil {
				cb.OnMatch(true, makerOrderID, oppSide, qty, price)
				cb.OnMatch(false, t.OrderID, t.Side, qty, price)
			}
			if cb.OnDeal != nil {
				cb.OnDeal(makerOrderID, t.OrderID, price, qty)
			}

			if err := e.ctx.ApplyMatch(makerOrderID, qty); err != nil {
				return result, fmt.Errorf("matching: apply match: %w", err)
			}
			t.Remain -= qty
			result.Fills = append(result.Fills, Fill{MakerOrderID: makerOrderID, Price: price, Qty: qty})

			if willFill && cb.OnFilled != nil {
				cb.OnFilled(makerOrderID)
			}

			makerIdx = nextMaker
		}

		levelIdx = e.nextLevelWorseThan(t.Product, oppSide, levelPrice)
	}

	result.RemainQty = t.Remain
	if t.Remain == 0 {
		return result, nil
	}

	if cb.PreBooked != nil && !cb.PreBooked(&t) {
		if cb.OnCancel != nil {
			cb.OnCancel(&t)
		}
		return result, nil
	}

	idx, err := e.ctx.Insert(book.InsertParams{
		OrderID:  t.OrderID,
		Price:    t.Price,
		Volume:   t.Volume,
		Remain:   t.Remain,
		Org:      t.Org,
		Product:  t.Product,
		Side:     t.Side,
		Type:     t.Type,
		UserData: t.UserData,
		AuxData:  t.AuxData,
	})
	if err != nil {
		return result, fmt.Errorf("matching: book insert: %w", err)
	}

	result.Booked = true
	result.BookedIdx = idx
	if cb.OnBooked != nil {
		cb.OnBooked(&t, idx)
	}
	return result, nil
}
