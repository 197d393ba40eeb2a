// Package projection maintains per-viewer top-N market depth ladders,
// incrementally updated from order book events (insert, cancel, match,
// deactivate, activate) rather than recomputed from scratch each tick.
//
// Each (viewer_org, product_id) subscription sees a "dealable" view of
// the book: every resting order contributes not its raw volume_remain
// but whatever a caller-supplied DealableFunc says is visible to that
// viewer. The public, non-viewer-filtered projection is the same
// machinery with DealableFunc set to identity.
package projection

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/rishav/ob-engine/internal/book"
)

// OrderRecord is a worker's own record of one resting order, kept
// independent of the book's slab so degradation/removal order in the
// book and this worker's view never need to touch the same memory.
type OrderRecord struct {
	OrderID      uint64
	Org          uint16
	Product      uint16
	Side         book.Side
	Price        uint64
	VolumeRemain uint64
}

// DealableFunc returns the quantity of rec visible as matchable to
// viewerOrg. The public projection uses a DealableFunc that always
// returns rec.VolumeRemain.
type DealableFunc func(rec OrderRecord, viewerOrg uint16) uint64

// Identity is the public projection's DealableFunc: every order's full
// remaining volume is visible to every viewer.
func Identity(rec OrderRecord, _ uint16) uint64 { return rec.VolumeRemain }

// LadderEntry is one priced level in a top-N ladder.
type LadderEntry struct {
	Price uint64
	Qty   uint64
}

// subHash derives the map key for a (viewerOrg, product) subscription
// by hashing the pair with xxhash, the same non-cryptographic hash the
// rest of the retrieval pack's cache/broker clients use to key
// composite lookups. The original pair is stored alongside the ladder
// state for the per-product fan-out; lookups trust the hash alone, so
// two pairs with the same hash would share one ladder.
func subHash(viewerOrg, product uint16) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:], viewerOrg)
	binary.LittleEndian.PutUint16(buf[2:], product)
	return xxhash.Sum64(buf[:])
}

type subscription struct {
	viewerOrg uint16
	product   uint16
	state     *ladderState
}

type priceKey struct {
	Product uint16
	Side    book.Side
	Price   uint64
}

type ladderState struct {
	bids []LadderEntry // descending
	asks []LadderEntry // ascending

	bidDelta map[uint64]int64
	askDelta map[uint64]int64

	dirty bool
}

func newLadderState() *ladderState {
	return &ladderState{bidDelta: make(map[uint64]int64), askDelta: make(map[uint64]int64)}
}

func (l *ladderState) entries(side book.Side) []LadderEntry {
	if side == book.SideBid {
		return l.bids
	}
	return l.asks
}

func (l *ladderState) setEntries(side book.Side, e []LadderEntry) {
	if side == book.SideBid {
		l.bids = e
	} else {
		l.asks = e
	}
}

func (l *ladderState) delta(side book.Side) map[uint64]int64 {
	if side == book.SideBid {
		return l.bidDelta
	}
	return l.askDelta
}

func (l *ladderState) addDelta(side book.Side, price uint64, d int64) {
	if d == 0 {
		return
	}
	m := l.delta(side)
	m[price] += d
	if m[price] == 0 {
		delete(m, price)
	}
}

// better reports whether candidate sorts ahead of existing on side.
func better(candidate, existing uint64, side book.Side) bool {
	if side == book.SideBid {
		return candidate > existing
	}
	return candidate < existing
}

func (l *ladderState) find(side book.Side, price uint64) (int, bool) {
	e := l.entries(side)
	i := sort.Search(len(e), func(i int) bool {
		if side == book.SideBid {
			return e[i].Price <= price
		}
		return e[i].Price >= price
	})
	if i < len(e) && e[i].Price == price {
		return i, true
	}
	return i, false
}

func (l *ladderState) insertSorted(side book.Side, price, qty uint64) {
	e := l.entries(side)
	i, _ := l.find(side, price)
	e = append(e, LadderEntry{})
	copy(e[i+1:], e[i:])
	e[i] = LadderEntry{Price: price, Qty: qty}
	l.setEntries(side, e)
}

func (l *ladderState) removeAt(side book.Side, idx int) LadderEntry {
	e := l.entries(side)
	removed := e[idx]
	e = append(e[:idx], e[idx+1:]...)
	l.setEntries(side, e)
	return removed
}

func (l *ladderState) worst(side book.Side) (LadderEntry, bool) {
	e := l.entries(side)
	if len(e) == 0 {
		return LadderEntry{}, false
	}
	return e[len(e)-1], true
}

// Worker is one projection worker: a shared per-product order table
// (the promotion source of truth) plus a set of per-(viewer,product)
// ladders built on top of it.
type Worker struct {
	topN     int
	dealable DealableFunc

	orders  map[uint64]OrderRecord
	byPrice map[priceKey]map[uint64]struct{}

	subs map[uint64]*subscription
}

// NewWorker returns a projection worker keeping up to topN entries per
// side, applying dealable to every order it sees.
func NewWorker(topN int, dealable DealableFunc) *Worker {
	if dealable == nil {
		dealable = Identity
	}
	return &Worker{
		topN:     topN,
		dealable: dealable,
		orders:   make(map[uint64]OrderRecord),
		byPrice:  make(map[priceKey]map[uint64]struct{}),
		subs:     make(map[uint64]*subscription),
	}
}

// Subscribe registers a (viewerOrg, product) pair so its ladder starts
// receiving updates. Re-subscribing is a no-op.
func (w *Worker) Subscribe(viewerOrg, product uint16) {
	key := subHash(viewerOrg, product)
	if _, ok := w.subs[key]; !ok {
		w.subs[key] = &subscription{viewerOrg: viewerOrg, product: product, state: newLadderState()}
	}
}

func (w *Worker) ladder(viewerOrg, product uint16) *ladderState {
	sub := w.subs[subHash(viewerOrg, product)]
	if sub == nil {
		return nil
	}
	return sub.state
}

func (w *Worker) pk(rec OrderRecord) priceKey {
	return priceKey{Product: rec.Product, Side: rec.Side, Price: rec.Price}
}

func (w *Worker) indexAdd(rec OrderRecord) {
	pk := w.pk(rec)
	set := w.byPrice[pk]
	if set == nil {
		set = make(map[uint64]struct{})
		w.byPrice[pk] = set
	}
	set[rec.OrderID] = struct{}{}
}

func (w *Worker) indexRemove(rec OrderRecord) {
	pk := w.pk(rec)
	set := w.byPrice[pk]
	delete(set, rec.OrderID)
	if len(set) == 0 {
		delete(w.byPrice, pk)
	}
}

// aggregateAtPrice sums dealable quantity, for viewerOrg, over every
// order this worker knows about at pk.
func (w *Worker) aggregateAtPrice(pk priceKey, viewerOrg uint16) uint64 {
	var total uint64
	for oid := range w.byPrice[pk] {
		total += w.dealable(w.orders[oid], viewerOrg)
	}
	return total
}

// nextCandidate finds the best-qualifying price at (product, side) not
// already present in the ladder, for promotion after a removal.
func (w *Worker) nextCandidate(ladder *ladderState, product uint16, side book.Side, viewerOrg uint16) (uint64, uint64, bool) {
	var bestPrice uint64
	var bestQty uint64
	found := false
	for pk := range w.byPrice {
		if pk.Product != product || pk.Side != side {
			continue
		}
		if _, inLadder := ladder.find(side, pk.Price); inLadder {
			continue
		}
		qty := w.aggregateAtPrice(pk, viewerOrg)
		if qty == 0 {
			continue
		}
		if !found || better(pk.Price, bestPrice, side) {
			bestPrice, bestQty, found = pk.Price, qty, true
		}
	}
	return bestPrice, bestQty, found
}

// applyDelta is the single mutation path every event type funnels
// through: adjust (or create, or remove) the ladder entry at price by
// qtyDelta, running top-N admission on growth and a promotion scan on
// removal.
func (w *Worker) applyDelta(ladder *ladderState, product uint16, side book.Side, viewerOrg uint16, price uint64, qtyDelta int64) {
	if idx, found := ladder.find(side, price); found {
		e := ladder.entries(side)
		newQty := int64(e[idx].Qty) + qtyDelta
		if newQty <= 0 {
			removed := ladder.removeAt(side, idx)
			ladder.addDelta(side, price, -int64(removed.Qty))
			ladder.dirty = true
			if nextPrice, nextQty, ok := w.nextCandidate(ladder, product, side, viewerOrg); ok {
				ladder.insertSorted(side, nextPrice, nextQty)
				ladder.addDelta(side, nextPrice, int64(nextQty))
			}
			return
		}
		e[idx].Qty = uint64(newQty)
		ladder.addDelta(side, price, qtyDelta)
		ladder.dirty = true
		return
	}

	if qtyDelta <= 0 {
		return
	}
	entries := ladder.entries(side)
	if len(entries) < w.topN {
		ladder.insertSorted(side, price, uint64(qtyDelta))
		ladder.addDelta(side, price, qtyDelta)
		ladder.dirty = true
		return
	}
	worst, ok := ladder.worst(side)
	if ok && better(price, worst.Price, side) {
		ladder.addDelta(side, worst.Price, -int64(worst.Qty))
		ladder.removeAt(side, len(entries)-1)
		ladder.insertSorted(side, price, uint64(qtyDelta))
		ladder.addDelta(side, price, qtyDelta)
		ladder.dirty = true
	}
}

func (w *Worker) forEachSubscribedViewer(product uint16, fn func(viewerOrg uint16, ladder *ladderState)) {
	for _, sub := range w.subs {
		if sub.product == product {
			fn(sub.viewerOrg, sub.state)
		}
	}
}

// Insert records a newly resting order and fans its visible quantity
// out to every subscription for its product.
func (w *Worker) Insert(rec OrderRecord) {
	w.orders[rec.OrderID] = rec
	w.indexAdd(rec)
	w.forEachSubscribedViewer(rec.Product, func(viewerOrg uint16, ladder *ladderState) {
		qty := w.dealable(rec, viewerOrg)
		if qty == 0 {
			return
		}
		w.applyDelta(ladder, rec.Product, rec.Side, viewerOrg, rec.Price, int64(qty))
	})
}

// removeVisible subtracts rec's current visible quantity from every
// subscription, used by Cancel and Deactivate.
func (w *Worker) removeVisible(rec OrderRecord) {
	w.forEachSubscribedViewer(rec.Product, func(viewerOrg uint16, ladder *ladderState) {
		qty := w.dealable(rec, viewerOrg)
		if qty == 0 {
			return
		}
		w.applyDelta(ladder, rec.Product, rec.Side, viewerOrg, rec.Price, -int64(qty))
	})
}

// Cancel removes a previously-inserted order. Unknown order ids are a
// no-op, mirroring the book's own Cancel semantics.
func (w *Worker) Cancel(orderID uint64) {
	rec, ok := w.orders[orderID]
	if !ok {
		return
	}
	// Drop the order from the table before touching the ladders so the
	// promotion scan cannot see the order being removed and re-promote
	// its own price level.
	w.indexRemove(rec)
	delete(w.orders, orderID)
	w.removeVisible(rec)
}

// Deactivate mirrors Cancel for projection purposes: a deactivated
// order is not matchable and so has zero visible quantity, but the
// worker keeps no separate record; Activate re-Inserts with fresh data.
func (w *Worker) Deactivate(orderID uint64) {
	w.Cancel(orderID)
}

// Activate mirrors Insert for viewer-qty: a re-activated order is a
// fresh contribution to every subscribed ladder.
func (w *Worker) Activate(rec OrderRecord) {
	w.Insert(rec)
}

// Match deducts the matched volume from a maker's viewer-qty using
// pre-match-minus-post-match so dealable applies consistently to
// partial fills.
func (w *Worker) Match(makerOrderID uint64, qty uint64) {
	rec, ok := w.orders[makerOrderID]
	if !ok {
		return
	}
	newRec := rec
	if qty >= newRec.VolumeRemain {
		newRec.VolumeRemain = 0
	} else {
		newRec.VolumeRemain -= qty
	}

	// Settle the table first: pre/post are computed from the captured
	// records, and the promotion scan below must observe the post-match
	// state, not the pre-match one.
	if newRec.VolumeRemain == 0 {
		w.indexRemove(rec)
		delete(w.orders, makerOrderID)
	} else {
		w.orders[makerOrderID] = newRec
	}

	w.forEachSubscribedViewer(rec.Product, func(viewerOrg uint16, ladder *ladderState) {
		pre := w.dealable(rec, viewerOrg)
		post := w.dealable(newRec, viewerOrg)
		if pre == post {
			return
		}
		w.applyDelta(ladder, rec.Product, rec.Side, viewerOrg, rec.Price, int64(post)-int64(pre))
	})
}

// CopyFull returns the sorted top-N entries for one ladder side.
func (w *Worker) CopyFull(viewerOrg, product uint16, side book.Side, out []LadderEntry) []LadderEntry {
	ladder := w.ladder(viewerOrg, product)
	if ladder == nil {
		return out[:0]
	}
	e := ladder.entries(side)
	out = out[:0]
	return append(out, e...)
}

// DeltaCount returns the number of priced deltas accumulated on side
// since the last ClearDeltas.
func (w *Worker) DeltaCount(viewerOrg, product uint16, side book.Side) int {
	ladder := w.ladder(viewerOrg, product)
	if ladder == nil {
		return 0
	}
	return len(ladder.delta(side))
}

// CopyDeltas returns the accumulated (price, signed qty delta) pairs
// for side, in unspecified order.
func (w *Worker) CopyDeltas(viewerOrg, product uint16, side book.Side) map[uint64]int64 {
	ladder := w.ladder(viewerOrg, product)
	if ladder == nil {
		return nil
	}
	out := make(map[uint64]int64, len(ladder.delta(side)))
	for k, v := range ladder.delta(side) {
		out[k] = v
	}
	return out
}

// ClearDeltas resets the delta accumulator for side.
func (w *Worker) ClearDeltas(viewerOrg, product uint16, side book.Side) {
	ladder := w.ladder(viewerOrg, product)
	if ladder == nil {
		return
	}
	for k := range ladder.delta(side) {
		delete(ladder.delta(side), k)
	}
}

// IsDirty reports whether a ladder has changed since ClearDirty.
func (w *Worker) IsDirty(viewerOrg, product uint16) bool {
	ladder := w.ladder(viewerOrg, product)
	return ladder != nil && ladder.dirty
}

// ClearDirty resets a ladder's dirty flag.
func (w *Worker) ClearDirty(viewerOrg, product uint16) {
	if ladder := w.ladder(viewerOrg, product); ladder != nil {
		ladder.dirty = false
	}
}
