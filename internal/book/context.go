package book

import "fmt"

// WAL is the durability sink the order book writes to before each
// mutation. internal/wal.Writer satisfies this interface; tests may
// supply a recording fake. A nil WAL means the book runs without
// durability (used by recovery itself, which replays a log rather than
// producing one).
type WAL interface {
	AppendInsert(rec InsertRecord) (seq uint64, err error)
	AppendCancel(orderID uint64, slotIdx uint32, productID uint16) (seq uint64, err error)
	AppendDeactivate(orderID uint64, slotIdx uint32, productID uint16) (seq uint64, err error)
	AppendActivate(orderID uint64, slotIdx uint32, productID uint16) (seq uint64, err error)
	AppendMatch(makerID, takerID uint64, price, volume uint64, productID uint16) (seq uint64, err error)
}

// InsertRecord carries the fields a WAL INSERT record needs, mirroring
// the fixed portion of the record's on-disk layout.
type InsertRecord struct {
	OrderID      uint64
	Price        uint64
	Volume       uint64
	VolumeRemain uint64
	Org          uint16
	Flags        uint32
	ProductID    uint16
	UserData     []byte
	AuxData      []byte
	TimestampNs  int64
}

type orderLoc struct {
	SlotIdx   SlotIndex
	ProductID uint16
}

func orgKey(productID, org uint16) uint32 {
	return uint32(productID)<<16 | uint32(org)
}

// orgHead returns the Q3 head for key, or NullIndex when the chain is empty.
func (c *OrderBookContext) orgHead(key uint32) SlotIndex {
	if head, ok := c.orgHeads[key]; ok {
		return head
	}
	return NullIndex
}

// Config bounds the context's fixed-size product and org dimensions.
type Config struct {
	Slab        SlabConfig
	MaxProducts int
	MaxOrg      int
}

// OrderBookContext is the root handle for one multi-product book: the
// slab, one ProductBook per product, the per-(product,org) Q3 heads,
// the order_id -> slot hashmap, and an optional WAL sink.
type OrderBookContext struct {
	slab     *Slab
	products []*ProductBook
	orgHeads map[uint32]SlotIndex
	orders   map[uint64]orderLoc
	wal      WAL

	maxProducts int
	maxOrg      int

	nowFn func() int64
}

// NewOrderBookContext initializes an empty multi-product book.
func NewOrderBookContext(cfg Config, wal WAL, nowFn func() int64) *OrderBookContext {
	if nowFn == nil {
		nowFn = func() int64 { return 0 }
	}
	return &OrderBookContext{
		slab:        NewSlab(cfg.Slab),
		products:    make([]*ProductBook, cfg.MaxProducts),
		orgHeads:    make(map[uint32]SlotIndex),
		orders:      make(map[uint64]orderLoc),
		wal:         wal,
		maxProducts: cfg.MaxProducts,
		maxOrg:      cfg.MaxOrg,
		nowFn:       nowFn,
	}
}

// Slab exposes the underlying allocator, for the matching engine and
// recovery to allocate/free slots directly.
func (c *OrderBookContext) Slab() *Slab { return c.slab }

func (c *OrderBookContext) productBook(productID uint16) (*ProductBook, error) {
	if int(productID) >= c.maxProducts {
		return nil, ErrBadProduct
	}
	pb := c.products[productID]
	if pb == nil {
		pb = NewProductBook()
		c.products[productID] = pb
	}
	return pb, nil
}

// InsertParams are the fully-populated order fields Insert needs.
type InsertParams struct {
	OrderID  uint64
	Price    uint64
	Volume   uint64
	// Remain overrides the initial volume_remain, for booking a residual
	// after partial matching. Zero means "use Volume" (a fresh order).
	Remain   uint64
	Org      uint16
	Product  uint16
	Side     Side
	Type     OrderType
	UserData []byte
	AuxData  []byte
}

// Insert allocates a slot, logs it, then threads it into the Q1/Q2
// price ladder, the Q3 org queue, and the order hashmap. The WAL
// record is emitted after allocation but before any queue linkage,
// the same policy every mutating operation follows, so a recovered
// book can never have seen a mutation the log did not.
func (c *OrderBookContext) Insert(p InsertParams) (SlotIndex, error) {
	if _, dup := c.orders[p.OrderID]; dup {
		return NullIndex, ErrDupOrderID
	}
	pb, err := c.productBook(p.Product)
	if err != nil {
		return NullIndex, err
	}
	if int(p.Org) >= c.maxOrg {
		return NullIndex, fmt.Errorf("org %d: %w", p.Org, ErrBadOrg)
	}

	idx, slot, err := c.slab.Alloc()
	if err != nil {
		return NullIndex, fmt.Errorf("%w: %w", ErrNoBookSpace, err)
	}

	remain := p.Remain
	if remain == 0 {
		remain = p.Volume
	}

	slot.OrderID = p.OrderID
	slot.Price = p.Price
	slot.Volume = p.Volume
	slot.VolumeRemain = remain
	slot.Org = p.Org
	slot.Product = p.Product
	slot.Flags = MakeFlags(p.Side, p.Type, StatusNew)

	cold := c.slab.ColdFromIdx(idx)
	cold.UserData = p.UserData
	cold.AuxData = p.AuxData

	if c.wal != nil {
		if _, err := c.wal.AppendInsert(InsertRecord{
			OrderID:      p.OrderID,
			Price:        p.Price,
			Volume:       p.Volume,
			VolumeRemain: remain,
			Org:          p.Org,
			Flags:        slot.Flags,
			ProductID:    p.Product,
			UserData:     p.UserData,
			AuxData:      p.AuxData,
			TimestampNs:  c.nowFn(),
		}); err != nil {
			c.slab.Free(idx)
			return NullIndex, fmt.Errorf("book: wal insert: %w", err)
		}
	}

	pb.Insert(c.slab, idx)
	key := orgKey(p.Product, p.Org)
	head := c.orgHead(key)
	c.slab.pushFront(&head, idx, QOrg)
	c.orgHeads[key] = head

	c.orders[p.OrderID] = orderLoc{SlotIdx: idx, ProductID: p.Product}
	return idx, nil
}

// cancelSlot performs the unlink/free half of a cancel: Q1/Q2 removal
// via ProductBook.Cancel, Q3 removal, hashmap removal, and the slab
// free. The caller (Cancel, bulk-cancel paths, the matching engine)
// is responsible for WAL emission before calling this.
func (c *OrderBookContext) cancelSlot(idx SlotIndex, productID uint16) {
	slot := c.slab.SlotFromIdx(idx)
	pb := c.products[productID]
	if pb != nil {
		pb.Cancel(c.slab, idx)
	}
	key := orgKey(productID, slot.Org)
	head := c.orgHead(key)
	c.slab.unlink(&head, idx, QOrg)
	if head == NullIndex {
		delete(c.orgHeads, key)
	} else {
		c.orgHeads[key] = head
	}
	delete(c.orders, slot.OrderID)
	c.slab.Free(idx)
}

// Cancel removes an order from the book. It returns false (not an
// error) when order_id is absent.
func (c *OrderBookContext) Cancel(orderID uint64) (bool, error) {
	loc, ok := c.orders[orderID]
	if !ok {
		return false, nil
	}
	if c.wal != nil {
		if _, err := c.wal.AppendCancel(orderID, uint32(loc.SlotIdx), loc.ProductID); err != nil {
			return false, fmt.Errorf("book: wal cancel: %w", err)
		}
	}
	c.cancelSlot(loc.SlotIdx, loc.ProductID)
	return true, nil
}

// Deactivate unlinks an order from Q1/Q2/Q3 but keeps its slot and
// hashmap entry, so Activate can later restore it in place.
func (c *OrderBookContext) Deactivate(orderID uint64) (bool, error) {
	loc, ok := c.orders[orderID]
	if !ok {
		return false, nil
	}
	slot := c.slab.SlotFromIdx(loc.SlotIdx)
	if slot.Status() == StatusDeactivated {
		return false, nil
	}
	if c.wal != nil {
		if _, err := c.wal.AppendDeactivate(orderID, uint32(loc.SlotIdx), loc.ProductID); err != nil {
			return false, fmt.Errorf("book: wal deactivate: %w", err)
		}
	}
	pb := c.products[loc.ProductID]
	if pb != nil {
		pb.Cancel(c.slab, loc.SlotIdx)
	}
	key := orgKey(loc.ProductID, slot.Org)
	head := c.orgHead(key)
	c.slab.unlink(&head, loc.SlotIdx, QOrg)
	if head == NullIndex {
		delete(c.orgHeads, key)
	} else {
		c.orgHeads[key] = head
	}
	slot.SetStatus(StatusDeactivated)
	return true, nil
}

// Activate restores a deactivated order to NEW and re-runs the insert
// path. It does not re-match; the matching engine (if any) is
// responsible for invoking matching separately when it wants activate
// to trigger re-matching.
func (c *OrderBookContext) Activate(orderID uint64) (bool, error) {
	loc, ok := c.orders[orderID]
	if !ok {
		return false, nil
	}
	slot := c.slab.SlotFromIdx(loc.SlotIdx)
	if slot.Status() != StatusDeactivated {
		return false, nil
	}
	if c.wal != nil {
		if _, err := c.wal.AppendActivate(orderID, uint32(loc.SlotIdx), loc.ProductID); err != nil {
			return false, fmt.Errorf("book: wal activate: %w", err)
		}
	}
	pb, err := c.productBook(loc.ProductID)
	if err != nil {
		return false, err
	}
	slot.SetStatus(StatusNew)
	pb.Insert(c.slab, loc.SlotIdx)
	key := orgKey(loc.ProductID, slot.Org)
	head := c.orgHead(key)
	c.slab.pushFront(&head, loc.SlotIdx, QOrg)
	c.orgHeads[key] = head
	return true, nil
}

// CancelOrgProduct walks the Q3 chain for (org, product) and cancels
// every order found through the single Cancel path.
func (c *OrderBookContext) CancelOrgProduct(productID, org uint16) (int, error) {
	key := orgKey(productID, org)
	count := 0
	for {
		head, ok := c.orgHeads[key]
		if !ok || head == NullIndex {
			break
		}
		slot := c.slab.SlotFromIdx(head)
		if _, err := c.Cancel(slot.OrderID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CancelOrgAll cancels every order for org across all products.
func (c *OrderBookContext) CancelOrgAll(org uint16) (int, error) {
	total := 0
	for productID := 0; productID < c.maxProducts; productID++ {
		n, err := c.CancelOrgProduct(uint16(productID), org)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CancelProductSide iterates Q1 heads for one side of a product,
// cancelling every order reachable through each level's Q2 chain.
func (c *OrderBookContext) CancelProductSide(productID uint16, side Side) (int, error) {
	pb, err := c.productBook(productID)
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		headIdx := pb.head(side)
		if headIdx == NullIndex {
			break
		}
		headSlot := c.slab.SlotFromIdx(headIdx)
		orderID := headSlot.OrderID
		if _, err := c.Cancel(orderID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CancelProduct cancels both sides of a product.
func (c *OrderBookContext) CancelProduct(productID uint16) (int, error) {
	bids, err := c.CancelProductSide(productID, SideBid)
	if err != nil {
		return bids, err
	}
	asks, err := c.CancelProductSide(productID, SideAsk)
	return bids + asks, err
}

// GetBestBid returns the best bid price for a product, or 0 if empty.
func (c *OrderBookContext) GetBestBid(productID uint16) uint64 {
	pb := c.products[productID]
	if pb == nil {
		return 0
	}
	price, _ := pb.BestPrice(c.slab, SideBid)
	return price
}

// GetBestAsk returns the best ask price for a product, or 0 if empty.
func (c *OrderBookContext) GetBestAsk(productID uint16) uint64 {
	pb := c.products[productID]
	if pb == nil {
		return 0
	}
	price, _ := pb.BestPrice(c.slab, SideAsk)
	return price
}

// GetVolumeAtPrice sums volume_remain across all orders resting at
// price on side for a product.
func (c *OrderBookContext) GetVolumeAtPrice(productID uint16, side Side, price uint64) uint64 {
	pb := c.products[productID]
	if pb == nil {
		return 0
	}
	return pb.VolumeAtPrice(c.slab, side, price)
}

// GetSlotByID returns the live hot slot for orderID, including
// deactivated orders, and false if unknown.
func (c *OrderBookContext) GetSlotByID(orderID uint64) (*HotSlot, bool) {
	loc, ok := c.orders[orderID]
	if !ok {
		return nil, false
	}
	return c.slab.SlotFromIdx(loc.SlotIdx), true
}

// PriceLevelExists reports whether a product/side has a resting level
// at price.
func (c *OrderBookContext) PriceLevelExists(productID uint16, side Side, price uint64) bool {
	pb := c.products[productID]
	if pb == nil {
		return false
	}
	return pb.LevelExists(side, price)
}

// GetPriceLevelCount returns the number of distinct price levels on
// side for a product.
func (c *OrderBookContext) GetPriceLevelCount(productID uint16, side Side) int {
	pb := c.products[productID]
	if pb == nil {
		return 0
	}
	return pb.LevelCount(side)
}

// LogMatch appends a WAL MATCH record ahead of the matching engine
// applying it, per this module's WAL-before-mutation policy.
func (c *OrderBookContext) LogMatch(makerID, takerID uint64, price, volume uint64, productID uint16) error {
	if c.wal == nil {
		return nil
	}
	_, err := c.wal.AppendMatch(makerID, takerID, price, volume, productID)
	return err
}

// ApplyMatch decrements a resting maker's volume_remain by the matched
// volume (clamped to what remains) and removes it from the book when
// it reaches zero. No WAL CANCEL is emitted, since replaying the MATCH
// record zeroes it the same way. It is shared by the matching engine
// and WAL recovery so the two paths cannot diverge.
func (c *OrderBookContext) ApplyMatch(makerOrderID uint64, volume uint64) error {
	loc, ok := c.orders[makerOrderID]
	if !ok {
		return ErrUnknownOrder
	}
	slot := c.slab.SlotFromIdx(loc.SlotIdx)
	if volume > slot.VolumeRemain {
		volume = slot.VolumeRemain
	}
	slot.VolumeRemain -= volume
	if slot.VolumeRemain == 0 {
		slot.SetStatus(StatusFilled)
		c.cancelSlot(loc.SlotIdx, loc.ProductID)
	} else {
		slot.SetStatus(StatusPartial)
	}
	return nil
}

// LadderHead returns the Q1 head (best price level) for a product/side,
// for the matching engine to begin its level scan.
func (c *OrderBookContext) LadderHead(productID uint16, side Side) SlotIndex {
	pb := c.products[productID]
	if pb == nil {
		return NullIndex
	}
	return pb.head(side)
}

// NextLevel returns the next-worse price level's head after idx (which
// must itself be a level head), for the matching engine's level scan.
func (c *OrderBookContext) NextLevel(idx SlotIndex) SlotIndex {
	return c.slab.SlotFromIdx(idx).nodes[QLadder].Next
}

// NextInTimeFIFO returns the next maker within idx's price level.
func (c *OrderBookContext) NextInTimeFIFO(idx SlotIndex) SlotIndex {
	return c.slab.SlotFromIdx(idx).nodes[QTimeFIFO].Next
}

// Destroy releases the context's resources. The slab is garbage
// collected with the context; Destroy drops the product books, org
// heads and hashmap, and leaves the WAL sink untouched.
func (c *OrderBookContext) Destroy() {
	c.products = nil
	c.orgHeads = nil
	c.orders = nil
}
