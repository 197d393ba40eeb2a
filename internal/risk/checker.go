// Package risk implements pre-trade risk checks against an incoming
// taker before it reaches the matching engine, keyed by (org, product)
// integer pairs, as this engine has no string identifiers.
package risk

import (
	"fmt"
	"sync"
)

// CheckCode identifies which limit, if any, rejected an order.
type CheckCode int

const (
	CheckOK CheckCode = iota
	CheckMaxOrderSize
	CheckMaxOrderValue
	CheckPriceBand
	CheckPositionLimit
	CheckDailyVolume
)

func (c CheckCode) String() string {
	switch c {
	case CheckOK:
		return "OK"
	case CheckMaxOrderSize:
		return "MAX_ORDER_SIZE"
	case CheckMaxOrderValue:
		return "MAX_ORDER_VALUE"
	case CheckPriceBand:
		return "PRICE_BAND"
	case CheckPositionLimit:
		return "POSITION_LIMIT"
	case CheckDailyVolume:
		return "DAILY_VOLUME"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is the outcome of one pre-trade check.
type CheckResult struct {
	Code   CheckCode
	Reason string
}

// OK reports whether the order passed every check.
func (r CheckResult) OK() bool { return r.Code == CheckOK }

// Config bounds what Checker enforces. A zero value in any limit field
// disables that check.
type Config struct {
	MaxOrderSize    uint64
	MaxOrderValue   uint64
	MaxPriceBandBps uint64 // price may not deviate more than this many bps from the reference price
	MaxPosition     int64  // absolute net position per (org, product)
	MaxDailyVolume  uint64
}

// Order is the subset of an incoming taker that risk checks need.
type Order struct {
	Org     uint16
	Product uint16
	Price   uint64
	Volume  uint64
	Side    int8 // 0 = bid, 1 = ask; kept as int8 to avoid importing book for a single field
}

type posKey struct {
	org     uint16
	product uint16
}

// Checker holds running position and volume state across orders so
// that limits can be enforced cumulatively, not just per order.
type Checker struct {
	cfg Config

	mu              sync.RWMutex
	positions       map[posKey]int64
	dailyVolume     map[posKey]uint64
	referencePrices map[uint16]uint64 // keyed by product
}

// New returns a Checker enforcing cfg.
func New(cfg Config) *Checker {
	return &Checker{
		cfg:             cfg,
		positions:       make(map[posKey]int64),
		dailyVolume:     make(map[posKey]uint64),
		referencePrices: make(map[uint16]uint64),
	}
}

// Check runs every configured limit against o and returns the first
// one that fails, or CheckOK.
func (c *Checker) Check(o Order) CheckResult {
	if c.cfg.MaxOrderSize > 0 && o.Volume > c.cfg.MaxOrderSize {
		return CheckResult{CheckMaxOrderSize, fmt.Sprintf("order volume %d exceeds max %d", o.Volume, c.cfg.MaxOrderSize)}
	}

	if c.cfg.MaxOrderValue > 0 {
		value := o.Price * o.Volume
		if value > c.cfg.MaxOrderValue {
			return CheckResult{CheckMaxOrderValue, fmt.Sprintf("order value %d exceeds max %d", value, c.cfg.MaxOrderValue)}
		}
	}

	if c.cfg.MaxPriceBandBps > 0 {
		c.mu.RLock()
		ref, ok := c.referencePrices[o.Product]
		c.mu.RUnlock()
		if ok && ref > 0 {
			diff := o.Price
			if diff < ref {
				diff = ref - o.Price
			} else {
				diff = o.Price - ref
			}
			bandBps := diff * 10000 / ref
			if bandBps > c.cfg.MaxPriceBandBps {
				return CheckResult{CheckPriceBand, fmt.Sprintf("price %d deviates %d bps from reference %d, max %d", o.Price, bandBps, ref, c.cfg.MaxPriceBandBps)}
			}
		}
	}

	if c.cfg.MaxPosition > 0 {
		k := posKey{o.Org, o.Product}
		c.mu.RLock()
		current := c.positions[k]
		c.mu.RUnlock()
		delta := int64(o.Volume)
		if o.Side == 1 {
			delta = -delta
		}
		projected := current + delta
		if projected > c.cfg.MaxPosition || projected < -c.cfg.MaxPosition {
			return CheckResult{CheckPositionLimit, fmt.Sprintf("projected position %d for org %d product %d exceeds limit %d", projected, o.Org, o.Product, c.cfg.MaxPosition)}
		}
	}

	if c.cfg.MaxDailyVolume > 0 {
		k := posKey{o.Org, o.Product}
		c.mu.RLock()
		used := c.dailyVolume[k]
		c.mu.RUnlock()
		if used+o.Volume > c.cfg.MaxDailyVolume {
			return CheckResult{CheckDailyVolume, fmt.Sprintf("daily volume %d+%d exceeds max %d", used, o.Volume, c.cfg.MaxDailyVolume)}
		}
	}

	return CheckResult{Code: CheckOK}
}

// UpdatePosition adjusts the running net position for (org, product)
// after a fill; side 0 (bid) increases it, side 1 (ask) decreases it.
func (c *Checker) UpdatePosition(org, product uint16, side int8, qty uint64) {
	k := posKey{org, product}
	delta := int64(qty)
	if side == 1 {
		delta = -delta
	}
	c.mu.Lock()
	c.positions[k] += delta
	c.mu.Unlock()
}

// UpdateDailyVolume accumulates traded volume for (org, product).
func (c *Checker) UpdateDailyVolume(org, product uint16, qty uint64) {
	k := posKey{org, product}
	c.mu.Lock()
	c.dailyVolume[k] += qty
	c.mu.Unlock()
}

// SetReferencePrice sets the reference price used for price-band checks.
func (c *Checker) SetReferencePrice(product uint16, price uint64) {
	c.mu.Lock()
	c.referencePrices[product] = price
	c.mu.Unlock()
}

// GetReferencePrice returns the current reference price for product.
func (c *Checker) GetReferencePrice(product uint16) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.referencePrices[product]
	return p, ok
}

// GetPosition returns the running net position for (org, product).
func (c *Checker) GetPosition(org, product uint16) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[posKey{org, product}]
}

// GetDailyVolume returns today's traded volume for (org, product).
func (c *Checker) GetDailyVolume(org, product uint16) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dailyVolume[posKey{org, product}]
}

// ResetDailyVolume clears all accumulated daily volume, typically
// called once at the start of a trading day.
func (c *Checker) ResetDailyVolume() {
	c.mu.Lock()
	c.dailyVolume = make(map[posKey]uint64)
	c.mu.Unlock()
}
