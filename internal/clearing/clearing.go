// Package clearing simulates post-trade net settlement, keyed by the
// engine's integer org/product identifiers. There are no account or
// symbol strings anywhere in this system's data model.
//
// Trade lifecycle:
//
// T+0: a fill is recorded against the clearing house.
// T+1: positions are netted per (org, product) and settlement
// instructions are generated, reducing N trades to the minimum number
// of transfers needed to settle them.
// T+2: instructions settle, moving holdings and cash between orgs.
package clearing

import (
	"fmt"
	"sync"
	"time"
)

// Status is the settlement status of a trade or instruction.
type Status int

const (
	StatusExecuted Status = iota
	StatusClearing
	StatusReadyToSettle
	StatusSettled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusExecuted:
		return "EXECUTED"
	case StatusClearing:
		return "CLEARING"
	case StatusReadyToSettle:
		return "READY_TO_SETTLE"
	case StatusSettled:
		return "SETTLED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Trade is a fill pending settlement.
type Trade struct {
	ID         uint64
	Product    uint16
	Price      uint64
	Quantity   uint64
	BuyerOrg   uint16
	SellerOrg  uint16
	TradeTime  time.Time
	SettleDate time.Time
	Status     Status
}

// netKey identifies a net position bucket.
type netKey struct {
	org     uint16
	product uint16
}

// netPosition is a netted position for an org/product pair.
type netPosition struct {
	Org      uint16
	Product  uint16
	NetQty   int64 // positive = long (receives delivery), negative = short (delivers)
	NetValue int64 // net cash value (positive = owes cash)
}

// Instruction is one settlement transfer derived from netting.
type Instruction struct {
	TradeIDs    []uint64
	FromOrg     uint16
	ToOrg       uint16
	Product     uint16
	Quantity    uint64
	CashAmount  int64
	SettleDate  time.Time
	Status      Status
}

// Book is an org's holdings and cash balance.
type Book struct {
	Org      uint16
	Cash     int64
	Holdings map[uint16]int64 // product -> quantity
}

// House manages the clearing and settlement process for one venue.
type House struct {
	mu             sync.RWMutex
	trades         map[uint64]*Trade
	books          map[uint16]*Book
	instructions   []Instruction
	settlementDays int
}

// NewHouse returns a clearing house settling T+days after trade date.
func NewHouse(days int) *House {
	if days <= 0 {
		days = 2
	}
	return &House{
		trades:         make(map[uint64]*Trade),
		books:          make(map[uint16]*Book),
		settlementDays: days,
	}
}

// GetOrCreateBook returns org's book, creating it with initialCash if absent.
func (h *House) GetOrCreateBook(org uint16, initialCash int64) *Book {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.books[org]; ok {
		return b
	}
	b := &Book{Org: org, Cash: initialCash, Holdings: make(map[uint16]int64)}
	h.books[org] = b
	return b
}

// GetBook retrieves org's book, or nil if it has never been created.
func (h *House) GetBook(org uint16) *Book {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.books[org]
}

func (h *House) settleDate(tradeDate time.Time) time.Time {
	d := tradeDate
	added := 0
	for added < h.settlementDays {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			added++
		}
	}
	return d
}

// RecordTrade records a fill from the matching engine for settlement.
func (h *House) RecordTrade(tradeID uint64, product uint16, price, qty uint64, buyerOrg, sellerOrg uint16) *Trade {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	trade := &Trade{
		ID:         tradeID,
		Product:    product,
		Price:      price,
		Quantity:   qty,
		BuyerOrg:   buyerOrg,
		SellerOrg:  sellerOrg,
		TradeTime:  now,
		SettleDate: h.settleDate(now),
		Status:     StatusExecuted,
	}
	h.trades[trade.ID] = trade
	return trade
}

func (h *House) calculateNettingLocked() map[netKey]netPosition {
	net := make(map[netKey]netPosition)

	for _, trade := range h.trades {
		if trade.Status != StatusExecuted && trade.Status != StatusClearing {
			continue
		}
		value := int64(trade.Price * trade.Quantity)

		buyerKey := netKey{trade.BuyerOrg, trade.Product}
		buyer := net[buyerKey]
		buyer.Org, buyer.Product = trade.BuyerOrg, trade.Product
		buyer.NetQty += int64(trade.Quantity)
		buyer.NetValue += value
		net[buyerKey] = buyer

		sellerKey := netKey{trade.SellerOrg, trade.Product}
		seller := net[sellerKey]
		seller.Org, seller.Product = trade.SellerOrg, trade.Product
		seller.NetQty -= int64(trade.Quantity)
		seller.NetValue -= value
		net[sellerKey] = seller
	}

	return net
}

// CalculateNetting returns net positions for all pending trades.
func (h *House) CalculateNetting() map[netKey]netPosition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.calculateNettingLocked()
}

// GenerateInstructions derives settlement instructions from netted
// positions, matching deliverers (short) to receivers (long) per
// product so that the fewest transfers settle every trade.
func (h *House) GenerateInstructions() []Instruction {
	h.mu.Lock()
	defer h.mu.Unlock()

	net := h.calculateNettingLocked()
	byProduct := make(map[uint16][]netPosition)
	for _, pos := range net {
		byProduct[pos.Product] = append(byProduct[pos.Product], pos)
	}

	var instructions []Instruction
	for product, positions := range byProduct {
		var receivers, deliverers []netPosition
		for _, pos := range positions {
			switch {
			case pos.NetQty > 0:
				receivers = append(receivers, pos)
			case pos.NetQty < 0:
				deliverers = append(deliverers, pos)
			}
		}

		for _, deliverer := range deliverers {
			toDeliver := -deliverer.NetQty
			for i := range receivers {
				if toDeliver <= 0 {
					break
				}
				if receivers[i].NetQty <= 0 {
					continue
				}
				qty := toDeliver
				if receivers[i].NetQty < qty {
					qty = receivers[i].NetQty
				}
				// A deliverer's NetQty and NetValue are both negative;
				// negating both yields the positive volume-weighted
				// price, so the cash amount is a positive magnitude the
				// receiver pays and the deliverer collects.
				avgPrice := -deliverer.NetValue / -deliverer.NetQty
				cash := qty * avgPrice

				instructions = append(instructions, Instruction{
					FromOrg:    deliverer.Org,
					ToOrg:      receivers[i].Org,
					Product:    product,
					Quantity:   uint64(qty),
					CashAmount: cash,
					SettleDate: time.Now().AddDate(0, 0, h.settlementDays),
					Status:     StatusReadyToSettle,
				})

				toDeliver -= qty
				receivers[i].NetQty -= qty
			}
		}
	}

	h.instructions = instructions
	return instructions
}

// Settle executes delivery-versus-payment for every ready instruction.
func (h *House) Settle() ([]Instruction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var settled []Instruction
	var failures []string

	for i := range h.instructions {
		instr := &h.instructions[i]
		if instr.Status != StatusReadyToSettle {
			continue
		}

		from := h.books[instr.FromOrg]
		to := h.books[instr.ToOrg]
		if from == nil || to == nil {
			instr.Status = StatusFailed
			failures = append(failures, fmt.Sprintf("book not found for org %d->%d", instr.FromOrg, instr.ToOrg))
			continue
		}
		if from.Holdings[instr.Product] < int64(instr.Quantity) {
			instr.Status = StatusFailed
			failures = append(failures, fmt.Sprintf("org %d has %d of product %d, needs %d", instr.FromOrg, from.Holdings[instr.Product], instr.Product, instr.Quantity))
			continue
		}
		if to.Cash < instr.CashAmount {
			instr.Status = StatusFailed
			failures = append(failures, fmt.Sprintf("org %d has cash %d, needs %d", instr.ToOrg, to.Cash, instr.CashAmount))
			continue
		}

		from.Holdings[instr.Product] -= int64(instr.Quantity)
		to.Holdings[instr.Product] += int64(instr.Quantity)
		to.Cash -= instr.CashAmount
		from.Cash += instr.CashAmount

		instr.Status = StatusSettled
		settled = append(settled, *instr)
	}

	for _, trade := range h.trades {
		if trade.Status == StatusClearing || trade.Status == StatusReadyToSettle {
			trade.Status = StatusSettled
		}
	}

	if len(failures) > 0 {
		return settled, fmt.Errorf("clearing: settlement failures: %v", failures)
	}
	return settled, nil
}

// PendingTrades returns every trade not yet settled or failed.
func (h *House) PendingTrades() []*Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var pending []*Trade
	for _, t := range h.trades {
		if t.Status != StatusSettled && t.Status != StatusFailed {
			pending = append(pending, t)
		}
	}
	return pending
}

// Stats summarizes trade and instruction counts by status. Trades and
// settlement instructions are counted together under the per-status
// keys; "total_trades" and "instructions" give the two totals.
func (h *House) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := map[string]int{
		"total_trades": len(h.trades),
		"executed":     0,
		"clearing":     0,
		"ready":        0,
		"settled":      0,
		"failed":       0,
		"instructions": len(h.instructions),
	}
	for _, t := range h.trades {
		switch t.Status {
		case StatusExecuted:
			stats["executed"]++
		case StatusClearing:
			stats["clearing"]++
		case StatusReadyToSettle:
			stats["ready"]++
		case StatusSettled:
			stats["settled"]++
		case StatusFailed:
			stats["failed"]++
		}
	}
	for _, in := range h.instructions {
		switch in.Status {
		case StatusReadyToSettle:
			stats["ready"]++
		case StatusSettled:
			stats["settled"]++
		case StatusFailed:
			stats["failed"]++
		}
	}
	return stats
}
