package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifyInvariants walks every structure in the context and checks the
// cross-structure consistency rules: hashmap entries resolve to slots
// carrying their own id, ladders are strictly ordered with unique
// prices, level volumes agree with the per-order sums, and no live
// link ever holds the null sentinel as anything but a terminator.
func verifyInvariants(t *testing.T, ctx *OrderBookContext) {
	t.Helper()

	resting := make(map[uint64]bool)
	for productID, pb := range ctx.products {
		if pb == nil {
			continue
		}
		for _, side := range []Side{SideBid, SideAsk} {
			var lastPrice uint64
			first := true
			for lvl := pb.head(side); lvl != NullIndex; {
				head := ctx.slab.SlotFromIdx(lvl)
				require.Equal(t, side, head.Side())
				require.Equal(t, uint16(productID), head.Product)

				if !first {
					if side == SideBid {
						require.Less(t, head.Price, lastPrice, "bid ladder must strictly descend")
					} else {
						require.Greater(t, head.Price, lastPrice, "ask ladder must strictly ascend")
					}
				}
				first = false
				lastPrice = head.Price

				// The accelerator must agree with the chain.
				accel, ok := pb.levelMap(side)[head.Price]
				require.True(t, ok, "level %d missing from accelerator", head.Price)
				require.Equal(t, lvl, accel)

				var levelVolume uint64
				var lastInLevel SlotIndex
				for cur := lvl; cur != NullIndex; {
					slot := ctx.slab.SlotFromIdx(cur)
					require.Equal(t, head.Price, slot.Price, "time FIFO must be single-priced")
					require.NotEqual(t, StatusDeactivated, slot.Status())
					levelVolume += slot.VolumeRemain
					require.False(t, resting[slot.OrderID], "order %d linked twice", slot.OrderID)
					resting[slot.OrderID] = true
					lastInLevel = cur
					cur = slot.nodes[QTimeFIFO].Next
				}
				require.Equal(t, levelVolume, pb.VolumeAtPrice(ctx.slab, side, head.Price))

				// Head-as-sentinel tail marker: NullIndex for a singleton
				// level, the actual tail index otherwise.
				tailMarker := head.nodes[QTimeFIFO].Prev
				if lastInLevel == lvl {
					require.Equal(t, NullIndex, tailMarker)
				} else {
					require.Equal(t, lastInLevel, tailMarker)
				}

				lvl = head.nodes[QLadder].Next
			}
		}
	}

	for oid, loc := range ctx.orders {
		slot := ctx.slab.SlotFromIdx(loc.SlotIdx)
		require.Equal(t, oid, slot.OrderID, "hashmap entry must resolve to its own order")
		if slot.Status() == StatusDeactivated {
			require.False(t, resting[oid], "deactivated order %d must not rest in any ladder", oid)
		} else {
			require.True(t, resting[oid], "live order %d missing from its ladder", oid)
		}
	}
	for oid := range resting {
		_, ok := ctx.orders[oid]
		require.True(t, ok, "resting order %d missing from hashmap", oid)
	}

	if bid, ask := ctx.GetBestBid(0), ctx.GetBestAsk(0); bid != 0 && ask != 0 {
		assert.Less(t, bid, ask)
	}
}

func TestInvariantsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(0x0b00c))
	ctx := NewOrderBookContext(Config{
		Slab:        SlabConfig{Capacity: 4096},
		MaxProducts: 2,
		MaxOrg:      4,
	}, nil, nil)

	var live []uint64
	nextOID := uint64(1)

	pick := func() uint64 { return live[rng.Intn(len(live))] }
	drop := func(oid uint64) {
		for i, v := range live {
			if v == oid {
				live = append(live[:i], live[i+1:]...)
				return
			}
		}
	}

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(live) == 0: // insert, biased to keep the book populated
			side := SideBid
			price := 90 + uint64(rng.Intn(10)) // bids 90..99
			if rng.Intn(2) == 1 {
				side = SideAsk
				price = 101 + uint64(rng.Intn(10)) // asks 101..110
			}
			_, err := ctx.Insert(InsertParams{
				OrderID: nextOID,
				Price:   price,
				Volume:  1 + uint64(rng.Intn(20)),
				Org:     uint16(rng.Intn(4)),
				Product: uint16(rng.Intn(2)),
				Side:    side,
			})
			require.NoError(t, err)
			live = append(live, nextOID)
			nextOID++
		case op < 7:
			oid := pick()
			_, err := ctx.Cancel(oid)
			require.NoError(t, err)
			drop(oid)
		case op < 8:
			oid := pick()
			if slot, ok := ctx.GetSlotByID(oid); ok && slot.Status() != StatusDeactivated {
				err := ctx.ApplyMatch(oid, 1+uint64(rng.Intn(5)))
				require.NoError(t, err)
				if _, stillThere := ctx.GetSlotByID(oid); !stillThere {
					drop(oid)
				}
			}
		case op < 9:
			oid := pick()
			_, err := ctx.Deactivate(oid)
			require.NoError(t, err)
		default:
			oid := pick()
			_, err := ctx.Activate(oid)
			require.NoError(t, err)
		}

		if step%100 == 0 {
			verifyInvariants(t, ctx)
		}
	}
	verifyInvariants(t, ctx)

	// Drain through the bulk paths and end empty.
	for org := uint16(0); org < 4; org++ {
		_, err := ctx.CancelOrgAll(org)
		require.NoError(t, err)
	}
	verifyInvariants(t, ctx)
	for p := uint16(0); p < 2; p++ {
		assert.Equal(t, 0, ctx.GetPriceLevelCount(p, SideBid))
		assert.Equal(t, 0, ctx.GetPriceLevelCount(p, SideAsk))
	}
}
