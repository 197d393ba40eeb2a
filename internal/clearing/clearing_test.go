package clearing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTradeCreatesPendingTrade(t *testing.T) {
	h := NewHouse(2)
	trade := h.RecordTrade(1, 7, 100, 10, 1, 2)
	assert.Equal(t, StatusExecuted, trade.Status)
	assert.Len(t, h.PendingTrades(), 1)
}

func TestNettingReducesMultipleTrades(t *testing.T) {
	h := NewHouse(2)
	h.RecordTrade(1, 7, 150, 100, 1, 2) // org1 buys 100 from org2
	h.RecordTrade(2, 7, 151, 60, 2, 1)  // org1 sells 60 to org2
	h.RecordTrade(3, 7, 149, 40, 1, 2)  // org1 buys 40 from org2

	h.GetOrCreateBook(1, 0)
	h.GetOrCreateBook(2, 1_000_000)
	net := h.CalculateNetting()
	buyer := net[netKey{1, 7}]
	assert.Equal(t, int64(80), buyer.NetQty)
}

func TestSettleMovesHoldingsAndCash(t *testing.T) {
	h := NewHouse(0)
	h.RecordTrade(1, 7, 100, 10, 1, 2)

	buyer := h.GetOrCreateBook(1, 10_000)
	seller := h.GetOrCreateBook(2, 0)
	seller.Holdings[7] = 10

	h.GenerateInstructions()
	settled, err := h.Settle()
	require.NoError(t, err)
	require.Len(t, settled, 1)

	assert.Equal(t, int64(10), buyer.Holdings[7])
	assert.Equal(t, int64(0), seller.Holdings[7])
	assert.Equal(t, int64(9000), buyer.Cash)
	assert.Equal(t, int64(1000), seller.Cash)
}

func TestSettleFailsOnInsufficientHoldings(t *testing.T) {
	h := NewHouse(0)
	h.RecordTrade(1, 7, 100, 10, 1, 2)
	h.GetOrCreateBook(1, 10_000)
	h.GetOrCreateBook(2, 0) // no holdings to deliver

	h.GenerateInstructions()
	_, err := h.Settle()
	assert.Error(t, err)

	stats := h.Stats()
	assert.Equal(t, 1, stats["failed"])
}
