package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/ob-engine/internal/book"
)

// buildSampleLog drives a live book through a WAL writer and returns
// the path plus the ids still resting when the writer closed.
func buildSampleLog(t *testing.T, crc bool) (string, *book.OrderBookContext) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path, CRC: crc}, nil)
	require.NoError(t, err)

	live := book.NewOrderBookContext(book.Config{
		Slab:        book.SlabConfig{Capacity: 128},
		MaxProducts: 4,
		MaxOrg:      8,
	}, w, nil)

	mustInsert := func(oid, price, vol uint64, org uint16, side book.Side) {
		t.Helper()
		_, err := live.Insert(book.InsertParams{
			OrderID: oid, Price: price, Volume: vol, Org: org, Side: side,
			UserData: []byte{byte(oid)},
		})
		require.NoError(t, err)
	}

	mustInsert(1, 100, 10, 1, book.SideBid)
	mustInsert(2, 101, 5, 1, book.SideBid)
	mustInsert(3, 100, 7, 2, book.SideBid)
	mustInsert(4, 105, 9, 2, book.SideAsk)
	mustInsert(5, 104, 3, 3, book.SideAsk)

	// Partially fill the best ask, cancel a bid, flip one order through
	// deactivate/activate so every record type lands in the log.
	require.NoError(t, live.LogMatch(5, 99, 104, 2, 0))
	require.NoError(t, live.ApplyMatch(5, 2))
	_, err = live.Cancel(2)
	require.NoError(t, err)
	_, err = live.Deactivate(3)
	require.NoError(t, err)
	_, err = live.Activate(3)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return path, live
}

func assertBooksEquivalent(t *testing.T, want, got *book.OrderBookContext, orderIDs []uint64) {
	t.Helper()
	for p := uint16(0); p < 4; p++ {
		assert.Equal(t, want.GetBestBid(p), got.GetBestBid(p), "best bid product %d", p)
		assert.Equal(t, want.GetBestAsk(p), got.GetBestAsk(p), "best ask product %d", p)
	}
	for _, oid := range orderIDs {
		wantSlot, wantFound := want.GetSlotByID(oid)
		gotSlot, gotFound := got.GetSlotByID(oid)
		require.Equal(t, wantFound, gotFound, "order %d presence", oid)
		if !wantFound {
			continue
		}
		assert.Equal(t, wantSlot.Price, gotSlot.Price, "order %d price", oid)
		assert.Equal(t, wantSlot.VolumeRemain, gotSlot.VolumeRemain, "order %d remain", oid)
		assert.Equal(t, wantSlot.Side(), gotSlot.Side(), "order %d side", oid)
		assert.Equal(t, want.GetVolumeAtPrice(0, wantSlot.Side(), wantSlot.Price),
			got.GetVolumeAtPrice(0, gotSlot.Side(), gotSlot.Price), "order %d level volume", oid)
	}
}

func TestRecoverRebuildsEquivalentBook(t *testing.T) {
	for _, crc := range []bool{false, true} {
		path, live := buildSampleLog(t, crc)

		recovered := newTestContext()
		stats, err := Recover(path, recovered, RecoverOptions{CRC: crc})
		require.NoError(t, err)

		assert.Equal(t, uint64(5), stats.Inserts)
		assert.Equal(t, uint64(1), stats.Cancels)
		assert.Equal(t, uint64(1), stats.Matches)
		assert.Equal(t, uint64(1), stats.Deactivates)
		assert.Equal(t, uint64(1), stats.Activates)
		assert.Equal(t, uint64(9), stats.LastSeq)
		assert.NotZero(t, stats.Bytes)

		assertBooksEquivalent(t, live, recovered, []uint64{1, 2, 3, 4, 5})
	}
}

func TestRecoverPreservesUserAndAuxData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path, CRC: true}, nil)
	require.NoError(t, err)
	_, err = w.AppendInsert(book.InsertRecord{
		OrderID: 1, Price: 100, Volume: 10, VolumeRemain: 10,
		UserData: []byte("client-tag"), AuxData: []byte{0xDE, 0xAD},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx := newTestContext()
	_, err = Recover(path, ctx, RecoverOptions{CRC: true})
	require.NoError(t, err)

	_, found := ctx.GetSlotByID(1)
	require.True(t, found)
	// The cold payload is reachable by index through the slab.
	idx := ctx.LadderHead(0, book.SideBid)
	cold := ctx.Slab().ColdFromIdx(idx)
	assert.Equal(t, []byte("client-tag"), cold.UserData)
	assert.Equal(t, []byte{0xDE, 0xAD}, cold.AuxData)
}

func TestCRCMismatchStopsReplayWithIntegrityError(t *testing.T) {
	path, _ := buildSampleLog(t, true)

	// Flip one byte inside the third record's payload.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	off := insertRecordLen(true) + insertRecordLen(true) + 12
	data[off] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true})
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, uint64(2), stats.Inserts)
}

func TestCRCMismatchSkippedWhenRequested(t *testing.T) {
	path, _ := buildSampleLog(t, true)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	off := insertRecordLen(true) + insertRecordLen(true) + 12
	data[off] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true, SkipIntegrityErrors: true})
	require.NoError(t, err)
	// The corrupted insert (order 3) is dropped; later records against
	// it degrade to no-ops, everything else lands.
	assert.Equal(t, uint64(4), stats.Inserts)
	assert.Equal(t, uint64(9), stats.LastSeq)
	_, found := ctx.GetSlotByID(3)
	assert.False(t, found)
	_, found = ctx.GetSlotByID(4)
	assert.True(t, found)
}

// insertRecordLen computes the on-disk length of the sample log's
// insert records (one byte of user data, no aux data).
func insertRecordLen(crc bool) int {
	n := 8 + insertHeaderSize + 1
	if crc {
		n += 4
	}
	return alignUp(n, 8)
}

func TestReplayStopsCleanlyAtZeroPadding(t *testing.T) {
	path, _ := buildSampleLog(t, true)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), stats.LastSeq)
}

func TestReplayTruncatedMidRecordIsEOFNotError(t *testing.T) {
	path, _ := buildSampleLog(t, true)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	ctx := newTestContext()
	_, err = Recover(path, ctx, RecoverOptions{CRC: true})
	assert.NoError(t, err)
}

func TestWriterResumeSkipsTrailingGarbage(t *testing.T) {
	path, _ := buildSampleLog(t, true)

	// Simulate a torn final write: half a header of nonzero garbage.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xAB, 0xCD, 0xEF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err := Open(Config{Path: path, CRC: true}, nil)
	require.NoError(t, err)
	seq, err := w.AppendMatch(1, 2, 100, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), seq)
	require.NoError(t, w.Close())
}

func TestUserRecordsDispatchToHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path, CRC: true}, nil)
	require.NoError(t, err)
	_, err = w.AppendUser(TypeUserBase+1, []byte("hello"))
	require.NoError(t, err)
	_, err = w.AppendUser(TypeUserBase+2, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var seen []string
	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true, UserHandler: func(typ uint8, payload []byte) error {
		seen = append(seen, string(payload))
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.UserRecords)
	assert.Equal(t, []string{"hello", "world"}, seen)
}

func TestAppendUserRejectsReservedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.AppendUser(TypeMatch, nil)
	assert.Error(t, err)
}

func TestCheckpointCountsInRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path, CRC: true}, nil)
	require.NoError(t, err)
	_, err = w.AppendInsert(book.InsertRecord{OrderID: 1, Price: 100, Volume: 1, VolumeRemain: 1})
	require.NoError(t, err)
	require.NoError(t, w.Checkpoint())
	_, err = w.AppendInsert(book.InsertRecord{OrderID: 2, Price: 101, Volume: 1, VolumeRemain: 1})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Checkpoints)
	assert.Equal(t, uint64(2), stats.Inserts)
	assert.Equal(t, uint64(3), stats.LastSeq)
}

func TestFlushFailurePoisonsWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)

	_, err = w.AppendMatch(1, 2, 100, 1, 0)
	require.NoError(t, err)

	// Close the descriptor out from under the writer so the flush fails.
	require.NoError(t, w.f.Close())
	assert.Error(t, w.Flush())

	_, err = w.AppendMatch(1, 2, 100, 1, 0)
	assert.ErrorIs(t, err, ErrPoisoned)
}

func TestOversizedRecordGrowsBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path, CRC: true, BufferSize: 512}, nil)
	require.NoError(t, err)

	big := make([]byte, 2048)
	for i := range big {
		big[i] = byte(i)
	}
	_, err = w.AppendInsert(book.InsertRecord{OrderID: 1, Price: 1, Volume: 1, VolumeRemain: 1, UserData: big})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ctx := newTestContext()
	stats, err := Recover(path, ctx, RecoverOptions{CRC: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Inserts)
}

func TestRecordTooLargeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ob.wal")
	w, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.AppendUser(TypeUserBase, make([]byte, maxPayload+1))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}
