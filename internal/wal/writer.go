package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rishav/ob-engine/internal/book"
)

const defaultBufferSize = 64 * 1024
const directAlign = 4096

// Config controls how a Writer opens and flushes its log file.
type Config struct {
	Path string
	// CRC appends a 4-byte CRC32 to every record.
	CRC bool
	// Direct opens the file with O_DIRECT, requiring 4 KiB-aligned
	// flushes; unsupported platforms fall back to a buffered open.
	Direct bool
	// BufferSize is the in-memory buffer capacity before a flush is
	// forced. Defaults to 64 KiB.
	BufferSize int
	// SyncIntervalMs, if non-zero, is advisory: callers that drive a
	// timer should call Checkpoint or Flush+Sync at this cadence. The
	// writer itself never starts a timer; its only blocking calls are
	// the write and fsync already on the flush/close path.
	SyncIntervalMs int
}

// Writer appends records to one WAL file. It is not safe for
// concurrent use: the buffer is owned by the single engine thread
// that also owns the book, and is deliberately unsynchronized.
type Writer struct {
	f        *os.File
	cfg      Config
	buf      []byte
	used     int
	nextSeq  uint64
	poisoned bool
	log      *zap.Logger
}

// Open opens (creating if necessary) the log at cfg.Path, scans any
// existing content to find the resume sequence, and returns a Writer
// ready to append.
func Open(cfg Config, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	bufSize := cfg.BufferSize
	if cfg.Direct {
		bufSize = alignUp(bufSize, directAlign)
	}

	nextSeq, err := scanResumeSeq(cfg.Path, cfg.CRC)
	if err != nil {
		return nil, fmt.Errorf("wal: scan resume point: %w", err)
	}

	var f *os.File
	if cfg.Direct {
		f, err = openDirect(cfg.Path)
		if err != nil {
			log.Warn("O_DIRECT open failed, falling back to buffered", zap.Error(err))
			cfg.Direct = false
		}
	}
	if f == nil {
		f, err = os.OpenFile(cfg.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("wal: open %s: %w", cfg.Path, err)
		}
	}

	return &Writer{
		f:       f,
		cfg:     cfg,
		buf:     make([]byte, bufSize),
		nextSeq: nextSeq,
		log:     log,
	}, nil
}

func (w *Writer) append(typ uint8, payload []byte, aligned bool) (uint64, error) {
	if w.poisoned {
		return 0, ErrPoisoned
	}
	if len(payload) > maxPayload {
		return 0, ErrRecordTooLarge
	}
	if w.nextSeq > maxSeq {
		return 0, ErrSeqOverflow
	}

	total := 8 + len(payload)
	if w.cfg.CRC {
		total += 4
	}
	padded := total
	if aligned {
		padded = alignUp(total, 8)
	}

	if w.used+padded > len(w.buf) {
		if err := w.flush(); err != nil {
			w.poisoned = true
			return 0, err
		}
		if padded > len(w.buf) {
			// One record larger than the whole buffer: grow to fit,
			// keeping the 4 KiB multiple O_DIRECT flushes rely on.
			w.buf = make([]byte, alignUp(padded, directAlign))
		}
	}

	seq := w.nextSeq
	packed := packHeader(seq, typ, uint16(len(payload)))

	start := w.used
	binary.LittleEndian.PutUint64(w.buf[w.used:], packed)
	w.used += 8
	copy(w.buf[w.used:], payload)
	w.used += len(payload)
	if w.cfg.CRC {
		crc := crc32.ChecksumIEEE(w.buf[start:w.used])
		binary.LittleEndian.PutUint32(w.buf[w.used:], crc)
		w.used += 4
	}
	for w.used-start < padded {
		w.buf[w.used] = 0
		w.used++
	}

	w.nextSeq++
	return seq, nil
}

// flush writes the buffered bytes with a single write call and resets
// the buffer. No fsync happens here; see Close and Checkpoint.
func (w *Writer) flush() error {
	if w.used == 0 {
		return nil
	}
	n := w.used
	if w.cfg.Direct {
		n = alignUp(w.used, directAlign)
		for i := w.used; i < n; i++ {
			w.buf[i] = 0
		}
	}
	if _, err := w.f.Write(w.buf[:n]); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	w.used = 0
	return nil
}

// Flush forces the buffered bytes to the file descriptor.
func (w *Writer) Flush() error {
	if err := w.flush(); err != nil {
		w.poisoned = true
		return err
	}
	return nil
}

// Checkpoint appends a reserved CHECKPOINT record, then flushes and fsyncs.
func (w *Writer) Checkpoint() error {
	if _, err := w.append(TypeCheckpoint, nil, false); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes, fsyncs, and closes the underlying file descriptor.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("wal: fsync on close: %w", err)
	}
	return w.f.Close()
}

func nowNs() int64 { return time.Now().UnixNano() }

// AppendInsert satisfies book.WAL.
func (w *Writer) AppendInsert(rec book.InsertRecord) (uint64, error) {
	payload := make([]byte, insertHeaderSize+len(rec.UserData)+len(rec.AuxData))
	encodeInsertHeader(payload, insertHeader{
		OrderID:      rec.OrderID,
		Price:        rec.Price,
		Volume:       rec.Volume,
		VolumeRemain: rec.VolumeRemain,
		Org:          rec.Org,
		ProductID:    rec.ProductID,
		Flags:        rec.Flags,
		UserSize:     uint16(len(rec.UserData)),
		AuxSize:      uint16(len(rec.AuxData)),
		TimestampNs:  rec.TimestampNs,
	})
	copy(payload[insertHeaderSize:], rec.UserData)
	copy(payload[insertHeaderSize+len(rec.UserData):], rec.AuxData)
	return w.append(TypeInsert, payload, true)
}

// AppendCancel satisfies book.WAL.
func (w *Writer) AppendCancel(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	return w.appendCancelLike(TypeCancel, orderID, slotIdx, productID)
}

// AppendDeactivate satisfies book.WAL.
func (w *Writer) AppendDeactivate(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	return w.appendCancelLike(TypeDeactivate, orderID, slotIdx, productID)
}

// AppendActivate satisfies book.WAL.
func (w *Writer) AppendActivate(orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	return w.appendCancelLike(TypeActivate, orderID, slotIdx, productID)
}

func (w *Writer) appendCancelLike(typ uint8, orderID uint64, slotIdx uint32, productID uint16) (uint64, error) {
	payload := make([]byte, cancelLikeSize)
	encodeCancelLike(payload, cancelLikePayload{
		OrderID:     orderID,
		TimestampNs: nowNs(),
		SlotIdx:     slotIdx,
		ProductID:   productID,
	})
	return w.append(typ, payload, false)
}

// AppendMatch satisfies book.WAL.
func (w *Writer) AppendMatch(makerID, takerID uint64, price, volume uint64, productID uint16) (uint64, error) {
	payload := make([]byte, matchSize)
	encodeMatch(payload, matchPayload{
		MakerID:     makerID,
		TakerID:     takerID,
		Price:       price,
		Volume:      volume,
		TimestampNs: nowNs(),
		ProductID:   productID,
	})
	return w.append(TypeMatch, payload, false)
}

// AppendUser appends a user-defined record; typ must be >= TypeUserBase.
func (w *Writer) AppendUser(typ uint8, payload []byte) (uint64, error) {
	if typ < TypeUserBase {
		return 0, fmt.Errorf("wal: user record type 0x%02x below reserved base 0x%02x", typ, TypeUserBase)
	}
	return w.append(typ, payload, false)
}
