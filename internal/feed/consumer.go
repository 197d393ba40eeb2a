package feed

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rishav/ob-engine/internal/projection"
	"github.com/rishav/ob-engine/internal/ring"
)

// Consumer drains one ring cursor into one projection worker on its
// own goroutine. Each consumer sees every event exactly once, in
// publication order, so a worker's ladders track the book without the
// engine thread ever touching them.
type Consumer struct {
	ring        *ring.Ring[Event]
	consumerIdx int
	worker      *projection.Worker
	log         *zap.Logger

	batch     []Event
	batchSize int

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewConsumer binds cursor consumerIdx of r to worker. batchSize
// bounds how many events one DequeueBatch drains; <= 0 defaults to 64.
func NewConsumer(r *ring.Ring[Event], consumerIdx int, worker *projection.Worker, batchSize int, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Consumer{
		ring:         r,
		consumerIdx:  consumerIdx,
		worker:       worker,
		log:          log,
		batch:        make([]Event, 0, batchSize),
		batchSize:    batchSize,
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start begins the drain loop.
func (c *Consumer) Start() {
	c.running.Store(true)
	go c.drainLoop()
}

// Stop signals the drain loop and blocks until it has exited. Events
// already in the ring when Stop is called are drained first.
func (c *Consumer) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.shutdownCh)
	<-c.shutdownDone
}

func (c *Consumer) drainLoop() {
	defer close(c.shutdownDone)
	for {
		c.batch = c.ring.DequeueBatch(c.consumerIdx, c.batchSize, c.batch)
		if len(c.batch) == 0 {
			select {
			case <-c.shutdownCh:
				if c.ring.Pending(c.consumerIdx) > 0 {
					// Final drain so Stop leaves nothing behind.
					continue
				}
				return
			default:
				// Spin-wait with a yield rather than Ring.Wait: a condvar
				// sleep here could not be interrupted by shutdownCh.
				runtime.Gosched()
				continue
			}
		}
		for _, ev := range c.batch {
			c.Apply(ev)
		}
	}
}

// Apply routes one event into the projection worker. Exposed so tests
// and synchronous callers can drive a worker without the goroutine.
func (c *Consumer) Apply(ev Event) {
	switch ev.Kind {
	case KindInsert:
		c.worker.Insert(ev.Order)
	case KindCancel:
		c.worker.Cancel(ev.OrderID)
	case KindMatch:
		c.worker.Match(ev.OrderID, ev.MatchQty)
	case KindDeactivate:
		c.worker.Deactivate(ev.OrderID)
	case KindActivate:
		if ev.Order.OrderID != 0 {
			c.worker.Activate(ev.Order)
		} else {
			c.log.Warn("activate event with no order snapshot dropped",
				zap.Uint64("order_id", ev.OrderID), zap.Uint64("seq", ev.Seq))
		}
	default:
		c.log.Warn("unknown event kind", zap.Uint8("kind", uint8(ev.Kind)), zap.Uint64("seq", ev.Seq))
	}
}
