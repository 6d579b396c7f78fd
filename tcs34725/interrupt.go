package tcs34725

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// MaxHandlers is the capacity of a Bridge's handler list.
const MaxHandlers = 8

var (
	ErrTooManyHandlers = errors.New("tcs34725: interrupt handler list is full")
	ErrBridgeRunning   = errors.New("tcs34725: handlers must be registered before Run")
	ErrNoInterruptPin  = errors.New("tcs34725: no interrupt pin")
)

// Edge describes one falling edge on the interrupt line.
type Edge struct {
	At  time.Time
	Seq uint64
}

// Handler receives interrupt edges. HandleInterrupt is called from the edge
// watching goroutine and must not block or touch the bus.
type Handler interface {
	HandleInterrupt(ev Edge)
}

// EdgePin is an input configured for falling edge detection, such as a
// periph.io gpio.PinIn set up with gpio.FallingEdge.
type EdgePin interface {
	WaitForEdge(timeout time.Duration) bool
}

// Bridge forwards interrupt edges to a fixed, ordered list of handlers. It
// holds no sensor state and does no bus I/O.
type Bridge struct {
	pin      EdgePin
	handlers [MaxHandlers]Handler
	n        int
	running  atomic.Bool
	seq      atomic.Uint64

	// PollTimeout bounds each edge wait so Run notices cancellation.
	PollTimeout time.Duration
}

func NewBridge(pin EdgePin) *Bridge {
	return &Bridge{pin: pin, PollTimeout: time.Second}
}

// Register appends h to the handler list. Handlers are called in the order
// they were registered.
func (b *Bridge) Register(h Handler) error {
	if b.running.Load() {
		return ErrBridgeRunning
	}
	if b.n == len(b.handlers) {
		return ErrTooManyHandlers
	}
	b.handlers[b.n] = h
	b.n++
	return nil
}

// Fire dispatches one edge to every handler synchronously.
func (b *Bridge) Fire() {
	ev := Edge{At: time.Now(), Seq: b.seq.Add(1)}
	for _, h := range b.handlers[:b.n] {
		h.HandleInterrupt(ev)
	}
}

// Edges returns the number of edges dispatched so far.
func (b *Bridge) Edges() uint64 { return b.seq.Load() }

// Run waits for edges until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if b.pin == nil {
		return ErrNoInterruptPin
	}
	if !b.running.CompareAndSwap(false, true) {
		return ErrBridgeRunning
	}
	defer b.running.Store(false)

	l.WithField("handlers", b.n).Debug("Watching interrupt line")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.pin.WaitForEdge(b.PollTimeout) {
			b.Fire()
		}
	}
}
