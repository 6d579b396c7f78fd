package tcs34725

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	id  int
	mu  *sync.Mutex
	log *[]int
}

func (h recordingHandler) HandleInterrupt(ev Edge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.log = append(*h.log, h.id)
}

func TestBridgeDispatchOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		log []int
	)
	b := NewBridge(nil)
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Register(recordingHandler{id: i, mu: &mu, log: &log}))
	}

	b.Fire()
	b.Fire()
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, log)
	assert.Equal(t, uint64(2), b.Edges())
}

func TestBridgeCapacity(t *testing.T) {
	var (
		mu  sync.Mutex
		log []int
	)
	b := NewBridge(nil)
	for i := 0; i < MaxHandlers; i++ {
		require.NoError(t, b.Register(recordingHandler{id: i, mu: &mu, log: &log}))
	}
	assert.ErrorIs(t, b.Register(recordingHandler{mu: &mu, log: &log}), ErrTooManyHandlers)

	b.Fire()
	assert.Len(t, log, MaxHandlers)
}

func TestBridgeRun(t *testing.T) {
	var (
		mu  sync.Mutex
		log []int
	)
	pin := &fakeEdgePin{edges: make(chan struct{})}
	b := NewBridge(pin)
	b.PollTimeout = 10 * time.Millisecond
	require.NoError(t, b.Register(recordingHandler{id: 7, mu: &mu, log: &log}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	pin.edges <- struct{}{}
	pin.edges <- struct{}{}
	require.Eventually(t, func() bool { return b.Edges() == 2 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, b.Register(recordingHandler{mu: &mu, log: &log}), ErrBridgeRunning)
	assert.ErrorIs(t, b.Run(ctx), ErrBridgeRunning)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{7, 7}, log)
}

func TestBridgeRunWithoutPin(t *testing.T) {
	assert.ErrorIs(t, NewBridge(nil).Run(context.Background()), ErrNoInterruptPin)
}
