package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// Dispatcher delivers events to a Sink asynchronously. Emit never blocks
// the caller: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	sink Sink
	ch   chan Event

	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewDispatcher starts a dispatcher delivering to sink. A nil sink falls
// back to LogSink; buffer <= 0 uses a default size.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		d.sink.Write(context.Background(), e)
	}
}

// Emit queues an event for delivery. Safe to call on a nil dispatcher.
func (d *Dispatcher) Emit(_ context.Context, e Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops accepting events and drains the queue before returning.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
		d.wg.Wait()
	})
}
