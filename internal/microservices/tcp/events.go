package tcp

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"palmcontroller/pkg/protocol"
)

// Listener receives the events the session manager pushes upward.
// Callbacks run on the event goroutine, never on a connection's read path,
// so a slow listener delays other listeners but never network I/O.
// A listener may call Stop; it then returns without waiting for the
// remaining events, which are still delivered.
type Listener interface {
	OnClientConnected(clientID string)
	OnClientDisconnected(clientID string)
	OnMessageReceived(clientID string, msg *protocol.ControlMessage)
	OnStatusChanged(status string)
}

// ListenerFuncs adapts plain functions to a Listener; nil fields are skipped.
type ListenerFuncs struct {
	Connected    func(clientID string)
	Disconnected func(clientID string)
	Message      func(clientID string, msg *protocol.ControlMessage)
	Status       func(status string)
}

func (f ListenerFuncs) OnClientConnected(clientID string) {
	if f.Connected != nil {
		f.Connected(clientID)
	}
}

func (f ListenerFuncs) OnClientDisconnected(clientID string) {
	if f.Disconnected != nil {
		f.Disconnected(clientID)
	}
}

func (f ListenerFuncs) OnMessageReceived(clientID string, msg *protocol.ControlMessage) {
	if f.Message != nil {
		f.Message(clientID, msg)
	}
}

func (f ListenerFuncs) OnStatusChanged(status string) {
	if f.Status != nil {
		f.Status(status)
	}
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventDisconnected
	eventMessage
	eventStatus
)

type event struct {
	kind     eventKind
	clientID string
	msg      *protocol.ControlMessage
	status   string
}

const eventQueueSize = 1024

// eventBus delivers events in order from a single goroutine. When the queue
// is full the event is handed to its own goroutine instead of blocking the
// emitter (ordering is lost only under overload).
type eventBus struct {
	mu        sync.RWMutex
	listeners []Listener
	queue     chan event
	open      bool
	done      chan struct{}
	overflow  sync.WaitGroup
	logger    *slog.Logger

	delivering atomic.Int32 // listener callbacks in progress
}

func newEventBus(logger *slog.Logger) *eventBus {
	return &eventBus{logger: logger}
}

func (b *eventBus) subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *eventBus) start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return
	}
	b.queue = make(chan event, eventQueueSize)
	b.done = make(chan struct{})
	b.open = true
	go b.run(b.queue, b.done)
}

// stop closes the queue and waits until every queued event is delivered.
// Called from inside a callback it cannot wait for itself, so it only closes
// the queue and run drains it on its own.
func (b *eventBus) stop() {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return
	}
	b.open = false
	close(b.queue)
	done := b.done
	b.mu.Unlock()

	if b.delivering.Load() > 0 {
		return
	}
	<-done
	b.overflow.Wait()
}

func (b *eventBus) emit(ev event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.open {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("event_queue_full", "queue_size", eventQueueSize)
		b.overflow.Add(1)
		go func() {
			defer b.overflow.Done()
			b.deliver(ev)
		}()
	}
}

func (b *eventBus) run(queue <-chan event, done chan<- struct{}) {
	defer close(done)
	for ev := range queue {
		b.deliver(ev)
	}
}

func (b *eventBus) deliver(ev event) {
	b.delivering.Add(1)
	defer b.delivering.Add(-1)

	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		b.call(l, ev)
	}
}

// call isolates listener panics so one faulty handler cannot take the
// event goroutine down.
func (b *eventBus) call(l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener_panic", "event", ev.kind, "panic", r)
		}
	}()
	switch ev.kind {
	case eventConnected:
		l.OnClientConnected(ev.clientID)
	case eventDisconnected:
		l.OnClientDisconnected(ev.clientID)
	case eventMessage:
		l.OnMessageReceived(ev.clientID, ev.msg)
	case eventStatus:
		l.OnStatusChanged(ev.status)
	}
}
