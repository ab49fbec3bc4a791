// Package audit keeps a persistent log of controller sessions: who
// connected, when they left and which message types they sent.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"palmcontroller/pkg/protocol"
)

const (
	DefaultQueueSize     = 10000
	DefaultBatchSize     = 500
	DefaultFlushInterval = 5 * time.Second
)

// Recorder is a session event listener that queues events and writes them
// in batches. Recording never blocks the session manager: when the queue is
// full the event is dropped.
type Recorder struct {
	repo          Repository
	writeChan     chan *SessionEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	dropped       atomic.Uint64
	closed        atomic.Bool
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:          repo,
		writeChan:     make(chan *SessionEvent, DefaultQueueSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		logger:        logger,
	}
}

// Dropped returns how many events were lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) OnClientConnected(clientID string) {
	r.enqueue(&SessionEvent{Kind: KindConnected, ClientID: clientID})
}

func (r *Recorder) OnClientDisconnected(clientID string) {
	r.enqueue(&SessionEvent{Kind: KindDisconnected, ClientID: clientID})
}

func (r *Recorder) OnMessageReceived(clientID string, msg *protocol.ControlMessage) {
	r.enqueue(&SessionEvent{
		Kind:        KindMessage,
		ClientID:    clientID,
		MessageID:   msg.ID,
		MessageType: string(msg.Type),
	})
}

func (r *Recorder) OnStatusChanged(string) {}

func (r *Recorder) enqueue(ev *SessionEvent) {
	if r.closed.Load() {
		return
	}
	ev.OccurredAt = time.Now()

	if depth := len(r.writeChan); depth > cap(r.writeChan)/2 {
		r.logger.Warn("audit_queue_high_watermark", "queue_depth", depth)
	}
	select {
	case r.writeChan <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit_queue_full", "client_id", ev.ClientID, "kind", ev.Kind)
	}
}

// Run is the batch writer. It flushes every interval or when a batch is
// full, and once more with everything still queued when ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*SessionEvent, 0, r.batchSize)
	r.logger.Info("audit_writer_started", "interval", r.flushInterval, "batch_size", r.batchSize)

	for {
		select {
		case <-ctx.Done():
			r.closed.Store(true)
			// drain what is already queued
		drain:
			for {
				select {
				case ev := <-r.writeChan:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			r.logger.Info("audit_writer_shutting_down", "remaining", len(batch))
			r.flushBatch(batch)
			return

		case ev := <-r.writeChan:
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				r.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flushBatch(batch []*SessionEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.repo.BatchInsert(ctx, batch); err != nil {
		r.logger.Error("audit_batch_insert_failed", "count", len(batch), "error", err)
		return
	}
	r.logger.Debug("audit_batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
