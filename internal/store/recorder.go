package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/cardswap/internal/bus"
)

// Recorder copies bus events into an ExchangeLog off the command path.
// Events that do not fit the queue are dropped and counted.
type Recorder struct {
	log     ExchangeLog
	queue   chan ExchangeRecord
	dropped atomic.Int64
}

func NewRecorder(log ExchangeLog, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{log: log, queue: make(chan ExchangeRecord, queueSize)}
}

// Handle is a bus.EventHandler. It never blocks.
func (r *Recorder) Handle(ev bus.Event) {
	rec, ok := recordFor(ev)
	if !ok {
		return
	}
	select {
	case r.queue <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("audit queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were lost to a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes queued records until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec ExchangeRecord) {
	if err := r.log.Append(ctx, rec); err != nil {
		slog.Error("audit append failed", "event", rec.Event, "error", err)
	}
}

func recordFor(ev bus.Event) (ExchangeRecord, bool) {
	rec := ExchangeRecord{Event: ev.Name, At: ev.At}
	switch p := ev.Payload.(type) {
	case bus.ExchangePayload:
		rec.Requester, rec.Target, rec.Actor = p.Requester, p.Target, p.Actor
	case bus.DevicePayload:
		rec.Requester, rec.Actor, rec.Detail = p.DeviceID, p.DeviceID, p.Reason
	default:
		return ExchangeRecord{}, false
	}
	return rec, true
}
