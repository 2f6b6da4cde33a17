package accesslog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder writes records to the store from a background goroutine so
// connection teardown never blocks on the database. When the queue is
// full records are dropped and counted rather than stalling the proxy.
type Recorder struct {
	store   *Store
	queue   chan *Record
	dropped atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

const defaultQueueSize = 1024

// NewRecorder creates a recorder over store and starts its writer.
func NewRecorder(store *Store) *Recorder {
	r := &Recorder{
		store: store,
		queue: make(chan *Record, defaultQueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues one record. It never blocks.
func (r *Recorder) Record(rec *Record) {
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of records lost to queue overflow.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-r.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Insert(ctx, rec); err != nil {
		slog.Error("access log write failed", "error", err, "record_id", rec.ID)
	}
}

// Close stops the writer after draining queued records.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}
