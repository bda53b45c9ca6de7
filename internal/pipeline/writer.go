package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/store"
)

const shardBuffer = 256

// Writer persists events with a fixed pool of workers. Events for the same
// URL always land on the same worker, so registry upserts for one URL are
// serialized.
type Writer struct {
	sink    store.Sink
	shards  []chan model.Event
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup

	persisted atomic.Int64
	failed    atomic.Int64
}

// NewWriter creates a Writer with the given number of workers (minimum 1).
func NewWriter(sink store.Sink, workers int, logger *zap.Logger) *Writer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		sink:    sink,
		shards:  make([]chan model.Event, workers),
		timeout: 10 * time.Second,
		log:     logger.Named("writer"),
	}
	for i := range w.shards {
		w.shards[i] = make(chan model.Event, shardBuffer)
	}
	return w
}

// Start launches the workers.
func (w *Writer) Start() {
	for _, ch := range w.shards {
		w.wg.Add(1)
		go func(ch <-chan model.Event) {
			defer w.wg.Done()
			for ev := range ch {
				w.persist(ev)
			}
		}(ch)
	}
}

// Submit queues ev on its shard, blocking while the shard is full.
// It must not be called after Close.
func (w *Writer) Submit(ev model.Event) {
	w.shards[shardOf(ev.URL, len(w.shards))] <- ev
}

// Close stops accepting events and waits for queued ones to be written.
func (w *Writer) Close() {
	for _, ch := range w.shards {
		close(ch)
	}
	w.wg.Wait()
}

// Persisted returns the number of events whose access row was written.
func (w *Writer) Persisted() int64 { return w.persisted.Load() }

// Failed returns the number of events dropped on a sink error.
func (w *Writer) Failed() int64 { return w.failed.Load() }

func shardOf(url string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(url))
	return int(h.Sum32() % uint32(n))
}

// persist writes the access row, then its alerts, then the registry row.
// Sink errors are logged and never stop the worker.
func (w *Writer) persist(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req := ev.Request
	id, err := w.sink.RecordAccess(ctx, store.AccessRecord{
		Method:    req.Method,
		URL:       ev.URL,
		Status:    req.Status,
		IP:        req.ClientAddr,
		Timestamp: req.Timestamp,
		Blocked:   ev.Blocked,
	})
	if err != nil {
		w.failed.Add(1)
		w.log.Error("access record failed, event dropped",
			zap.String("event", ev.ID), zap.String("url", ev.URL), zap.Error(err))
		return
	}
	w.persisted.Add(1)

	for _, f := range ev.Fragments {
		if err := w.sink.RecordAlert(ctx, id, f); err != nil {
			w.log.Error("alert record failed",
				zap.Int64("access_id", id), zap.String("rule_id", f.RuleID), zap.Error(err))
		}
	}

	if err := w.sink.UpsertURL(ctx, store.RegistryEntry{
		Method:         req.Method,
		URL:            ev.URL,
		RawURL:         req.RawURL,
		IP:             req.ClientAddr,
		Timestamp:      req.Timestamp,
		Classification: ev.Verdict.Classification,
		Whitelisted:    ev.Whitelisted,
	}); err != nil {
		w.log.Error("registry upsert failed", zap.String("url", ev.URL), zap.Error(err))
	}
}
