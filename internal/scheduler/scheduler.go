// Package scheduler is the single arbiter of the write connection
// described in spec §4.7/§5: a priority queue of tasks (Query/Update/
// UpdateBlank/Deserialise/Commit), readers bounded by a semaphore and free
// to run concurrently with an in-flight write (WAL snapshot isolation),
// writes serialised one at a time with consecutive low-priority updates
// coalesced into a batch transaction, and backpressure reported on a
// sampling ticker.
//
// Grounded on the teacher's own coordination style: a condition-guarded
// queue in the spirit of a reload-signal channel and a dependency-ordered
// dispatch loop, both built on plain `sync`/channel primitives rather
// than a queueing library.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/quillgraph/quill/internal/config"
	"github.com/quillgraph/quill/internal/quillerr"
)

// Kind orders tasks per spec §4.7's priority table: "Query(high),
// Update(high), Query(low), Update(low), Deserialise" — the zero value
// ordering of this enum IS that table, so a plain numeric compare sorts it.
type Kind int

const (
	KindQueryHigh Kind = iota
	KindUpdateHigh
	KindQueryLow
	KindUpdateLow
	KindDeserialise
)

func (k Kind) isWrite() bool { return k != KindQueryHigh && k != KindQueryLow }

// BatchToken tells a write task's Run closure whether to begin a fresh
// transaction or continue one already open from a coalesced batch, and
// whether it must commit once this task returns.
type BatchToken struct {
	OpenNew bool
	MustEnd bool
}

// RunFunc performs one task's work. rows is the number of rows the write
// affected (0 for queries and for no-op writes), used to track the batch
// row threshold.
type RunFunc func(ctx context.Context, tok BatchToken) (rows int, err error)

// Task is one unit of scheduled work.
type Task struct {
	Kind Kind
	Run  RunFunc

	ctx  context.Context
	seq  int64
	done chan taskResult
}

type taskResult struct {
	rows int
	err  error
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Kind != h[j].Kind {
		return h[i].Kind < h[j].Kind
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Progress is the backpressure report published on the sampling ticker
// (spec §5: "the scheduler reports progress (status, fraction) on a
// sampling timer").
type Progress struct {
	QueueDepth int
	Fraction   float64
}

// softQueueThreshold is the queue depth at which Progress.Fraction
// saturates at 1.0.
const softQueueThreshold = 256

// Scheduler is the single arbiter of the write connection.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  taskHeap
	seq    int64
	closed bool

	readers *semaphore.Weighted
	cfg     *config.Config
	log     zerolog.Logger

	// flushFn, registered by the batch owner (the engine), commits any
	// write batch still open. The dispatch loop calls it before running a
	// task that must not observe (or join) the open batch.
	flushFn func(context.Context) error

	queueDepth    prometheus.Gauge
	activeReaders prometheus.Gauge
	batchSize     prometheus.Gauge

	progressMu sync.Mutex
	progress   Progress
}

// New starts the scheduler's dispatch loop and progress-sampling ticker.
// reg may be nil to skip Prometheus registration (e.g. in tests).
func New(cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) *Scheduler {
	s := &Scheduler{
		readers:       semaphore.NewWeighted(int64(cfg.MaxConcurrentReaders)),
		cfg:           cfg,
		log:           log,
		queueDepth:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "quill_scheduler_queue_depth", Help: "Pending tasks awaiting dispatch."}),
		activeReaders: prometheus.NewGauge(prometheus.GaugeOpts{Name: "quill_scheduler_active_readers", Help: "Reader tasks currently executing."}),
		batchSize:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "quill_scheduler_batch_size", Help: "Rows accumulated in the current write batch."}),
	}
	s.cond = sync.NewCond(&s.mu)
	if reg != nil {
		reg.MustRegister(s.queueDepth, s.activeReaders, s.batchSize)
	}
	go s.dispatchLoop()
	go s.progressLoop()
	return s
}

// SetFlusher registers the callback that commits an open write batch.
// Must be called before any write task is submitted.
func (s *Scheduler) SetFlusher(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushFn = fn
}

// Submit enqueues a task and blocks until it completes or ctx is
// cancelled before the task ran.
func (s *Scheduler) Submit(ctx context.Context, kind Kind, run RunFunc) (int, error) {
	t := &Task{Kind: kind, Run: run, ctx: ctx, done: make(chan taskResult, 1)}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
	s.queueDepth.Set(float64(s.queue.Len()))
	s.cond.Signal()
	s.mu.Unlock()

	select {
	case res := <-t.done:
		return res.rows, res.err
	case <-ctx.Done():
		return 0, quillerr.New(quillerr.KindCancelled, ctx.Err(), "task cancelled before it ran")
	}
}

// Close stops the dispatch loop once the current queue drains.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) dispatchLoop() {
	var batch batchState
	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.queue.Len() == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.queue).(*Task)
		s.queueDepth.Set(float64(s.queue.Len()))
		s.mu.Unlock()

		if !t.Kind.isWrite() {
			// A reader must not observe a half-open batch: commit it first,
			// then let the query proceed on a post-commit snapshot.
			s.flushOpenBatch(t.ctx, &batch)
			s.runQuery(t)
			continue
		}
		s.runWrite(t, &batch)
	}
}

// flushOpenBatch commits the in-flight coalesced batch, if any, via the
// engine-registered flusher — spec §4.7: "any high-priority task flushes
// the current batch before it runs."
func (s *Scheduler) flushOpenBatch(ctx context.Context, batch *batchState) {
	if !batch.open {
		return
	}
	s.mu.Lock()
	fn := s.flushFn
	s.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Msg("flush open write batch")
		}
	}
	batch.open = false
	batch.rows = 0
	s.batchSize.Set(0)
}

// runQuery hands a read task its own goroutine bounded by the reader
// semaphore so it can proceed concurrently with the write lane — spec §5:
// "readers continue on read snapshots" while a write is in flight.
func (s *Scheduler) runQuery(t *Task) {
	if err := s.readers.Acquire(t.ctx, 1); err != nil {
		t.done <- taskResult{err: quillerr.New(quillerr.KindCancelled, err, "acquire reader slot")}
		return
	}
	s.activeReaders.Inc()
	go func() {
		defer s.readers.Release(1)
		defer s.activeReaders.Dec()
		rows, err := t.Run(t.ctx, BatchToken{OpenNew: true, MustEnd: true})
		t.done <- taskResult{rows: rows, err: err}
	}()
}

type batchState struct {
	open      bool
	rows      int
	startedAt time.Time
}

// runWrite executes one write task on the single write lane, coalescing
// consecutive KindUpdateLow tasks into one transaction until the row
// threshold, the time threshold, or a higher-priority task waiting forces
// a commit — spec §4.7: "consecutive low-priority Updates coalesce into
// one transaction up to a configurable row threshold... any high-priority
// task flushes the current batch before it runs."
func (s *Scheduler) runWrite(t *Task, batch *batchState) {
	// A non-coalescing write (high-priority update, deserialise) commits
	// the pending low-priority batch first rather than joining it, so its
	// own failure can never roll back already-accepted work.
	if batch.open && t.Kind != KindUpdateLow {
		s.flushOpenBatch(t.ctx, batch)
	}

	var tok BatchToken
	if !batch.open {
		tok.OpenNew = true
		batch.open = true
		batch.rows = 0
		batch.startedAt = time.Now()
	}

	// A batch only stays open while the very next queued task is another
	// low-priority update to coalesce with: "consecutive" is literal. An
	// empty queue or any other task kind (queries included) ends it, so a
	// lone update commits immediately rather than waiting out the time
	// threshold.
	tok.MustEnd = t.Kind != KindUpdateLow ||
		!s.nextIsLowUpdate() ||
		batch.rows >= s.cfg.BatchRowThreshold ||
		time.Since(batch.startedAt) >= s.cfg.NotificationDelay

	rows, err := t.Run(t.ctx, tok)
	t.done <- taskResult{rows: rows, err: err}

	if err != nil {
		// The batch owner rolled the transaction back; nothing is open to
		// coalesce into any more.
		batch.open = false
		batch.rows = 0
		s.batchSize.Set(0)
		return
	}
	if tok.MustEnd {
		batch.open = false
		batch.rows = 0
		s.batchSize.Set(0)
	} else {
		batch.rows += rows
		s.batchSize.Set(float64(batch.rows))
	}
}

func (s *Scheduler) nextIsLowUpdate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len() > 0 && s.queue[0].Kind == KindUpdateLow
}

func (s *Scheduler) progressLoop() {
	interval := s.cfg.ProgressSampleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		closed := s.closed
		depth := s.queue.Len()
		s.mu.Unlock()
		if closed {
			return
		}

		fraction := float64(depth) / float64(softQueueThreshold)
		if fraction > 1 {
			fraction = 1
		}
		s.progressMu.Lock()
		s.progress = Progress{QueueDepth: depth, Fraction: fraction}
		s.progressMu.Unlock()
	}
}

// LastProgress returns the most recently sampled backpressure report.
func (s *Scheduler) LastProgress() Progress {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.progress
}

// RetryBusy retries fn with bounded exponential backoff whenever it fails
// with quillerr.StorageBusy, and surfaces the error unchanged otherwise —
// the canonical single retry/backoff table the Open Questions called for,
// replacing the source's inconsistent per-call-site retry behaviour.
func RetryBusy(ctx context.Context, fn func() error) error {
	backoff := 10 * time.Millisecond
	const maxAttempts = 5
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, quillerr.StorageBusy) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return quillerr.New(quillerr.KindCancelled, ctx.Err(), "cancelled while backing off a storage-busy condition")
		}
		backoff *= 2
	}
	return quillerr.New(quillerr.KindStorageBusy, err, "exceeded retry budget for storage-busy condition")
}
