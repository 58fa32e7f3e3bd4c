package services

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type recordJob struct {
	identity uuid.UUID
	run      func(ctx context.Context)
	ctx      context.Context
	// untracked jobs keep shard order but are invisible to Wait
	untracked bool
}

type pendingRecords struct {
	n    int
	done chan struct{}
}

// recorder runs post-decision side effects off the request path. Jobs for one identity
// always land on the same shard, and Wait lets a later decision observe them.
type recorder struct {
	shards []chan recordJob
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	pmu     sync.Mutex
	pending map[uuid.UUID]*pendingRecords

	logger *logrus.Logger
}

func newRecorder(workers, queueSize int, logger *logrus.Logger) *recorder {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &recorder{
		shards:  make([]chan recordJob, workers),
		pending: make(map[uuid.UUID]*pendingRecords),
		logger:  logger,
	}
	for i := range r.shards {
		r.shards[i] = make(chan recordJob, queueSize)
		r.wg.Add(1)
		go r.work(r.shards[i])
	}
	return r
}

func (r *recorder) work(jobs <-chan recordJob) {
	defer r.wg.Done()
	for job := range jobs {
		r.exec(job)
	}
}

func (r *recorder) exec(job recordJob) {
	if !job.untracked {
		defer r.finish(job.identity)
	}
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.WithFields(logrus.Fields{"identity_id": job.identity, "panic": rec}).Error("recorder: job panicked")
		}
	}()
	job.run(job.ctx)
}

// Submit queues fn for identity. ctx values are kept but its cancellation is not.
// A full queue or a closed recorder runs fn inline.
func (r *recorder) Submit(ctx context.Context, identity uuid.UUID, fn func(ctx context.Context)) {
	r.begin(identity)
	r.enqueue(recordJob{identity: identity, run: fn, ctx: context.WithoutCancel(ctx)})
}

// Then queues fn behind the jobs already submitted for identity without making Wait
// block on it.
func (r *recorder) Then(ctx context.Context, identity uuid.UUID, fn func(ctx context.Context)) {
	r.enqueue(recordJob{identity: identity, run: fn, ctx: context.WithoutCancel(ctx), untracked: true})
}

func (r *recorder) enqueue(job recordJob) {
	r.mu.RLock()
	if !r.closed {
		select {
		case r.shards[r.shard(job.identity)] <- job:
			r.mu.RUnlock()
			return
		default:
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{"identity_id": job.identity}).Warn("recorder: queue full; running inline")
			}
		}
	}
	r.mu.RUnlock()
	r.exec(job)
}

// Wait blocks until every job submitted for identity so far has finished, or ctx ends.
func (r *recorder) Wait(ctx context.Context, identity uuid.UUID) error {
	r.pmu.Lock()
	p := r.pending[identity]
	r.pmu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting queued work and drains what is queued.
func (r *recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for _, ch := range r.shards {
			close(ch)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recorder) begin(identity uuid.UUID) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p := r.pending[identity]
	if p == nil {
		p = &pendingRecords{done: make(chan struct{})}
		r.pending[identity] = p
	}
	p.n++
}

func (r *recorder) finish(identity uuid.UUID) {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	p := r.pending[identity]
	if p == nil {
		return
	}
	p.n--
	if p.n <= 0 {
		close(p.done)
		delete(r.pending, identity)
	}
}

func (r *recorder) shard(identity uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(identity[:])
	return int(h.Sum32() % uint32(len(r.shards)))
}
