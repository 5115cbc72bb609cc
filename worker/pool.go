package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// retentionBatch bounds how many terminal jobs one janitor sweep deletes.
const retentionBatch = 1000

// QueueManager gates execution per queue. The pool calls Acquire after
// claiming a job and Release when the attempt finishes; a claimed job
// that cannot acquire its slot waits under its lease (heartbeats keep
// the lease alive) until the queue lets it through.
type QueueManager interface {
	// Acquire reports whether a job from the queue may start now.
	Acquire(queue string) bool
	// Release returns the queue slot after execution.
	Release(queue string)
}

// Pool manages a set of concurrent claim loops that pull eligible jobs
// from the store and execute them through the Executor, plus the
// maintenance loops: heartbeat (lease extension), reaper (expired-lease
// reclaim), and janitor (terminal-job retention).
type Pool struct {
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	logger   *slog.Logger
	workerID id.WorkerID

	concurrency  int
	queues       []string
	pollInterval time.Duration
	lease        time.Duration

	heartbeatInterval time.Duration
	reclaimInterval   time.Duration

	retentionPeriod   time.Duration
	retentionInterval time.Duration
	retainDead        bool

	queueManager QueueManager

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent claim loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will claim from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle loop sleeps between empty claims.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets how long each claim holds a job before it is
// eligible for reclaim.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.lease = d }
}

// WithHeartbeatInterval sets how often in-flight jobs extend their
// lease. Must be shorter than the lease duration. Zero disables
// heartbeats; slow jobs then survive only one lease window.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReclaimInterval sets how often expired leases are swept back into
// eligibility. Zero disables the reaper in this pool (another process
// may run it).
func WithReclaimInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reclaimInterval = d }
}

// WithRetention enables janitor sweeps deleting succeeded jobs older
// than period, checked every sweepEvery. includeDead extends the sweep
// to the dead letter queue.
func WithRetention(period, sweepEvery time.Duration, includeDead bool) PoolOption {
	return func(p *Pool) {
		p.retentionPeriod = period
		p.retentionInterval = sweepEvery
		p.retainDead = !includeDead
	}
}

// WithQueueManager sets the per-queue rate limiting and concurrency gate.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		executor:          executor,
		hooks:             hooks,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		concurrency:       4,
		queues:            []string{"default"},
		pollInterval:      time.Second,
		lease:             30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		reclaimInterval:   15 * time.Second,
		retentionInterval: 5 * time.Minute,
		stopCh:            make(chan struct{}),
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier. All claims made
// by this pool carry it as the lease holder.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim loops and maintenance loops. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
		slog.Duration("lease", p.lease),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.reclaimInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	if p.retentionPeriod > 0 {
		p.wg.Add(1)
		go p.janitorLoop()
	}

	return nil
}

// Stop signals all loops to stop and waits for in-flight jobs to finish.
// If the context expires first, active job contexts are cancelled; their
// timeout outcomes still get reported, and anything left unreported is
// recovered by a later reclaim sweep.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine: claim, gate, execute,
// report, repeat.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.ClaimNext(context.Background(), p.workerID, p.queues, p.lease)
		if errors.Is(err, taskq.ErrNoJob) {
			p.sleep()
			continue
		}
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		p.process(j)
	}
}

// process runs one claimed job to its report. The job is tracked for the
// whole span, including the queue-gate wait, so heartbeats keep the
// lease alive throughout.
func (p *Pool) process(j *job.Job) {
	jctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	if p.queueManager != nil {
		if !p.waitForSlot(jctx, j.Queue) {
			// Shutdown or lease loss while throttled; the job returns
			// via the reclaim sweep.
			return
		}
		defer p.queueManager.Release(j.Queue)
	}

	p.hooks.EmitJobStarted(jctx, j)
	p.executor.Process(jctx, j, p.workerID)
}

// waitForSlot blocks until the queue admits the job, the pool stops, or
// the job context is cancelled (lease lost during the wait).
func (p *Pool) waitForSlot(ctx context.Context, queue string) bool {
	for !p.queueManager.Acquire(queue) {
		select {
		case <-p.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return true
}

// heartbeatLoop periodically extends the lease of every in-flight job.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		jobID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}

		err := p.store.ExtendLease(context.Background(), jobID, p.workerID, p.lease)
		if errors.Is(err, taskq.ErrLeaseLost) {
			// Another worker owns the job now. Stop burning cycles on an
			// attempt whose report will be dropped anyway.
			p.logger.Warn("heartbeat: lease lost, cancelling attempt",
				slog.String("job_id", jobIDStr))
			p.cancelJob(jobIDStr)
			continue
		}
		if err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()))
		}
	}
}

// reaperLoop periodically returns expired-lease jobs to eligibility.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.ReclaimExpired(context.Background(), time.Now().UTC())
			if err != nil {
				p.logger.Error("reclaim error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("reclaimed expired leases", slog.Int("count", n))
			}
		}
	}
}

// janitorLoop deletes old terminal jobs in bounded batches.
func (p *Pool) janitorLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.retentionInterval)
	defer ticker.Stop()

	states := []job.State{job.StateSucceeded}
	if !p.retainDead {
		states = append(states, job.StateDead)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-p.retentionPeriod)
			n, err := p.store.DeleteOlder(context.Background(), states, cutoff, retentionBatch)
			if err != nil {
				p.logger.Error("retention sweep error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("retention sweep deleted jobs", slog.Int("count", n))
			}
		}
	}
}

// sleep waits one poll interval with ±20% jitter so idle loops across
// workers do not hammer the store in lockstep.
func (p *Pool) sleep() {
	d := p.pollInterval
	if d > 0 {
		jitter := 0.8 + 0.4*rand.Float64() //nolint:gosec // scheduling jitter
		d = time.Duration(float64(d) * jitter)
	}
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelJob(jobID string) {
	p.activeMu.Lock()
	cancel := p.active[jobID]
	p.activeMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
