package engine

import (
	"math/rand"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// Dispatcher is the process-wide scheduler from spec §4.5: a FIFO (or, in
// --shuffle mode, uniform-random) queue of Jobs, one at a time bound to the
// full worker pool via a single shared WorkSet. This generalizes
// miner/worker.go's single mutex-guarded "current sealing task" model
// (newWorkLoop / taskCh) from one geth-style block-building loop to an
// explicit, externally-driven Job queue.
type Dispatcher struct {
	workset *WorkSet
	log     vlog.Logger
	shuffle bool
	rng     *rand.Rand

	mu           sync.Mutex
	cond         *sync.Cond
	queue        []*Job
	queuedHashes mapset.Set // fast-path existence check for Cancel, mirroring miner/worker.go's mapset.Set bookkeeping
	active       *Job
	quit         bool
}

// NewDispatcher builds a dispatcher around workset. When shuffle is true,
// job activation order is drawn from rng (spec §4.5, "--shuffle mode");
// pass a seeded rng for deterministic tests (spec §8 scenario 5), or
// rand.New(rand.NewSource(time.Now().UnixNano())) in production.
func NewDispatcher(workset *WorkSet, shuffle bool, rng *rand.Rand, log vlog.Logger) *Dispatcher {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	d := &Dispatcher{
		workset:      workset,
		log:          log.New("component", "dispatcher"),
		shuffle:      shuffle,
		rng:          rng,
		queuedHashes: mapset.NewSet(),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Submit enqueues a Job FIFO and returns it immediately; the caller awaits
// completion via job.Done()/job.Outcome(), which serves as the Future from
// spec §4.5's submit(hash, threshold) -> Future<Nonce | Cancelled>.
func (d *Dispatcher) Submit(hash [32]byte, threshold uint64) *Job {
	job := NewJob(hash, threshold)
	d.mu.Lock()
	d.queue = append(d.queue, job)
	d.queuedHashes.Add(hash)
	d.mu.Unlock()
	d.cond.Signal()
	d.log.Debug("job queued", "job", job.ID(), "queue_size", d.queueSize())
	return job
}

// Cancel cancels the first queued or active Job whose hash matches,
// per spec §4.5/§9: at most one match, earliest first, duplicates beyond
// the first are left untouched.
func (d *Dispatcher) Cancel(hash [32]byte) bool {
	d.mu.Lock()
	// queuedHashes lets a miss on a hash with nothing queued skip the scan
	// entirely; a hit still needs the ordered walk below to find the
	// earliest match and preserve the other queued entries' order.
	if d.queuedHashes.Contains(hash) {
		for i, j := range d.queue {
			if j.Hash == hash {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
				if !d.queueHasHash(hash) {
					d.queuedHashes.Remove(hash)
				}
				d.mu.Unlock()
				// No worker was ever bound to a queued Job; it resolves
				// Cancelled synchronously (spec §5).
				j.Cancel()
				return true
			}
		}
	}
	active := d.active
	hit := active != nil && active.Hash == hash
	if hit {
		// Clear it here rather than waiting for loop() to notice Run
		// returning, so Status reports idle as soon as the Job resolves.
		d.active = nil
	}
	d.mu.Unlock()
	if hit {
		active.Cancel()
		return true
	}
	return false
}

// queueHasHash reports whether any remaining queued Job still carries hash;
// called with d.mu held, after a match has already been removed, to decide
// whether queuedHashes should drop the entry (duplicate hashes queued
// concurrently, spec §9, must keep the set accurate for the survivors).
func (d *Dispatcher) queueHasHash(hash [32]byte) bool {
	for _, j := range d.queue {
		if j.Hash == hash {
			return true
		}
	}
	return false
}

// Status reports whether a Job is active and how many are queued behind it
// (spec §4.5/§6): generating=1 iff a Job is active, queue_size excludes it.
func (d *Dispatcher) Status() (generating bool, queueSize int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil, len(d.queue)
}

func (d *Dispatcher) queueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Benchmark runs count sequential Jobs against hash, summing wall-clock
// time, per spec §4.5's benchmark(threshold, count). It aborts and returns
// what it has on the first failing Job (spec §7 propagation policy).
func (d *Dispatcher) Benchmark(hash [32]byte, threshold uint64, count int) (averageMs, durationMs int64, err error) {
	if count <= 0 {
		return 0, 0, nil
	}
	start := time.Now()
	for i := 0; i < count; i++ {
		job := d.Submit(hash, threshold)
		<-job.Done()
		if _, err := job.Outcome(); err != nil {
			return 0, time.Since(start).Milliseconds(), err
		}
	}
	dur := time.Since(start).Milliseconds()
	return dur / int64(count), dur, nil
}

// Stop drains the dispatcher: the loop goroutine keeps activating the Jobs
// already queued, one at a time, and exits once the queue is empty and the
// last WorkSet.Run has returned. Stop does not wait for that, and it does
// not cancel the currently active Job - callers that want that call
// Cancel first. This backs the graceful-shutdown behavior added in
// SPEC_FULL.md §12.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.quit = true
	d.mu.Unlock()
	d.cond.Broadcast()
}

// loop is the single dispatcher goroutine from spec §4.5: dequeue head (or
// a uniformly random element in shuffle mode), run it to completion via the
// shared WorkSet, publish the outcome (implicitly, via Job.Done/Outcome),
// repeat.
func (d *Dispatcher) loop() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.quit {
			d.cond.Wait()
		}
		if d.quit && len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		idx := 0
		if d.shuffle {
			idx = d.rng.Intn(len(d.queue))
		}
		job := d.queue[idx]
		d.queue = append(d.queue[:idx], d.queue[idx+1:]...)
		if !d.queueHasHash(job.Hash) {
			d.queuedHashes.Remove(job.Hash)
		}
		d.active = job
		d.mu.Unlock()

		d.log.Debug("job activated", "job", job.ID())
		if _, err := d.workset.Run(job); err != nil {
			d.log.Debug("job ended without a solution", "job", job.ID(), "reason", err)
		} else {
			d.log.Debug("job completed", "job", job.ID())
		}

		d.mu.Lock()
		d.active = nil
		d.mu.Unlock()
	}
}
