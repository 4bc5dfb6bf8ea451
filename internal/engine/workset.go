package engine

import (
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// WorkSet is the per-Job coordinator from spec §4.4: it binds every
// configured worker to one Job, waits for either a published solution or
// an external cancel, then tears the binding down. This is the Go analogue
// of consensus/probeash/sealer.go's Seal/mine goroutine-and-channel dance,
// generalized from "one block" to "one Job" and from a single probeash
// hashing routine to a heterogeneous CPU+GPU worker set.
type WorkSet struct {
	workers []WorkerHandle
	log     vlog.Logger
}

// NewWorkSet builds a WorkSet over the full configured worker pool. The
// same WorkSet is reused across every Job the dispatcher activates - only
// the bound Job changes (spec "Worker lifecycle").
func NewWorkSet(workers []WorkerHandle, log vlog.Logger) *WorkSet {
	return &WorkSet{workers: workers, log: log}
}

// Run executes job to completion across every worker and returns its
// outcome. Run never returns until every worker has been joined (spec §4.4
// post-condition: "no worker is still touching the Job's state").
func (ws *WorkSet) Run(job *Job) (uint64, error) {
	job.markActive()
	if len(ws.workers) == 0 {
		job.fail()
		return 0, ErrWorkerExhausted
	}

	for _, w := range ws.workers {
		w.Start(job)
	}

	// allDone closes once every worker's goroutine has returned, whether by
	// finding a solution, erroring out, or being interrupted. This is what
	// lets Run notice "every worker errored/returned without a solution"
	// (spec §4.3/§7's WorkerExhausted) instead of blocking on job.Done()
	// forever, since a worker that merely returns from run()/search() never
	// touches the Job's done channel itself.
	allDone := make(chan struct{})
	go func() {
		for _, w := range ws.workers {
			w.Join()
		}
		close(allDone)
	}()

	// Block until either a worker writes the solution slot, an external
	// cancel closes job.Done(), or every worker has returned with nothing -
	// the condition-variable-equivalent signal required by spec §4.4 step 3.
	// No busy polling.
	select {
	case <-job.Done():
	case <-allDone:
		// job.fail() is a no-op if job.Done() already closed concurrently
		// (complete() or Cancel() already resolved it); Job.once guards the
		// double-close either way.
		job.fail()
	}

	// Whichever event fired, every worker must now be told to stop (cancel
	// is idempotent - set() is a no-op if a worker's complete() already set
	// it) and joined before we return, satisfying the post-condition.
	job.cancel.set()
	for _, w := range ws.workers {
		w.Interrupt()
	}
	<-allDone

	return job.Outcome()
}
