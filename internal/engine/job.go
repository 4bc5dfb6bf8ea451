// Package engine implements the PoW work-generation engine described in
// spec §2-§5: the Hasher is internal/powhash; this package owns the Job
// state machine, the CPU worker, the Work Set, and the Request Dispatcher.
//
// The concurrency idiom here is carried over from
// consensus/probeash/sealer.go's Seal/mine/remoteSealer trio: one goroutine
// per search unit, a shared abort channel, and a result channel the
// coordinator selects on alongside the external stop signal.
package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Error taxonomy from spec §7. BadRequest is handled entirely at the RPC
// boundary (internal/rpcserver) and never constructed here.
var (
	ErrCancelled       = errors.New("cancelled")
	ErrWorkerExhausted = errors.New("no available work peers")
	ErrDeviceInit      = errors.New("device initialization failed")
	ErrInvariant       = errors.New("internal invariant violation")
)

// JobState is the per-Job state machine from spec §4.6.
type JobState int32

const (
	StateQueued JobState = iota
	StateActive
	StateCompleted
	StateCancelled
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// solutionSlot is the single-writer result cell from spec §3/§8: the first
// compare-and-swap wins, every later attempt is silently discarded.
type solutionSlot struct {
	written int32
	nonce   uint64
}

func (s *solutionSlot) tryWrite(nonce uint64) bool {
	if atomic.CompareAndSwapInt32(&s.written, 0, 1) {
		atomic.StoreUint64(&s.nonce, nonce)
		return true
	}
	return false
}

func (s *solutionSlot) read() (uint64, bool) {
	if atomic.LoadInt32(&s.written) == 1 {
		return atomic.LoadUint64(&s.nonce), true
	}
	return 0, false
}

// cancelFlag is the monotonic one-way flag from spec §3/§5: it transitions
// false->true exactly once and is read without locking from every worker's
// hot loop.
type cancelFlag struct {
	flag int32
}

func (c *cancelFlag) set() bool {
	return atomic.CompareAndSwapInt32(&c.flag, 0, 1)
}

func (c *cancelFlag) isSet() bool {
	return atomic.LoadInt32(&c.flag) == 1
}

// Job is one work_generate invocation from acceptance to resolution
// (spec §3, §4.6). The hash and threshold are set once at creation and
// read-only afterwards; cancel and solution are the only fields mutated
// concurrently by workers.
type Job struct {
	id        string
	Hash      [32]byte
	Threshold uint64

	cancel   cancelFlag
	solution solutionSlot

	mu    sync.Mutex
	state JobState
	done  chan struct{}
	once  sync.Once
}

// NewJob constructs a Queued job for hash/threshold. The id is used only
// for log correlation (internal/vlog), never on the wire - the wire
// protocol keys jobs by hash per spec §6.
func NewJob(hash [32]byte, threshold uint64) *Job {
	return &Job{
		id:        uuid.NewString(),
		Hash:      hash,
		Threshold: threshold,
		state:     StateQueued,
		done:      make(chan struct{}),
	}
}

// ID returns the job's internal correlation id (not part of the wire protocol).
func (j *Job) ID() string { return j.id }

func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// markActive transitions Queued -> Active when the dispatcher picks the job.
func (j *Job) markActive() {
	j.mu.Lock()
	if j.state == StateQueued {
		j.state = StateActive
	}
	j.mu.Unlock()
}

// complete is called by a worker that believes it found a valid nonce. It
// is the Job's linearization point (spec §5): the first caller to win the
// CAS is the published result; it also sets the cancel flag so peers stop.
func (j *Job) complete(nonce uint64) (won bool) {
	if !j.solution.tryWrite(nonce) {
		return false
	}
	j.cancel.set()
	j.mu.Lock()
	if j.state == StateQueued || j.state == StateActive {
		j.state = StateCompleted
	}
	j.mu.Unlock()
	j.once.Do(func() { close(j.done) })
	return true
}

// Cancel requests termination of the Job. It is idempotent and safe to call
// whether the Job is queued or active; a queued Job resolves Cancelled
// synchronously (spec §5) since no worker is touching it yet.
func (j *Job) Cancel() {
	j.cancel.set()
	j.mu.Lock()
	if j.state == StateQueued || j.state == StateActive {
		j.state = StateCancelled
	}
	j.mu.Unlock()
	// once guards against a worker's complete() racing this close; whichever
	// of the two calls j.once.Do first wins, the other is a no-op.
	j.once.Do(func() { close(j.done) })
}

// fail transitions an Active job to Failed, used only when every bound
// worker has errored out before a solution (WorkerExhausted, spec §4.3/§7).
func (j *Job) fail() {
	j.mu.Lock()
	if j.state == StateActive {
		j.state = StateFailed
	}
	j.mu.Unlock()
	j.once.Do(func() { close(j.done) })
}

// Done returns a channel closed exactly once, when the Job reaches a
// terminal state. Waiting on it is the "efficient signal, not a busy poll"
// required by spec §4.4 step 3.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancelled reports whether the Job's cancel flag has been observed set.
// Exported so out-of-package workers (internal/gpuworker) can poll it
// between kernel batches the way CPUWorker polls it every K iterations.
func (j *Job) Cancelled() bool {
	return j.cancel.isSet()
}

// Propose attempts to publish nonce as the Job's solution. It reports
// whether this call was the winning compare-and-swap, exactly like the
// unexported complete() that CPUWorker (same package) calls directly.
func (j *Job) Propose(nonce uint64) bool {
	return j.complete(nonce)
}

// Outcome reports the Job's terminal nonce, or the reason it produced none.
// Must only be called after Done() is closed.
func (j *Job) Outcome() (nonce uint64, err error) {
	if n, ok := j.solution.read(); ok {
		return n, nil
	}
	switch j.State() {
	case StateCancelled:
		return 0, ErrCancelled
	case StateFailed:
		return 0, ErrWorkerExhausted
	default:
		return 0, ErrInvariant
	}
}
