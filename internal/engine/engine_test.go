package engine

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/JeanOUINA/vite-work-server/internal/powhash"
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// blockingWorker is a test WorkerHandle that only resolves a Job when told
// to, letting tests hold a Job Active for as long as they need to observe
// dispatcher state (status, queueing, cancellation) without racing a real
// search loop. Join mirrors the real WorkerHandle contract - it blocks until
// Interrupt is called - rather than returning immediately, so WorkSet.Run's
// all-workers-done race never fires before the test's own resolution does.
type blockingWorker struct {
	startedCh chan *Job

	mu          sync.Mutex
	interruptCh chan struct{}
}

func newBlockingWorker() *blockingWorker {
	return &blockingWorker{startedCh: make(chan *Job, 8)}
}

func (w *blockingWorker) Start(job *Job) {
	w.mu.Lock()
	w.interruptCh = make(chan struct{})
	w.mu.Unlock()
	w.startedCh <- job
}

func (w *blockingWorker) Interrupt() {
	w.mu.Lock()
	ch := w.interruptCh
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (w *blockingWorker) Join() {
	w.mu.Lock()
	ch := w.interruptCh
	w.mu.Unlock()
	if ch == nil {
		return
	}
	<-ch
}

// erroringWorker simulates a worker that returns from its search loop
// without ever proposing a solution, the way CPUWorker.search does on a
// crypto/rand failure or gpuworker.Worker.run does on any OpenCL error.
type erroringWorker struct {
	done chan struct{}
}

func (w *erroringWorker) Start(job *Job) {
	w.done = make(chan struct{})
	close(w.done)
}
func (w *erroringWorker) Interrupt() {}
func (w *erroringWorker) Join()      { <-w.done }

// TestWorkSetAllWorkersErrorIsExhausted guards against Run blocking forever
// when every bound worker returns without a solution and without an
// external cancel: the Job must still resolve WorkerExhausted (spec
// §4.3/§4.6/§7).
func TestWorkSetAllWorkersErrorIsExhausted(t *testing.T) {
	ws := NewWorkSet([]WorkerHandle{&erroringWorker{}, &erroringWorker{}}, noopLogger{})
	job := NewJob([32]byte{}, 0)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = ws.Run(job)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after every worker errored out")
	}
	if err != ErrWorkerExhausted {
		t.Fatalf("err = %v, want ErrWorkerExhausted", err)
	}
	if job.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", job.State())
	}
}

func TestJobCompletesViaCPUWorker(t *testing.T) {
	worker := NewCPUWorker(0, 1, noopLogger{})
	ws := NewWorkSet([]WorkerHandle{worker}, noopLogger{})

	job := NewJob([32]byte{}, 0) // threshold 0 accepts the first attempt
	nonce, err := ws.Run(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := powhash.Meets(job.Hash, nonce, job.Threshold); !ok {
		t.Fatalf("returned nonce does not validate")
	}
	if job.State() != StateCompleted {
		t.Fatalf("state = %v, want Completed", job.State())
	}
}

func TestWorkSetNoWorkersIsExhausted(t *testing.T) {
	ws := NewWorkSet(nil, noopLogger{})
	job := NewJob([32]byte{}, 0)
	_, err := ws.Run(job)
	if err != ErrWorkerExhausted {
		t.Fatalf("err = %v, want ErrWorkerExhausted", err)
	}
	if job.State() != StateFailed {
		t.Fatalf("state = %v, want Failed", job.State())
	}
}

func TestSolutionSlotWinsOnce(t *testing.T) {
	job := NewJob([32]byte{}, 0)
	if !job.Propose(42) {
		t.Fatalf("first proposal should win")
	}
	if job.Propose(43) {
		t.Fatalf("second proposal must not win")
	}
	nonce, err := job.Outcome()
	if err != nil || nonce != 42 {
		t.Fatalf("outcome = (%d, %v), want (42, nil)", nonce, err)
	}
}

func TestCancelQueuedJobResolvesSynchronously(t *testing.T) {
	blocker := newBlockingWorker()
	ws := NewWorkSet([]WorkerHandle{blocker}, noopLogger{})
	d := NewDispatcher(ws, false, rand.New(rand.NewSource(1)), noopLogger{})
	defer d.Stop()

	var activeHash, queuedHash [32]byte
	activeHash[0] = 1
	queuedHash[0] = 2

	active := d.Submit(activeHash, 0)
	<-blocker.startedCh // wait until the dispatcher has bound it active

	queued := d.Submit(queuedHash, 0)

	if ok := d.Cancel(queuedHash); !ok {
		t.Fatalf("cancel of queued job should report true")
	}
	select {
	case <-queued.Done():
	case <-time.After(time.Second):
		t.Fatalf("queued job was not resolved")
	}
	if _, err := queued.Outcome(); err != ErrCancelled {
		t.Fatalf("queued outcome = %v, want ErrCancelled", err)
	}

	// Unblock the active job so the dispatcher loop (and its goroutine)
	// can exit cleanly at test end.
	active.complete(99)
}

func TestStatusReflectsActiveAndQueued(t *testing.T) {
	blocker := newBlockingWorker()
	ws := NewWorkSet([]WorkerHandle{blocker}, noopLogger{})
	d := NewDispatcher(ws, false, rand.New(rand.NewSource(1)), noopLogger{})
	defer d.Stop()

	var hashA, hashB [32]byte
	hashA[0], hashB[0] = 1, 2

	jobA := d.Submit(hashA, 0)
	<-blocker.startedCh
	d.Submit(hashB, 0)

	generating, queueSize := d.Status()
	if !generating || queueSize != 1 {
		t.Fatalf("status = (%v, %d), want (true, 1)", generating, queueSize)
	}

	jobA.complete(1)
}

func TestDispatcherCancelActiveJob(t *testing.T) {
	blocker := newBlockingWorker()
	ws := NewWorkSet([]WorkerHandle{blocker}, noopLogger{})
	d := NewDispatcher(ws, false, rand.New(rand.NewSource(1)), noopLogger{})
	defer d.Stop()

	var hash [32]byte
	hash[0] = 7
	job := d.Submit(hash, 0)
	<-blocker.startedCh

	if ok := d.Cancel(hash); !ok {
		t.Fatalf("expected cancel to find the active job")
	}
	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatalf("active job was not resolved after cancel")
	}
	if _, err := job.Outcome(); err != ErrCancelled {
		t.Fatalf("outcome = %v, want ErrCancelled", err)
	}

	generating, _ := d.Status()
	if generating {
		t.Fatalf("expected no job active after cancel resolves")
	}
}

func TestShuffleModeFollowsSeededSequence(t *testing.T) {
	blocker := newBlockingWorker()
	ws := NewWorkSet([]WorkerHandle{blocker}, noopLogger{})
	// rand.New(rand.NewSource(42)).Intn(2) on the first draw of a 2-element
	// queue is deterministic for a given Go version; we only assert that
	// activation order is *some* fixed permutation of the two hashes
	// reproducible across two independently seeded dispatchers, which is
	// the externally observable property spec §8 scenario 5 asks for.
	var hashA, hashB [32]byte
	hashA[0], hashB[0] = 1, 2

	d := NewDispatcher(ws, true, rand.New(rand.NewSource(42)), noopLogger{})
	defer d.Stop()

	d.Submit(hashA, 0)
	d.Submit(hashB, 0)

	first := <-blocker.startedCh
	firstHash := first.Hash

	// Re-run with the same seed and same submission order; activation
	// order must match.
	blocker2 := newBlockingWorker()
	ws2 := NewWorkSet([]WorkerHandle{blocker2}, noopLogger{})
	d2 := NewDispatcher(ws2, true, rand.New(rand.NewSource(42)), noopLogger{})
	defer d2.Stop()

	d2.Submit(hashA, 0)
	d2.Submit(hashB, 0)
	second := <-blocker2.startedCh

	if firstHash != second.Hash {
		t.Fatalf("same seed produced different activation order: %x != %x", firstHash, second.Hash)
	}

	first.complete(1)
	second.complete(1)
}

func TestBenchmarkZeroCount(t *testing.T) {
	worker := NewCPUWorker(0, 1, noopLogger{})
	ws := NewWorkSet([]WorkerHandle{worker}, noopLogger{})
	d := NewDispatcher(ws, false, rand.New(rand.NewSource(1)), noopLogger{})
	defer d.Stop()

	avg, dur, err := d.Benchmark([32]byte{}, 0, 0)
	if err != nil || avg != 0 || dur != 0 {
		t.Fatalf("benchmark(count=0) = (%d, %d, %v), want (0, 0, nil)", avg, dur, err)
	}
}

func TestBenchmarkSequentialCount(t *testing.T) {
	worker := NewCPUWorker(0, 1, noopLogger{})
	ws := NewWorkSet([]WorkerHandle{worker}, noopLogger{})
	d := NewDispatcher(ws, false, rand.New(rand.NewSource(1)), noopLogger{})
	defer d.Stop()

	avg, dur, err := d.Benchmark([32]byte{}, 0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur < 0 || avg != dur/3 {
		t.Fatalf("average (%d) != duration/count (%d)", avg, dur/3)
	}
}

// noopLogger discards everything; engine tests don't assert on log output.
type noopLogger struct{}

func (noopLogger) New(ctx ...interface{}) vlog.Logger         { return noopLogger{} }
func (noopLogger) Trace(msg string, ctx ...interface{})       {}
func (noopLogger) Debug(msg string, ctx ...interface{})       {}
func (noopLogger) Info(msg string, ctx ...interface{})        {}
func (noopLogger) Warn(msg string, ctx ...interface{})        {}
func (noopLogger) Error(msg string, ctx ...interface{})       {}
func (noopLogger) Crit(msg string, ctx ...interface{})        {}
