package engine

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/JeanOUINA/vite-work-server/internal/powhash"
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// cancelCheckInterval is K from spec §4.2: large enough that the flag check
// is not on the hot path, small enough that cancellation latency stays
// bounded to a few million attempts.
const cancelCheckInterval = 2048

// WorkerHandle is the contract every search unit (CPU or GPU) implements,
// per spec §3's WorkerHandle entity and §4.2/§4.3's Start/Interrupt/Join
// contract.
type WorkerHandle interface {
	// Start begins searching job in a new goroutine; it does not block.
	Start(job *Job)
	// Interrupt requests termination of the current search. Idempotent.
	Interrupt()
	// Join blocks until the worker has returned to idle.
	Join()
}

// CPUWorker scans a strided slice of the nonce space with a dedicated OS
// thread's worth of goroutine, mirroring the per-thread goroutines
// consensus/probeash/sealer.go's Seal spawns around mine(). Unlike the
// teacher, instances here are long-lived across Jobs (spec "Worker
// lifecycle": amortize thread spawn cost) and bound to a new Job by Start.
type CPUWorker struct {
	Index  int    // 0-based position among CPU workers, used as the stride offset
	Stride uint64 // equal to the CPU worker count, per spec §4.2
	Log    vlog.Logger

	mu          sync.Mutex
	interruptCh chan struct{}
	doneCh      chan struct{}
}

// NewCPUWorker constructs a worker at position index of stride total CPU
// workers.
func NewCPUWorker(index int, stride uint64, log vlog.Logger) *CPUWorker {
	return &CPUWorker{
		Index:  index,
		Stride: stride,
		Log:    log.New("worker", "cpu", "index", index),
	}
}

func (w *CPUWorker) Start(job *Job) {
	interruptCh := make(chan struct{})
	done := make(chan struct{})

	w.mu.Lock()
	w.interruptCh = interruptCh
	w.doneCh = done
	w.mu.Unlock()

	go w.search(job, interruptCh, done)
}

func (w *CPUWorker) Interrupt() {
	w.mu.Lock()
	ch := w.interruptCh
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
		// already interrupted
	default:
		close(ch)
	}
}

func (w *CPUWorker) Join() {
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// search is the hot loop. It seeds a random starting nonce (spec §4.2:
// "cryptographically adequate random source"), then strides by the CPU
// worker count. Each worker draws its own random start, so the strided
// sequences of peer threads are not coordinated and overlap is unlikely
// rather than ruled out.
func (w *CPUWorker) search(job *Job, interruptCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	var seedBuf [8]byte
	if _, err := rand.Read(seedBuf[:]); err != nil {
		// A broken crypto/rand is fatal to this worker only, never to the
		// process; the dispatcher simply has one fewer worker until the
		// next Job (spec §4.2 Failure modes).
		w.Log.Error("failed to seed nonce search, worker exiting this job", "err", err)
		return
	}
	nonce := binary.LittleEndian.Uint64(seedBuf[:]) + uint64(w.Index)
	stride := w.Stride
	if stride == 0 {
		stride = 1
	}

	attempts := uint64(0)
	for {
		select {
		case <-interruptCh:
			return
		default:
		}
		if attempts%cancelCheckInterval == 0 && job.cancel.isSet() {
			return
		}
		if ok, _ := powhash.Meets(job.Hash, nonce, job.Threshold); ok {
			if job.complete(nonce) {
				w.Log.Trace("nonce found", "nonce", nonce, "job", job.ID())
			}
			return
		}
		nonce += stride
		attempts++
	}
}
