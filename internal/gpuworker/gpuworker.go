// Package gpuworker implements the OpenCL GPU search unit from spec §4.3.
// It treats the OpenCL runtime exactly as spec §9 describes: an opaque
// execution engine providing "launch kernel with these parameters, wait,
// read output" via github.com/rajveermalviya/go-opencl/cl, the most widely
// used maintained cgo OpenCL binding in the Go ecosystem (no example repo
// in the retrieval pack carries a Go OpenCL binding to ground this against,
// per SPEC_FULL.md §11).
//
// The host loop mirrors consensus/probeash/sealer.go's remoteSealer: a
// persistent worker with device state that survives across Jobs, allocated
// once (expensive OpenCL setup, spec "Worker lifecycle") and rebound to a
// new Job for each batch loop.
package gpuworker

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"github.com/rajveermalviya/go-opencl/cl"

	"github.com/JeanOUINA/vite-work-server/internal/engine"
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

// DefaultLocalWorkSize is spec §4.3's default L.
const DefaultLocalWorkSize = 1024

// defaultGlobalWorkSize is the default W: tuned so a batch completes in
// tens of milliseconds on a mid-range device, bounding cancellation
// latency per spec §4.3/§9.
const defaultGlobalWorkSize = 1 << 20

// Worker is one OpenCL device bound to the dispatcher's worker pool.
// Device binding is immutable for its lifetime (spec §4.3): Platform,
// Device and LocalWorkSize are fixed at NewWorker and never change.
type Worker struct {
	Platform       int
	Device         int
	LocalWorkSize  uint64
	GlobalWorkSize uint64
	Log            vlog.Logger

	ctx     *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program
	kernel  *cl.Kernel
	hashBuf *cl.MemObject
	outBuf  *cl.MemObject

	rng *rand.Rand

	mu          sync.Mutex
	interruptCh chan struct{}
	doneCh      chan struct{}
}

// NewWorker creates the OpenCL context, compiles the kernel, and allocates
// the device buffers once. A failure here is fatal to the process (spec
// §4.3: "a failure creating the context or kernel at startup is fatal").
func NewWorker(platformIdx, deviceIdx int, localWorkSize uint64, log vlog.Logger) (*Worker, error) {
	if localWorkSize == 0 {
		localWorkSize = DefaultLocalWorkSize
	}
	log = log.New("worker", "gpu", "platform", platformIdx, "device", deviceIdx)

	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("%w: listing OpenCL platforms: %v", engine.ErrDeviceInit, err)
	}
	if platformIdx < 0 || platformIdx >= len(platforms) {
		return nil, fmt.Errorf("%w: platform index %d out of range (have %d)", engine.ErrDeviceInit, platformIdx, len(platforms))
	}
	devices, err := platforms[platformIdx].GetDevices(cl.DeviceTypeAll)
	if err != nil {
		return nil, fmt.Errorf("%w: listing OpenCL devices: %v", engine.ErrDeviceInit, err)
	}
	if deviceIdx < 0 || deviceIdx >= len(devices) {
		return nil, fmt.Errorf("%w: device index %d out of range (have %d)", engine.ErrDeviceInit, deviceIdx, len(devices))
	}
	device := devices[deviceIdx]

	ctx, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("%w: creating OpenCL context: %v", engine.ErrDeviceInit, err)
	}
	queue, err := ctx.CreateCommandQueue(device, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: creating command queue: %v", engine.ErrDeviceInit, err)
	}
	program, err := ctx.CreateProgramWithSource([]string{kernelSource})
	if err != nil {
		return nil, fmt.Errorf("%w: creating program: %v", engine.ErrDeviceInit, err)
	}
	if err := program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		return nil, fmt.Errorf("%w: building kernel: %v", engine.ErrDeviceInit, err)
	}
	kernel, err := program.CreateKernel("search")
	if err != nil {
		return nil, fmt.Errorf("%w: creating kernel: %v", engine.ErrDeviceInit, err)
	}
	hashBuf, err := ctx.CreateEmptyBuffer(cl.MemReadOnly, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating hash buffer: %v", engine.ErrDeviceInit, err)
	}
	outBuf, err := ctx.CreateEmptyBuffer(cl.MemReadWrite, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating output buffer: %v", engine.ErrDeviceInit, err)
	}

	return &Worker{
		Platform:       platformIdx,
		Device:         deviceIdx,
		LocalWorkSize:  localWorkSize,
		GlobalWorkSize: defaultGlobalWorkSize,
		Log:            log,
		ctx:            ctx,
		queue:          queue,
		program:        program,
		kernel:         kernel,
		hashBuf:        hashBuf,
		outBuf:         outBuf,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (w *Worker) Start(job *engine.Job) {
	interruptCh := make(chan struct{})
	done := make(chan struct{})

	w.mu.Lock()
	w.interruptCh = interruptCh
	w.doneCh = done
	w.mu.Unlock()

	go w.run(job, interruptCh, done)
}

func (w *Worker) Interrupt() {
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

func (w *Worker) Join() {
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// run is the host batch loop from spec §4.3: write the hash once, then
// repeatedly zero the output slot, launch with a fresh base nonce, wait,
// and read back. Between batches it polls job.Cancelled() (the GPU
// equivalent of the CPU worker's every-K-iterations check).
func (w *Worker) run(job *engine.Job, interruptCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	hash := job.Hash
	if _, err := w.queue.EnqueueWriteBuffer(w.hashBuf, true, 0, 32, unsafe.Pointer(&hash[0]), nil); err != nil {
		w.Log.Error("failed to upload hash, skipping job for this worker", "err", err, "job", job.ID())
		return
	}

	base := w.rng.Uint64()
	zero := make([]byte, 8)

	for {
		select {
		case <-interruptCh:
			return
		default:
		}
		if job.Cancelled() {
			return
		}

		if _, err := w.queue.EnqueueWriteBuffer(w.outBuf, true, 0, 8, unsafe.Pointer(&zero[0]), nil); err != nil {
			w.Log.Error("failed to zero output buffer, worker skipping remainder of job", "err", err, "job", job.ID())
			return
		}

		if err := w.kernel.SetArgs(w.hashBuf, job.Threshold, base, w.outBuf); err != nil {
			w.Log.Error("failed to set kernel arguments", "err", err, "job", job.ID())
			return
		}

		global := []int{int(w.GlobalWorkSize)}
		local := []int{int(w.LocalWorkSize)}
		event, err := w.queue.EnqueueNDRangeKernel(w.kernel, nil, global, local, nil)
		if err != nil {
			w.Log.Error("failed to launch kernel, worker skipping remainder of job", "err", err, "job", job.ID())
			return
		}
		cl.WaitForEvents([]*cl.Event{event})

		out := make([]byte, 8)
		if _, err := w.queue.EnqueueReadBuffer(w.outBuf, true, 0, 8, unsafe.Pointer(&out[0]), nil); err != nil {
			w.Log.Error("failed to read output buffer, worker skipping remainder of job", "err", err, "job", job.ID())
			return
		}
		nonce := binary.LittleEndian.Uint64(out)
		if nonce != 0 {
			if job.Propose(nonce) {
				w.Log.Trace("nonce found", "nonce", nonce, "job", job.ID())
			}
			return
		}

		base += w.GlobalWorkSize
	}
}

// Close releases the worker's device resources. Called once at process
// shutdown; never mid-Job.
func (w *Worker) Close() {
	w.kernel.Release()
	w.program.Release()
	w.hashBuf.Release()
	w.outBuf.Release()
	w.queue.Release()
	w.ctx.Release()
}
