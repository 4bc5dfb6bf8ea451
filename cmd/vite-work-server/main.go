// Command vite-work-server runs the dedicated proof-of-work server
// described in spec.md: a multi-peer, multi-device nonce search engine
// exposed over a small JSON action-dispatch protocol on HTTP.
//
// Its flag wiring follows cmd/gprobe/config.go's pattern of building a
// gopkg.in/urfave/cli.v1 App with a flat flag list and a single Action,
// narrowed from a full node's dozens of subsystems down to the handful of
// flags spec §6 names.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/JeanOUINA/vite-work-server/internal/engine"
	"github.com/JeanOUINA/vite-work-server/internal/gpuworker"
	"github.com/JeanOUINA/vite-work-server/internal/rpcserver"
	"github.com/JeanOUINA/vite-work-server/internal/vlog"
)

var (
	cpuThreadsFlag = cli.IntFlag{
		Name:  "cpu-threads",
		Usage: "Number of CPU search workers to start",
		Value: 0,
	}
	gpuFlag = cli.StringSliceFlag{
		Name:  "gpu",
		Usage: "Add an OpenCL GPU worker as PLATFORM:DEVICE[:LOCAL_WORK_SIZE] (repeatable)",
	}
	listenAddressFlag = cli.StringFlag{
		Name:  "listen-address",
		Usage: "RPC bind address",
		Value: "127.0.0.1:7076",
	}
	shuffleFlag = cli.BoolFlag{
		Name:  "shuffle",
		Usage: "Randomize job activation order instead of FIFO",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value: 3,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "vite-work-server"
	app.Usage = "Vite proof-of-work generation server"
	app.Flags = []cli.Flag{
		cpuThreadsFlag,
		gpuFlag,
		listenAddressFlag,
		shuffleFlag,
		verbosityFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	vlog.SetLevel(vlog.Lvl(ctx.Int(verbosityFlag.Name)))
	log := vlog.Root()

	workers, closers, err := buildWorkers(ctx, log)
	if err != nil {
		// DeviceInitFailure is fatal to the process, per spec §4.3/§7.
		log.Crit("failed to initialize workers", "err", err)
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	shuffle := ctx.Bool(shuffleFlag.Name)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	workset := engine.NewWorkSet(workers, log)
	dispatcher := engine.NewDispatcher(workset, shuffle, rng, log)

	server := rpcserver.New(dispatcher, log)
	addr := ctx.String(listenAddressFlag.Name)
	httpServer := &http.Server{Addr: addr, Handler: server}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "cpu_workers", ctx.Int(cpuThreadsFlag.Name), "gpu_workers", len(ctx.StringSlice(gpuFlag.Name)), "shuffle", shuffle)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Crit("failed to bind listen address", "addr", addr, "err", err)
		return err
	case <-sigCh:
		log.Info("shutdown signal received, draining dispatcher")
	}

	dispatcher.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("error during HTTP shutdown", "err", err)
	}
	return nil
}

// buildWorkers constructs the CPU and GPU worker pool from --cpu-threads
// and --gpu, per spec §3 "Workers are created at startup from
// configuration". It returns cleanup closures for every GPU worker's
// device resources.
func buildWorkers(ctx *cli.Context, log vlog.Logger) ([]engine.WorkerHandle, []func(), error) {
	var workers []engine.WorkerHandle
	var closers []func()

	cpuThreads := ctx.Int(cpuThreadsFlag.Name)
	if cpuThreads > 0 {
		stride := uint64(cpuThreads)
		for i := 0; i < cpuThreads; i++ {
			workers = append(workers, engine.NewCPUWorker(i, stride, log))
		}
	}

	for _, spec := range ctx.StringSlice(gpuFlag.Name) {
		platform, device, localWorkSize, err := parseGPUSpec(spec)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --gpu value %q: %w", spec, err)
		}
		w, err := gpuworker.NewWorker(platform, device, localWorkSize, log)
		if err != nil {
			return nil, nil, err
		}
		workers = append(workers, w)
		closers = append(closers, w.Close)
	}

	if len(workers) == 0 {
		log.Warn("no CPU or GPU workers configured; every work_generate will fail with no available work peers")
	}
	return workers, closers, nil
}

// parseGPUSpec parses "PLATFORM:DEVICE[:LOCAL_WORK_SIZE]" per spec §6.
func parseGPUSpec(spec string) (platform, device int, localWorkSize uint64, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, errors.New("expected PLATFORM:DEVICE[:LOCAL_WORK_SIZE]")
	}
	platform, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid platform id: %w", err)
	}
	device, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid device id: %w", err)
	}
	if len(parts) == 3 {
		lws, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid local work size: %w", err)
		}
		localWorkSize = lws
	} else {
		localWorkSize = gpuworker.DefaultLocalWorkSize
	}
	return platform, device, localWorkSize, nil
}
