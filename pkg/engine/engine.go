package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/pojntfx/membench/pkg/affinity"
	"github.com/pojntfx/membench/pkg/bandwidth"
	"github.com/pojntfx/membench/pkg/config"
	"github.com/pojntfx/membench/pkg/flush"
	"github.com/pojntfx/membench/pkg/workspace"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrSetupFailed = errors.New("worker setup failed")

type Hooks struct {
	// BeforeSetup runs on the pinned worker thread before its workspace is
	// allocated. Returning an error fails that worker's setup.
	BeforeSetup func(coreID int) error

	// OnTeardown runs after a worker's workspace has been released.
	OnTeardown func(coreID int, err error)
}

type Result struct {
	Threads     int    `json:"threads"`
	Cores       []int  `json:"cores"`
	BufferSize  uint64 `json:"bufferSize"`
	AccessCount uint64 `json:"accessCount"`
	RepeatCount uint64 `json:"repeatCount"`
	AccessType  string `json:"accessType"`
	FlushSize   uint64 `json:"flushSize"`

	ElapsedSeconds        float64 `json:"elapsedSeconds"`
	TotalBytes            uint64  `json:"totalBytes"`
	BandwidthGiBPerSecond float64 `json:"bandwidthGiBPerSecond"`

	// Checksum is the sum of every value read during the measured phase.
	Checksum uint64 `json:"checksum"`
}

type Engine struct {
	cfg   config.Benchmark
	hooks *Hooks
	log   zerolog.Logger
}

func NewEngine(cfg config.Benchmark, hooks *Hooks, log zerolog.Logger) *Engine {
	if hooks == nil {
		hooks = &Hooks{}
	}

	return &Engine{
		cfg:   cfg,
		hooks: hooks,
		log:   log,
	}
}

// phases carries the barriers shared by the coordinator and the workers.
type phases struct {
	setup    sync.WaitGroup
	measured sync.WaitGroup

	// start is closed once all workers are set up; proceed is written
	// before the close and tells workers whether to measure or give up.
	start   chan struct{}
	proceed bool

	// release is closed after the end timestamp has been taken.
	release chan struct{}
}

type worker struct {
	coreID   int
	setupErr error
	sum      uint64
}

// Run executes one complete benchmark: pin and set up every worker, flush
// the caches, time the concurrent access loops and tear everything down.
// Workers that finished setup are always torn down, whatever fails later.
func (e *Engine) Run() (*Result, error) {
	cpus, err := affinity.AvailableCPUs()
	if err != nil {
		return nil, err
	}

	if err := e.cfg.Validate(len(cpus)); err != nil {
		return nil, err
	}

	cores, err := affinity.AssignCores(e.cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	if procs := runtime.GOMAXPROCS(0); procs < len(cores) {
		e.log.Warn().Int("gomaxprocs", procs).Int("threads", len(cores)).Msg("Fewer Ps than workers, workers will not run in parallel")
	}

	p := &phases{
		start:   make(chan struct{}),
		release: make(chan struct{}),
	}

	workers := make([]*worker, len(cores))
	p.setup.Add(len(cores))
	p.measured.Add(len(cores))

	var g errgroup.Group
	for i, core := range cores {
		w := &worker{coreID: core}
		workers[i] = w

		g.Go(func() error {
			return e.runWorker(w, p)
		})
	}

	e.log.Debug().Ints("cores", cores).Msg("Waiting for workers to finish setup")

	p.setup.Wait()

	setupErrs := []error{}
	for _, w := range workers {
		if w.setupErr != nil {
			setupErrs = append(setupErrs, w.setupErr)
		}
	}

	abort := func(cause error) (*Result, error) {
		p.proceed = false
		close(p.start)

		return nil, errors.Join(cause, g.Wait())
	}

	if len(setupErrs) > 0 {
		return abort(fmt.Errorf("%w: %w", ErrSetupFailed, errors.Join(setupErrs...)))
	}

	flushSize := e.cfg.WithFlushFloor().FlushSize

	e.log.Debug().Uint64("requested", e.cfg.FlushSize).Uint64("size", flushSize).Msg("Flushing caches")

	if err := flush.Caches(int(flushSize)); err != nil {
		return abort(err)
	}

	e.log.Debug().Msg("Starting measured phase")

	p.proceed = true
	stopwatch := bandwidth.Start()
	close(p.start)

	p.measured.Wait()
	elapsed := stopwatch.Seconds()
	close(p.release)

	e.log.Debug().Float64("elapsed", elapsed).Msg("Measured phase done, tearing down")

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Threads:     len(cores),
		Cores:       cores,
		BufferSize:  e.cfg.BufferSize,
		AccessCount: e.cfg.AccessCount,
		RepeatCount: e.cfg.RepeatCount,
		AccessType:  e.cfg.AccessType.String(),
		FlushSize:   flushSize,

		ElapsedSeconds: elapsed,
		TotalBytes:     bandwidth.TotalBytes(len(cores), e.cfg.AccessCount, e.cfg.RepeatCount),
	}

	for _, w := range workers {
		res.Checksum += w.sum
	}

	res.BandwidthGiBPerSecond, err = bandwidth.GiBPerSecond(elapsed, len(cores), e.cfg.AccessCount, e.cfg.RepeatCount)
	if err != nil {
		return res, err
	}

	return res, nil
}

func (e *Engine) setupWorker(coreID int) (*workspace.Workspace, error) {
	if err := affinity.PinToCore(coreID); err != nil {
		return nil, err
	}

	if hook := e.hooks.BeforeSetup; hook != nil {
		if err := hook(coreID); err != nil {
			return nil, err
		}
	}

	return workspace.Setup(coreID, int(e.cfg.BufferSize), int(e.cfg.AccessCount), e.cfg.AccessType)
}

// runWorker is the whole life of one worker goroutine. Its OS thread stays
// locked after pinning and is discarded when the goroutine returns.
func (e *Engine) runWorker(w *worker, p *phases) (err error) {
	ws, err := e.setupWorker(w.coreID)
	if err != nil {
		w.setupErr = fmt.Errorf("core %v: %w", w.coreID, err)
		p.setup.Done()

		return nil
	}

	defer func() {
		teardownErr := ws.Teardown()
		if teardownErr != nil {
			teardownErr = fmt.Errorf("could not tear down workspace on core %v: %w", w.coreID, teardownErr)
		}

		if hook := e.hooks.OnTeardown; hook != nil {
			hook(w.coreID, teardownErr)
		}

		err = errors.Join(err, teardownErr)
	}()

	e.log.Debug().Int("core", w.coreID).Int("offsets", len(ws.Offsets)).Msg("Worker set up")

	p.setup.Done()

	<-p.start
	if !p.proceed {
		return nil
	}

	w.sum = Access(ws, e.cfg.RepeatCount)
	p.measured.Done()

	<-p.release

	return nil
}
