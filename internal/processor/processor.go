// Package processor is the orchestrator: it owns the receiver's Next
// loop, hands each item to the dispatcher, reacts to the Reaction flags
// the dispatcher returns, and owns the start/stop lifecycle that
// coordinates the loop goroutine and shutdown draining.
//
// Scheduling follows spec.md §5: single-task cooperative. There is
// exactly one loop goroutine; it does not fan out completion processing,
// so per-worker write ordering stays deterministic.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcflow/jobresultproc/internal/bench"
	"github.com/arcflow/jobresultproc/internal/dispatcher"
	"github.com/arcflow/jobresultproc/internal/receiver"
	"github.com/arcflow/jobresultproc/internal/sameworker"
	"github.com/arcflow/jobresultproc/pkg/types"
)

// Config bounds the orchestrator's own policy knobs, separate from the
// dispatcher's Config (worker-group identity, init-script tag) which the
// caller constructs independently and passes into dispatcher.New.
type Config struct {
	// BenchFilePath, if set and the binary was built with the "benchmark"
	// tag, is where per-iteration timings flush to on shutdown.
	BenchFilePath string
}

// Processor wires a Receiver and a Dispatcher together and runs the
// single completion-processing loop described in spec.md §4.1-§4.6.
type Processor struct {
	receiver   *receiver.Receiver
	dispatcher *dispatcher.Dispatcher
	sameWorker *sameworker.Queue
	bench      *bench.Recorder
	cfg        Config
	log        *slog.Logger

	// lastProcessingDuration mirrors spec.md §5's
	// `last_processing_duration` atomic gauge, read by health endpoints.
	lastProcessingDuration atomic.Int64 // milliseconds

	// done mirrors `job_completed_processor_is_done`: write-once, set by
	// the loop goroutine right before it exits.
	done atomic.Bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New constructs a Processor. sw must be the same queue passed to both
// receiver.New and dispatcher.New so residue tracking agrees across all
// three components.
func New(r *receiver.Receiver, d *dispatcher.Dispatcher, sw *sameworker.Queue, cfg Config, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		receiver:   r,
		dispatcher: d,
		sameWorker: sw,
		bench:      bench.NewRecorder(),
		cfg:        cfg,
		log:        log,
	}
}

// Start launches the loop goroutine and returns immediately; the loop
// runs until Stop is called or ctx is canceled.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop sends the kill-pill, which puts the receiver into drain mode
// (§4.6), then blocks until the loop goroutine has observed end-of-stream
// and exited.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.receiver.Kill()
	})
	p.wg.Wait()
}

// IsDone reports whether the loop has fully drained and exited.
func (p *Processor) IsDone() bool {
	return p.done.Load()
}

// LastProcessingDuration returns the duration of the most recently
// processed completion.
func (p *Processor) LastProcessingDuration() time.Duration {
	return time.Duration(p.lastProcessingDuration.Load()) * time.Millisecond
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.finish()

	for {
		outcome := p.receiver.Next(ctx)
		if outcome.Done {
			return
		}
		if outcome.Result == nil {
			continue
		}

		breakLoop := p.process(ctx, *outcome.Result)
		if breakLoop {
			return
		}
	}
}

// process dispatches one item and reacts to the dispatcher's verdict,
// implementing the init-script-failure and dependency-job-on-dedicated-
// worker branches of §4.2 steps 5-6.
func (p *Processor) process(ctx context.Context, sr types.SendResult) (breakLoop bool) {
	start := time.Now()
	reaction, err := p.dispatcher.Dispatch(ctx, sr)
	elapsed := time.Since(start)
	p.lastProcessingDuration.Store(elapsed.Milliseconds())
	p.bench.Record("dispatch", elapsed)

	if err != nil {
		p.log.Error("dispatch failed", "error", err)
	}

	if reaction.ShouldKill {
		p.receiver.Kill()
	}
	return reaction.BreakLoop
}

// finish implements the tail of §4.6: mark done and flush benchmark
// info, if the build was compiled with the benchmark tag.
func (p *Processor) finish() {
	p.done.Store(true)

	if !bench.Enabled || p.cfg.BenchFilePath == "" {
		return
	}
	n, err := p.bench.Flush(p.cfg.BenchFilePath)
	if err != nil {
		p.log.Error("failed to flush benchmark info", "error", err)
		return
	}
	p.log.Info("flushed benchmark info", "iterations", n, "path", p.cfg.BenchFilePath)
}
