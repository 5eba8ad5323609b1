// Package receiver implements the multi-source completion receiver: it
// multiplexes an unbounded-style channel, a bounded channel, a coalescing
// wake-up notification, and a kill-pill signal into one ordered stream,
// switching into a non-blocking drain poll once killed and the
// same-worker queue has emptied.
//
// Go's select has no native priority ordering (it picks uniformly among
// ready cases), so priority here is emulated the way the worker pool's
// Submit emulates stopCh precedence over taskCh: a round of non-blocking
// probes in priority order before falling back to a blocking select.
package receiver

import (
	"context"

	"github.com/arcflow/jobresultproc/internal/metrics"
	"github.com/arcflow/jobresultproc/internal/sameworker"
	"github.com/arcflow/jobresultproc/pkg/types"
)

// Outcome is one step of the receiver's loop. Result is set when a
// completion or flow update is ready. Done is set once the receiver has
// been killed, the same-worker queue has drained, and both channels are
// empty — the signal to the caller's loop to exit. Neither set means the
// step was a wake-up or kill-pill edge with nothing to process yet; the
// caller should call Next again.
type Outcome struct {
	Result *types.SendResult
	Done   bool
}

// Receiver multiplexes the four completion sources described above.
type Receiver struct {
	unbounded chan types.SendResult
	bounded   chan types.SendResult
	wakeUp    *Notifier
	kill      *Killpill

	sameWorker *sameworker.Queue
	metrics    *metrics.Collector
}

// Config bounds the receiver's channel capacities. UnboundedHint sizes the
// unbounded-style channel generously; Go has no truly unbounded channel,
// so this is a large buffer rather than a hard cap enforced anywhere in
// this package.
type Config struct {
	UnboundedHint int
	BoundedSize   int
}

// New constructs a Receiver. sameWorker is the queue of same-worker-bound
// jobs (shared with the processor and dispatcher); its size gates the
// switch into drain-poll mode.
func New(cfg Config, sameWorker *sameworker.Queue) *Receiver {
	if cfg.UnboundedHint <= 0 {
		cfg.UnboundedHint = 4096
	}
	if cfg.BoundedSize <= 0 {
		cfg.BoundedSize = 256
	}
	return &Receiver{
		unbounded:  make(chan types.SendResult, cfg.UnboundedHint),
		bounded:    make(chan types.SendResult, cfg.BoundedSize),
		wakeUp:     NewNotifier(),
		kill:       NewKillpill(),
		sameWorker: sameWorker,
	}
}

// SendUnbounded enqueues onto the high-priority, large-capacity source
// (fresh job completions). It blocks only if the generous buffer is full.
func (r *Receiver) SendUnbounded(ctx context.Context, sr types.SendResult) error {
	select {
	case r.unbounded <- sr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendBounded enqueues onto the backpressured source (re-entrant flow
// updates).
func (r *Receiver) SendBounded(ctx context.Context, sr types.SendResult) error {
	select {
	case r.bounded <- sr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WakeUp arms the coalescing wake-up signal, nudging a blocked Next to
// re-check draining conditions without delivering a payload.
func (r *Receiver) WakeUp() {
	r.wakeUp.Notify()
}

// SetMetrics wires a collector so entering drain mode is reported as the
// jobresultproc_drain_active gauge. Optional.
func (r *Receiver) SetMetrics(mcs *metrics.Collector) {
	r.metrics = mcs
}

// Kill triggers shutdown. Idempotent.
func (r *Receiver) Kill() {
	r.kill.Send()
	if r.metrics != nil {
		r.metrics.SetDraining(true)
	}
}

// Killed reports whether Kill has been called.
func (r *Receiver) Killed() bool {
	select {
	case <-r.kill.C():
		return true
	default:
		return false
	}
}

// Next returns the next item to process, or signals that the receiver is
// fully drained. Call it in a loop; a wake-up or kill-pill edge returns a
// zero Outcome so the caller re-enters the loop and re-evaluates draining
// state, matching the no-op WakeUp/Killpill branches of the source loop
// this is modeled on.
func (r *Receiver) Next(ctx context.Context) Outcome {
	killed := r.Killed()
	if killed && r.sameWorker.Size() == 0 {
		return r.drainPoll()
	}

	// Priority probe, highest first, before blocking.
	select {
	case sr, ok := <-r.unbounded:
		if ok {
			return Outcome{Result: &sr}
		}
	default:
	}
	select {
	case sr, ok := <-r.bounded:
		if ok {
			return Outcome{Result: &sr}
		}
	default:
	}

	if killed {
		// Already killed but the same-worker queue hasn't drained yet:
		// r.kill.C() is closed and therefore always ready, so including it
		// below would spin this select at full speed until the residue
		// counter reaches zero. Wait on whatever can actually change
		// instead — new work, a WakeUp call, or ctx cancellation. Popping
		// the same-worker queue does not by itself wake this select.
		select {
		case sr, ok := <-r.unbounded:
			if !ok {
				return Outcome{}
			}
			return Outcome{Result: &sr}
		case sr, ok := <-r.bounded:
			if !ok {
				return Outcome{}
			}
			return Outcome{Result: &sr}
		case <-r.wakeUp.C():
			return Outcome{}
		case <-ctx.Done():
			return Outcome{Done: true}
		}
	}

	select {
	case sr, ok := <-r.unbounded:
		if !ok {
			return Outcome{}
		}
		return Outcome{Result: &sr}
	case sr, ok := <-r.bounded:
		if !ok {
			return Outcome{}
		}
		return Outcome{Result: &sr}
	case <-r.wakeUp.C():
		return Outcome{}
	case <-r.kill.C():
		return Outcome{}
	case <-ctx.Done():
		return Outcome{Done: true}
	}
}

// drainPoll implements the non-blocking, priority-ordered poll used once
// killed and the same-worker queue is empty: drain whatever is queued,
// never block waiting for more.
func (r *Receiver) drainPoll() Outcome {
	select {
	case sr, ok := <-r.unbounded:
		if ok {
			return Outcome{Result: &sr}
		}
	default:
	}
	select {
	case sr, ok := <-r.bounded:
		if ok {
			return Outcome{Result: &sr}
		}
	default:
	}
	return Outcome{Done: true}
}
