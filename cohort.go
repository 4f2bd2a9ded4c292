package zarr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Producer is one independent writer in a cohort, typically one device of an
// acquisition writing its own region of shared datasets
type Producer interface {
	Name() string
	// Run writes until done. It should poll ctx between steps and return
	// promptly once it is cancelled.
	Run(ctx context.Context) error
}

// StepProducer calls Step Steps times, waiting Interval before each step.
// Cancellation is checked between steps, never during one.
type StepProducer struct {
	ID       string
	Steps    int
	Interval time.Duration
	Step     func(ctx context.Context, step int) error

	completed atomic.Int64
}

var _ Producer = (*StepProducer)(nil)

func (p *StepProducer) Name() string { return p.ID }

// Completed is the number of steps that have returned without error
func (p *StepProducer) Completed() int { return int(p.completed.Load()) }

func (p *StepProducer) Run(ctx context.Context) error {
	for i := 0; i < p.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before step %d: %s", ErrCancelled, i, err)
		}
		if p.Interval > 0 {
			t := time.NewTimer(p.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w before step %d: %s", ErrCancelled, i, ctx.Err())
			case <-t.C:
			}
		}
		if err := p.Step(ctx, i); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		p.completed.Add(1)
	}
	return nil
}

// CohortOption configures RunCohort.
type CohortOption func(*cohortOptions)

type cohortOptions struct {
	timeout time.Duration
	limit   int
	log     *slog.Logger
}

// WithTimeout bounds how long RunCohort waits. Producers still running at the
// deadline are cancelled and reported with ErrIncomplete.
func WithTimeout(d time.Duration) CohortOption {
	return func(o *cohortOptions) {
		o.timeout = d
	}
}

// WithConcurrencyLimit caps the number of producers running at once. Producers
// over the limit start as others finish.
func WithConcurrencyLimit(n int) CohortOption {
	return func(o *cohortOptions) {
		o.limit = n
	}
}

// WithCohortLogger sets the logger producer failures are reported to.
func WithCohortLogger(l *slog.Logger) CohortOption {
	return func(o *cohortOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// CohortReport is the outcome of every producer in a cohort
type CohortReport struct {
	Completed []string
	Failures  []*ProducerError
	TimedOut  bool
	Elapsed   time.Duration
}

// OK reports whether every producer completed
func (r *CohortReport) OK() bool { return len(r.Failures) == 0 }

// Err joins the failures, nil when every producer completed
func (r *CohortReport) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// RunCohort runs every producer in its own goroutine and reports how each one
// ended. A failing producer never stops the others: errors and panics are
// recorded against the producer and reported once all producers are done, or
// the timeout passes. Data a producer committed before failing stays valid.
//
// When the wait is cut short by the timeout or by ctx, RunCohort returns
// without waiting for stragglers; they see their context cancelled and stop
// before their next step. Producers still queued behind the concurrency limit
// are never started.
func RunCohort(ctx context.Context, producers []Producer, opts ...CohortOption) *CohortReport {
	o := &cohortOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make([]error, len(producers))
		done    = make([]bool, len(producers))
	)

	g := &errgroup.Group{}
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	finished := make(chan struct{})
	go func() {
		for i, p := range producers {
			if ctx.Err() != nil {
				break
			}
			i, p := i, p
			g.Go(func() error {
				// queued behind the limit past the deadline: never start
				if ctx.Err() != nil {
					return nil
				}
				err := runProducer(ctx, p)
				mu.Lock()
				results[i], done[i] = err, true
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
		close(finished)
	}()

	var deadline <-chan time.Time
	if o.timeout > 0 {
		t := time.NewTimer(o.timeout)
		defer t.Stop()
		deadline = t.C
	}

	report := &CohortReport{}
	unfinished := ErrIncomplete
	select {
	case <-finished:
	case <-deadline:
		report.TimedOut = true
	case <-ctx.Done():
		unfinished = ErrCancelled
	}

	// stragglers are cancelled on return, after their state is read
	mu.Lock()
	defer mu.Unlock()
	for i, p := range producers {
		switch {
		case !done[i]:
			report.Failures = append(report.Failures, &ProducerError{Producer: p.Name(), Err: unfinished})
		case results[i] != nil:
			report.Failures = append(report.Failures, &ProducerError{Producer: p.Name(), Err: results[i]})
		default:
			report.Completed = append(report.Completed, p.Name())
		}
	}
	report.Elapsed = time.Since(start)

	for _, f := range report.Failures {
		o.log.Warn("cohort: producer failed", "producer", f.Producer, "error", f.Err)
	}
	o.log.Info("cohort: finished",
		"producers", len(producers),
		"completed", len(report.Completed),
		"failed", len(report.Failures),
		"timed_out", report.TimedOut,
		"elapsed", report.Elapsed,
	)
	return report
}

func runProducer(ctx context.Context, p Producer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Run(ctx)
}
