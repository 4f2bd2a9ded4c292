package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zarr "github.com/qri-io/zarr-lazy"
	"golang.org/x/sync/errgroup"
)

// Scheme selects what a conversion job does with the matched datasets
type Scheme string

const (
	// SchemeStack1D stacks a 1-D dataset from every source into one N-D dataset
	SchemeStack1D Scheme = "stack1d"
	// SchemeCopy rewrites every matched dataset into the output store
	SchemeCopy Scheme = "copy"
	// SchemeVisit hands every slice of every matched dataset to a visitor
	SchemeVisit Scheme = "visit"
)

func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(s); sc {
	case SchemeStack1D, SchemeCopy, SchemeVisit:
		return sc, nil
	}
	return "", fmt.Errorf("unknown conversion scheme %q", s)
}

// StackParams lays stacked sources out on two axes, SlowAxis rows of FastAxis
// sources each. FastAxis*SlowAxis must equal the number of sources.
type StackParams struct {
	FastAxis int
	SlowAxis int
}

const (
	defaultKeepAxes    = 2
	defaultConcurrency = 4
)

// Context describes one conversion job
type Context struct {
	// Sources are store directories or glob patterns over them, in order.
	// Repeating a source stacks it repeatedly.
	Sources    []string
	OutputPath string
	Scheme     Scheme
	// AxisDatasetName is copied unchanged from the first source when set
	AxisDatasetName string
	// DatasetPattern is a regular expression over dataset paths. It must match
	// the whole path, written with or without a leading slash.
	DatasetPattern string
	// Params reshapes stacked sources, stack1d only
	Params *StackParams
	// KeepAxes is the number of trailing axes each slice keeps whole. Defaults to 2.
	KeepAxes int
	// Compression names the chunk codec of created datasets
	Compression string
	// Concurrency bounds how many datasets convert at once. Defaults to 4.
	Concurrency int
	// Visitor receives slices in the visit scheme
	Visitor Visitor
	Monitor Monitor
}

func (c *Context) validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	if _, err := ParseScheme(string(c.Scheme)); err != nil {
		return err
	}
	switch c.Scheme {
	case SchemeVisit:
		if c.Visitor == nil {
			return fmt.Errorf("scheme %s needs a visitor", c.Scheme)
		}
	default:
		if c.OutputPath == "" {
			return fmt.Errorf("scheme %s needs an output path", c.Scheme)
		}
	}
	if c.Params != nil {
		if c.Scheme != SchemeStack1D {
			return fmt.Errorf("stack parameters only apply to %s", SchemeStack1D)
		}
		if c.Params.FastAxis < 1 || c.Params.SlowAxis < 1 {
			return fmt.Errorf("invalid stack parameters fast=%d slow=%d", c.Params.FastAxis, c.Params.SlowAxis)
		}
	}
	return nil
}

func (c *Context) keepAxes() int {
	if c.KeepAxes > 0 {
		return c.KeepAxes
	}
	return defaultKeepAxes
}

func (c *Context) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return defaultConcurrency
}

// Report describes a finished job
type Report struct {
	JobID    uuid.UUID
	Scheme   Scheme
	Datasets []string
	Outcome  Outcome
	Slices   int
	Elapsed  time.Duration
}

// Service runs conversion jobs
type Service struct {
	log *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs the job cc describes. Dataset names are matched against the
// first source; each matched dataset converts on its own goroutine, at most
// cc.Concurrency at once. The first failure cancels the rest of the job.
// A cancelled ctx ends the job with a Cancelled outcome and no error.
func (s *Service) Process(ctx context.Context, cc *Context) (*Report, error) {
	if err := cc.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &Report{JobID: uuid.New(), Scheme: cc.Scheme}
	log := s.log.With("job", report.JobID.String(), "scheme", string(cc.Scheme))

	sq, err := newSourceQueue(cc.Sources)
	if err != nil {
		return nil, err
	}
	first, err := sq.Next()
	if err != nil {
		return nil, err
	}
	// the pattern is checked against the first source before the rest are opened
	names, err := matchDatasets(first, cc.DatasetPattern, cc.AxisDatasetName)
	if err != nil {
		return nil, err
	}
	rest, err := sq.Drain()
	if err != nil {
		return nil, err
	}
	stores := append([]zarr.Store{first}, rest...)
	report.Datasets = names

	j := &job{cc: cc, log: log, stores: stores}
	if cc.Scheme != SchemeVisit {
		out, err := zarr.NewLocalStore(cc.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", cc.OutputPath, err)
		}
		j.coord = zarr.NewCoordinator(out, zarr.WithMode(zarr.ModeWrite), zarr.WithLogger(log))
	}
	log.Info("convert: job started", "sources", len(stores), "stores", sq.Distinct(), "datasets", len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.concurrency())
	if cc.AxisDatasetName != "" && j.coord != nil {
		axis := normalize(cc.AxisDatasetName)
		g.Go(func() error { return j.copy(gctx, stores[0], axis, axis, false) })
	}
	for _, name := range names {
		name := name
		g.Go(func() error { return j.convert(gctx, name) })
	}
	err = g.Wait()
	if j.coord != nil {
		err = errors.Join(err, j.coord.Close())
	}

	report.Slices = int(j.slices.Load())
	report.Elapsed = time.Since(start)
	if j.cancelled.Load() || ctx.Err() != nil {
		report.Outcome = Cancelled
	}
	if err != nil {
		log.Error("convert: job failed", "error", err, "slices", report.Slices)
		return report, err
	}
	log.Info("convert: job finished", "outcome", report.Outcome.String(), "slices", report.Slices, "elapsed", report.Elapsed)
	return report, nil
}

// job is the state one Process call shares between its goroutines
type job struct {
	cc     *Context
	log    *slog.Logger
	stores []zarr.Store
	coord  *zarr.Coordinator

	slices    atomic.Int64
	cancelled atomic.Bool
}

func (j *job) driver(dataset string) *Driver {
	return NewDriver(WithMonitor(j.cc.Monitor), WithDriverLogger(j.log.With("dataset", dataset)))
}

func (j *job) record(res Result) {
	j.slices.Add(int64(res.Iterations))
	if res.Outcome == Cancelled {
		j.cancelled.Store(true)
	}
}

func (j *job) options(chunks zarr.Shape) []zarr.DatasetOption {
	var opts []zarr.DatasetOption
	if chunks != nil {
		opts = append(opts, zarr.WithChunks(chunks...))
	}
	if j.cc.Compression != "" {
		opts = append(opts, zarr.WithCompression(j.cc.Compression))
	}
	return opts
}

func (j *job) convert(ctx context.Context, name string) error {
	switch j.cc.Scheme {
	case SchemeStack1D:
		return j.stack(ctx, name)
	case SchemeCopy:
		for i, st := range j.stores {
			dst := name
			if len(j.stores) > 1 {
				dst = fmt.Sprintf("source_%d/%s", i, name)
			}
			if err := j.copy(ctx, st, name, dst, true); err != nil {
				return err
			}
		}
		return nil
	default:
		return j.visit(ctx, name)
	}
}

// stack writes the 1-D dataset name of source i into row i of an [N, L]
// dataset, or [i/fast, i%fast] of a [slow, fast, L] one
func (j *job) stack(ctx context.Context, name string) error {
	first, err := zarr.Open(j.stores[0], name)
	if err != nil {
		return err
	}
	if first.Rank() != 1 {
		return fmt.Errorf("%w: %s has rank %d, stacking needs 1-D datasets", zarr.ErrShapeMismatch, name, first.Rank())
	}
	length := first.Shape()[0]
	n := len(j.stores)

	shape := zarr.Shape{n, length}
	lead := func(i int) []int { return []int{i} }
	if p := j.cc.Params; p != nil {
		if p.FastAxis*p.SlowAxis != n {
			return fmt.Errorf("%w: fast axis %d * slow axis %d does not match %d sources", zarr.ErrShapeMismatch, p.FastAxis, p.SlowAxis, n)
		}
		shape = zarr.Shape{p.SlowAxis, p.FastAxis, length}
		lead = func(i int) []int { return []int{i / p.FastAxis, i % p.FastAxis} }
	}

	target, err := j.coord.Create(name, first.Dtype(), shape, j.options(nil)...)
	if err != nil {
		return err
	}

	for i, st := range j.stores {
		src := first
		if i > 0 {
			if src, err = zarr.Open(st, name); err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
		}
		if !src.Shape().Equal(zarr.Shape{length}) {
			return fmt.Errorf("%w: source %d %s has shape %s, want [%d]", zarr.ErrShapeMismatch, i, name, src.Shape(), length)
		}

		idx := lead(i)
		w := &DatasetWriter{Target: target, Map: func(v SliceView) zarr.Slice {
			sl := make(zarr.Slice, 0, len(idx)+len(v.Slice))
			for _, x := range idx {
				sl = append(sl, zarr.Range{Start: x, Stop: x + 1, Step: 1})
			}
			return append(sl, v.Slice...)
		}}
		res, err := j.driver(name).Run(ctx, src, []int{0}, w)
		j.record(res)
		if err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		if res.Outcome == Cancelled {
			return nil
		}
	}
	return nil
}

// copy rewrites src into dst slice by slice. With grow set the first axis is
// created unlimited and grows as slices land.
func (j *job) copy(ctx context.Context, st zarr.Store, src, dst string, grow bool) error {
	in, err := zarr.Open(st, src)
	if err != nil {
		return err
	}
	shape := in.Shape()
	opts := j.options(in.Chunks())
	if grow && in.Rank() > 0 {
		shape[0] = 0
		opts = append(opts, zarr.WithUnlimitedAxis(0))
	}
	out, err := j.coord.Create(dst, in.Dtype(), shape, opts...)
	if err != nil {
		return err
	}

	res, err := j.driver(src).Run(ctx, in, KeepLast(in.Rank(), j.cc.keepAxes()), &DatasetWriter{Target: out})
	j.record(res)
	return err
}

func (j *job) visit(ctx context.Context, name string) error {
	for i, st := range j.stores {
		src, err := zarr.Open(st, name)
		if err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		res, err := j.driver(name).Run(ctx, src, KeepLast(src.Rank(), j.cc.keepAxes()), j.cc.Visitor)
		j.record(res)
		if err != nil {
			return err
		}
		if res.Outcome == Cancelled {
			return nil
		}
	}
	return nil
}
