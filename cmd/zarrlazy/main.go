// zarrlazy runs conversion jobs and simulated scans against zarr stores
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	zarr "github.com/qri-io/zarr-lazy"
	"github.com/qri-io/zarr-lazy/acquire"
	"github.com/qri-io/zarr-lazy/convert"
	"github.com/qri-io/zarr-lazy/internal/config"
)

func main() {
	configPath := flag.String("config", "", "YAML job file (required for convert and acquire)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("zarrlazy %s\n", zarr.Version)
		os.Exit(0)
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	var cfg *config.Config
	cmd := flag.Arg(0)
	if cmd == "convert" || cmd == "acquire" {
		if *configPath == "" {
			fmt.Fprintf(os.Stderr, "Error: -config is required for %s\n\n", cmd)
			usage()
			os.Exit(2)
		}
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		logLevel = cfg.Level()
	}
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "convert":
		err = runConvert(ctx, cfg, logger)
	case "acquire":
		err = runAcquire(ctx, cfg, logger)
	case "ls":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		err = list(flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  zarrlazy -config job.yaml convert\n")
	fmt.Fprintf(os.Stderr, "  zarrlazy -config job.yaml acquire\n")
	fmt.Fprintf(os.Stderr, "  zarrlazy ls <store>\n\n")
	flag.PrintDefaults()
}

// progress logs every completed slice at debug level and a summary line every
// hundred slices
type progress struct {
	log  *slog.Logger
	done atomic.Int64
}

func (p *progress) Worked(n int) {
	if total := p.done.Add(int64(n)); total%100 == 0 {
		p.log.Info("convert: progress", "slices", total)
	}
}

func (p *progress) SubTask(name string) {
	p.log.Debug("convert: slice done", "slice", name)
}

func runConvert(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Convert == nil {
		return fmt.Errorf("config has no convert section")
	}
	cc := cfg.Convert.Context()
	cc.Monitor = &progress{log: logger}

	report, err := convert.NewService(convert.WithLogger(logger)).Process(ctx, cc)
	if err != nil {
		return err
	}
	fmt.Printf("job %s %s: %d datasets, %d slices in %s\n", report.JobID, report.Outcome, len(report.Datasets), report.Slices, report.Elapsed)
	return nil
}

func runAcquire(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Acquire == nil {
		return fmt.Errorf("config has no acquire section")
	}
	store, err := zarr.NewLocalStore(cfg.Acquire.Output)
	if err != nil {
		return err
	}
	res, err := acquire.Run(ctx, store, cfg.Acquire.Scan(), logger)
	if err != nil {
		return err
	}
	fmt.Printf("scan %s: %d devices completed, %d failed\n", res.ScanID, len(res.Report.Completed), len(res.Report.Failures))
	for path, shape := range res.Shapes {
		fmt.Printf("  %s %s\n", path, shape)
	}
	return res.Report.Err()
}

func list(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	store, err := zarr.NewLocalStore(dir)
	if err != nil {
		return err
	}
	paths, err := zarr.ListArrays(store)
	if err != nil {
		return err
	}
	for _, p := range paths {
		ds, err := zarr.Open(store, p)
		if err != nil {
			return err
		}
		dt := ds.Dtype()
		fmt.Printf("%s\t%s%d (%s)\t%s\tchunks %s\n", p, dt.BasicType.Human(), dt.ByteSize*8, dt, ds.Shape(), ds.Chunks())
	}
	return nil
}
