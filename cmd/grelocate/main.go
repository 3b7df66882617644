package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/franksops/gorelocate/config"
	"github.com/franksops/gorelocate/engine"
	"github.com/franksops/gorelocate/logging"
	"github.com/franksops/gorelocate/provider"
	"github.com/franksops/gorelocate/store"
	"github.com/franksops/gorelocate/ui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("grelocate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// CLI flags
	var (
		configPath   string
		source       string
		target       string
		workers      int
		journal      string
		logLevel     string
		tuiEnabled   bool
		pollInterval time.Duration
		s3Endpoint   string
		s3Region     string
		s3PathStyle  bool
	)

	fs.StringVar(&configPath, "config", "", "YAML configuration file; flags override its values")
	fs.StringVar(&source, "source", "", "Source root (local directory or s3://bucket/prefix)")
	fs.StringVar(&target, "target", "", "Target container path; a leading / starts at the backend root")
	fs.IntVar(&workers, "workers", engine.DefaultWorkers, "Number of concurrent workers")
	fs.StringVar(&journal, "journal", "", "Path of the run journal database (disabled when empty)")
	fs.StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.BoolVar(&tuiEnabled, "tui", false, "Enable TUI instead of the progress line")
	fs.DurationVar(&pollInterval, "poll", engine.DefaultPollInterval, "How long to wait for a queue slot before checking the workers")
	fs.StringVar(&s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint (MinIO, Ceph...)")
	fs.StringVar(&s3Region, "s3-region", "", "S3 region")
	fs.BoolVar(&s3PathStyle, "s3-path-style", false, "Use path-style S3 addressing")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: grelocate -source <src> [-target <path>] [options]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr, "\nExamples:")
		fmt.Fprintln(stderr, "  grelocate -source /data/inbox -target archive -workers 16")
		fmt.Fprintln(stderr, "  grelocate -source s3://bucket/inbox -target /archive -s3-endpoint http://localhost:9000 -s3-path-style")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = source
		case "target":
			cfg.Target = target
		case "workers":
			cfg.Workers = workers
		case "journal":
			cfg.Journal = journal
		case "log-level":
			cfg.LogLevel = logLevel
		case "tui":
			cfg.TUI = tuiEnabled
		case "poll":
			cfg.PollInterval = pollInterval
		case "s3-endpoint":
			cfg.S3.Endpoint = s3Endpoint
		case "s3-region":
			cfg.S3.Region = s3Region
		case "s3-path-style":
			cfg.S3.PathStyle = s3PathStyle
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		fs.Usage()
		return 1
	}

	logging.Setup(cfg.LogLevel, stderr)
	logger := logging.WithComponent("cli")

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := provider.New(ctx, cfg.Source, provider.S3Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to create source provider: %v\n", err)
		return 1
	}

	var runJournal store.Store
	if cfg.Journal != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal), 0755); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create journal directory: %v\n", err)
			return 1
		}
		s, err := store.NewBoltStore(cfg.Journal)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open journal: %v\n", err)
			return 1
		}
		defer s.Close()
		runJournal = s
	}

	var reporter engine.Reporter = ui.NewLineReporter(stdout)
	var tuiDone chan struct{}
	var teaProgram *tea.Program
	if cfg.TUI {
		tuiModel := ui.NewTUIModel(&ui.UIState{State: store.StateInit, Workers: cfg.Workers})
		teaProgram = tea.NewProgram(tuiModel, tea.WithAltScreen(), tea.WithOutput(stdout))
		reporter = ui.NewTUIReporter(teaProgram)

		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := teaProgram.Run(); err != nil {
				logger.Warn("TUI exited with error", "error", err)
			}
			// Quitting the TUI aborts the run; the drain still completes.
			cancel()
		}()
	}

	relocator, err := engine.NewRelocator(src, engine.Options{
		Source:           cfg.Source,
		TargetPath:       cfg.Target,
		Workers:          cfg.Workers,
		PollInterval:     cfg.PollInterval,
		ProgressInterval: cfg.ProgressInterval,
		Reporter:         reporter,
		Journal:          runJournal,
		Logger:           logging.Get(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	res, err := relocator.Run(ctx)

	if teaProgram != nil {
		time.Sleep(200 * time.Millisecond)
		teaProgram.Quit()
		<-tuiDone
	}

	if runJournal != nil {
		logging.WithRun(res.RunID).Info("run journaled", "journal", cfg.Journal, "state", res.State)
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: relocation failed after moving %d objects: %v\n", res.Moved, err)
		return 1
	}

	fmt.Fprintf(stdout, "Completed! Moved %d objects into %s (%d already in place) in %s.\n",
		res.Moved, displayPath(res.Target), res.Skipped, res.Elapsed.Round(time.Millisecond))
	return 0
}

func displayPath(c provider.Container) string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}
