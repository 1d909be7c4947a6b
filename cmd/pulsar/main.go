package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nemanja-m/pulsar/internal/shared/config"
	"github.com/nemanja-m/pulsar/internal/shared/logging"
	"github.com/nemanja-m/pulsar/pkg/jobs"
	"github.com/nemanja-m/pulsar/pkg/local"
	"github.com/nemanja-m/pulsar/pkg/script"

	_ "github.com/nemanja-m/pulsar/examples/grep"
	_ "github.com/nemanja-m/pulsar/examples/wordcount"
)

const (
	defaultJob    = "wordcount"
	builtinPrefix = "builtin:"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	input          string
	scriptPath     string
	output         string
	sort           bool
	noSort         bool
	configPath     string
	workers        int
	chunkSize      int
	spillThreshold int
	logLevel       string
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pulsar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pulsar [flags] [test [files...] | list]\n\nA simple map-reduce engine for parallel processing.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	var opts options
	fs.StringVar(&opts.input, "f", "-", "input file or glob pattern, - reads stdin")
	fs.StringVar(&opts.scriptPath, "s", "", "script file with map and reduce functions, or builtin:<name> (default builtin:"+defaultJob+")")
	fs.StringVar(&opts.output, "output", "", "output format: plain or json")
	fs.BoolVar(&opts.sort, "sort", false, "require the script to define a sort function")
	fs.BoolVar(&opts.noSort, "no-sort", false, "never sort, even if the script defines a sort function")
	fs.StringVar(&opts.configPath, "config", "", "path to config file")
	fs.IntVar(&opts.workers, "workers", 0, "number of script workers (overrides config)")
	fs.IntVar(&opts.chunkSize, "chunk-size", 0, "records per batch (overrides config)")
	fs.IntVar(&opts.spillThreshold, "spill-threshold", 0, "buffered values before spilling groups to disk (overrides config)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.sort && opts.noSort {
		fmt.Fprintln(stderr, "Error: -sort and -no-sort are mutually exclusive")
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	if err := applyFlags(fs, &opts, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, stderr)

	switch fs.Arg(0) {
	case "":
	case "test":
		return runTests(opts.scriptPath, fs.Args()[1:], stdout, stderr)
	case "list":
		for _, name := range jobs.List() {
			job, _ := jobs.Get(name)
			fmt.Fprintf(stdout, "%-20s %s\n", name, job.Description)
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", fs.Arg(0))
		fs.Usage()
		return 2
	}

	source, err := loadScript(opts.scriptPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := runEngine(ctx, cfg, opts, source, stdin, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

// applyFlags overrides config values with flags set on the command line.
func applyFlags(fs *flag.FlagSet, opts *options, cfg *config.Config) error {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.Format = opts.output
		case "workers":
			cfg.Engine.Workers = opts.workers
		case "chunk-size":
			cfg.Engine.ChunkSize = opts.chunkSize
		case "spill-threshold":
			cfg.Spill.Threshold = opts.spillThreshold
		case "log-level":
			cfg.Logging.Level = opts.logLevel
		}
	})
	return cfg.Validate()
}

// loadScript resolves -s into script source. An empty value selects the
// default built-in job.
func loadScript(path string) (string, error) {
	name, builtin := strings.CutPrefix(path, builtinPrefix)
	if path == "" {
		name, builtin = defaultJob, true
	}
	if builtin {
		job, err := jobs.Get(name)
		if err != nil {
			return "", fmt.Errorf("%w (available: %s)", err, strings.Join(jobs.List(), ", "))
		}
		return job.Source, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return string(source), nil
}

func runEngine(ctx context.Context, cfg *config.Config, opts options, source string, stdin io.Reader, stdout io.Writer, logger logging.Logger) error {
	format, err := local.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	var input local.InputSource
	if opts.input == "-" {
		input = local.NewLineSource(stdin)
	} else {
		files, err := local.NewFileSource(opts.input)
		if err != nil {
			return err
		}
		defer files.Close()
		input = files
	}

	sortMode := local.SortAuto
	switch {
	case opts.sort:
		sortMode = local.SortRequired
	case opts.noSort:
		sortMode = local.SortDisabled
	}

	engine := local.NewEngine(local.Config{
		Script:           source,
		NumWorkers:       cfg.Engine.Workers,
		ChunkSize:        cfg.Engine.ChunkSize,
		Concurrency:      cfg.Engine.Concurrency,
		QueueSize:        cfg.Engine.QueueSize,
		MaxBatchFailures: cfg.Engine.MaxBatchFailures,
		ShutdownGrace:    cfg.Engine.ShutdownGrace,
		SpillThreshold:   cfg.Spill.Threshold,
		SpillDir:         cfg.Spill.Dir,
		Sort:             sortMode,
		Logger:           logger,
	})

	stats, err := engine.Run(ctx, input, local.NewWriterSink(stdout, format))
	if err != nil {
		return err
	}

	logger.Info("Job completed successfully",
		"run_id", stats.RunID.String(),
		"records", stats.Records,
		"results", stats.Results,
		"sorted", stats.Sorted,
	)
	return nil
}

// runTests evaluates each script file, or the selected script when no files
// are given, and checks that map and reduce are defined.
func runTests(scriptPath string, files []string, stdout, stderr io.Writer) int {
	if len(files) == 0 {
		source, err := loadScript(scriptPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := checkScript(source); err != nil {
			fmt.Fprintf(stdout, "FAIL: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "OK")
		return 0
	}

	code := 0
	for _, file := range files {
		source, err := os.ReadFile(file)
		if err == nil {
			err = checkScript(string(source))
		}
		if err != nil {
			fmt.Fprintf(stdout, "%s: FAIL: %v\n", file, err)
			code = 1
			continue
		}
		fmt.Fprintf(stdout, "%s: OK\n", file)
	}
	return code
}

func checkScript(source string) error {
	engine := script.NewJSEngine()
	if err := engine.Evaluate(source); err != nil {
		return err
	}
	for _, name := range []string{script.FuncMap, script.FuncReduce} {
		if !engine.HasFunction(name) {
			return fmt.Errorf("%w: %s", script.ErrFunctionNotFound, name)
		}
	}
	return nil
}
