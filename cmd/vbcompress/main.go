// Package main provides the CLI entry point for vbcompress.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/vbcompress/internal/config"
	"github.com/five82/vbcompress/internal/deepmeta"
	"github.com/five82/vbcompress/internal/eventbus"
	"github.com/five82/vbcompress/internal/logging"
	"github.com/five82/vbcompress/internal/markerstore"
	"github.com/five82/vbcompress/internal/metadata"
	"github.com/five82/vbcompress/internal/projection"
	"github.com/five82/vbcompress/internal/reporter"
	"github.com/five82/vbcompress/internal/scheduler"
	"github.com/five82/vbcompress/internal/supervisor"
	"github.com/five82/vbcompress/internal/util"
)

const appVersion = "0.1.0"

// runArgs holds the parsed flag values for the run command, mapping 1:1
// onto the §6 configuration surface.
type runArgs struct {
	threads             int
	prefetchFactor      int
	gpu                 bool
	cq                  int
	copyMetadata        bool
	useEXIF             bool
	extensions          []string
	minSizeBytes        int64
	dynamicCQ           []string
	filterCameras       []string
	autorotate          []string
	skipAV1             bool
	cleanErrors         bool
	minCompressionRatio float64
	logDir              string
	verbose             bool
	noLog               bool
	json                bool
}

func main() {
	root := &cobra.Command{
		Use:     "vbcompress",
		Short:   "Batch video transcoding orchestrator",
		Version: appVersion,
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var ra runArgs

	cmd := &cobra.Command{
		Use:   "run <input-dir>",
		Short: "Discover and encode every eligible video file under input-dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(args[0], ra)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&ra.threads, "threads", config.MaxCap, "initial concurrency cap")
	flags.IntVar(&ra.prefetchFactor, "prefetch-factor", config.DefaultPrefetchFactor, "in-flight multiplier (>= 1)")
	flags.BoolVar(&ra.gpu, "gpu", false, "select the hardware encode path")
	flags.IntVar(&ra.cq, "cq", config.DefaultCQ, "default constant-quality knob")
	flags.BoolVar(&ra.copyMetadata, "copy-metadata", false, "enable the post-encode deep-metadata copy pass")
	flags.BoolVar(&ra.useEXIF, "use-exif", false, "enable deep-metadata probing for camera identification")
	flags.StringSliceVar(&ra.extensions, "extensions", config.DefaultExtensions(), "discovery extension whitelist")
	flags.Int64Var(&ra.minSizeBytes, "min-size-bytes", config.DefaultMinSizeBytes, "discovery size floor, in bytes")
	flags.StringSliceVar(&ra.dynamicCQ, "dynamic-cq", nil, "camera-substring=cq override, repeatable, first match wins")
	flags.StringSliceVar(&ra.filterCameras, "filter-cameras", nil, "camera-substring whitelist, repeatable (empty accepts all)")
	flags.StringSliceVar(&ra.autorotate, "autorotate", nil, "filename-regex=angle rule, repeatable, angle in {0,90,180,270}")
	flags.BoolVar(&ra.skipAV1, "skip-av1", false, "skip sources already encoded as AV1")
	flags.BoolVar(&ra.cleanErrors, "clean-errors", false, "delete .err markers at startup and re-attempt")
	flags.Float64Var(&ra.minCompressionRatio, "min-compression-ratio", config.DefaultMinCompressionRatio, "minimum required size reduction before keeping an encode over the original")
	flags.StringVar(&ra.logDir, "log-dir", "", "log directory (defaults to the output root)")
	flags.BoolVar(&ra.verbose, "verbose", false, "enable verbose logging")
	flags.BoolVar(&ra.noLog, "no-log", false, "disable the compression.log file")
	flags.BoolVar(&ra.json, "json", false, "emit NDJSON progress events in addition to the terminal report")

	return cmd
}

func executeRun(inputDir string, ra runArgs) error {
	inputDir, err := filepath.Abs(inputDir)
	if err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if !util.DirectoryExists(inputDir) {
		return fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	cfg, err := buildConfig(inputDir, ra)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	outputRoot := util.OutputRootFor(cfg.InputDir, config.OutputDirSuffix)
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = outputRoot
	}
	logger, err := logging.Setup(logDir, cfg.Verbose, ra.noLog)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if logger != nil {
		logging.SetGlobal(logger)
		defer func() { _ = logger.Close() }()
	}

	store := markerstore.New()
	bus := eventbus.New()
	proj := projection.New()

	cqRules := make([]deepmeta.CQRule, len(cfg.DynamicCQ))
	for i, rule := range cfg.DynamicCQ {
		cqRules[i] = deepmeta.CQRule{Substring: rule.Substring, CQ: rule.CQ}
	}
	metaCache := metadata.New(cfg.UseEXIF, cqRules)

	sv := supervisor.New(store, bus, logger)
	sched := scheduler.New(cfg, store, bus, proj, metaCache, sv, logger)

	rep := buildReporter(ra.json)
	reporter.NewBridge(rep).Subscribe(bus)

	interrupted := installSignalHandler(sched)

	summary, err := sched.Run()
	if err != nil {
		return err
	}

	rep.RunComplete(reporter.RunSummary{
		Completed:      summary.Completed,
		Failed:         summary.Failed,
		Skipped:        summary.Skipped,
		HWCap:          summary.HWCap,
		Interrupted:    summary.Interrupted,
		CameraSkipped:  summary.CameraSkipped,
		AV1Skipped:     summary.AV1Skipped,
		MinRatioKept:   summary.MinRatioKept,
		BytesIn:        summary.BytesIn,
		BytesOut:       summary.BytesOut,
		ForcedReturn:   summary.ForcedReturn,
		WasInterrupted: summary.WasInterrupted,
	})

	if interrupted.Load() {
		os.Exit(130)
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
	return nil
}

// installSignalHandler requests a graceful shutdown on the first SIGINT or
// SIGTERM and a hard interrupt on the second, mirroring the teacher's
// context-cancellation-on-signal pattern adapted to the scheduler's two
// distinct stop semantics (§4.5, §5).
func installSignalHandler(sched *scheduler.Scheduler) *atomic.Bool {
	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		interrupted.Store(true)
		sched.RequestShutdown()
		<-sigCh
		sched.RequestInterrupt()
	}()
	return &interrupted
}

func buildReporter(jsonOutput bool) reporter.Reporter {
	if jsonOutput {
		return reporter.NewCompositeReporter(reporter.NewTerminalReporter(), reporter.NewJSONReporter())
	}
	return reporter.NewTerminalReporter()
}

func buildConfig(inputDir string, ra runArgs) (*config.Config, error) {
	cfg := config.NewConfig(inputDir)
	cfg.Threads = ra.threads
	cfg.PrefetchFactor = ra.prefetchFactor
	cfg.GPU = ra.gpu
	cfg.CQ = ra.cq
	cfg.CopyMetadata = ra.copyMetadata
	cfg.UseEXIF = ra.useEXIF
	if len(ra.extensions) > 0 {
		cfg.Extensions = ra.extensions
	}
	cfg.MinSizeBytes = ra.minSizeBytes
	cfg.FilterCameras = ra.filterCameras
	cfg.SkipAV1 = ra.skipAV1
	cfg.CleanErrors = ra.cleanErrors
	cfg.MinCompressionRatio = ra.minCompressionRatio
	cfg.LogDir = ra.logDir
	cfg.Verbose = ra.verbose

	dynamicCQ, err := parseDynamicCQ(ra.dynamicCQ)
	if err != nil {
		return nil, err
	}
	cfg.DynamicCQ = dynamicCQ

	autorotate, err := parseAutorotate(ra.autorotate)
	if err != nil {
		return nil, err
	}
	cfg.AutorotateRules = autorotate

	return cfg, nil
}

func parseDynamicCQ(entries []string) ([]config.DynamicCQRule, error) {
	rules := make([]config.DynamicCQRule, 0, len(entries))
	for _, entry := range entries {
		substring, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --dynamic-cq entry %q, want substring=cq", entry)
		}
		cq, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid --dynamic-cq value in %q: %w", entry, err)
		}
		rules = append(rules, config.DynamicCQRule{Substring: substring, CQ: cq})
	}
	return rules, nil
}

func parseAutorotate(entries []string) ([]config.AutorotateRule, error) {
	rules := make([]config.AutorotateRule, 0, len(entries))
	for _, entry := range entries {
		pattern, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --autorotate entry %q, want regex=angle", entry)
		}
		angle, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid --autorotate angle in %q: %w", entry, err)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid --autorotate pattern in %q: %w", entry, err)
		}
		rules = append(rules, config.AutorotateRule{Pattern: re, Angle: angle})
	}
	return rules, nil
}
