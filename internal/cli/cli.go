// ============================================================================
// Rawbatch CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: User-facing command line surface based on the Cobra framework.
//
// Command Structure:
//   rawbatch                       # Root command
//   ├── convert INPATH [OUTPATH]   # Convert RAW folders to JPEG
//   │   └── --quiet, -q            # Suppress renderer stdout
//   │   └── --resume               # Retry failed folders at the end
//   │   └── --yes, -y              # Skip confirmation prompts
//   │   └── --workers              # Override max worker count
//   ├── configure                  # Write a commented default config file
//   ├── validate                   # Check the renderer installation
//   ├── check-update               # Query the renderer release feed
//   ├── --config, -c               # Config file path (persistent)
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Signal Handling:
//   The first SIGINT/SIGTERM puts the run into draining: no new renderer
//   launches, in-flight conversions finish, undispatched folders are left
//   for a future run. The handler is then unregistered, so a second SIGINT
//   falls back to the default disposition and kills the process immediately.
//
// Exit Codes:
//   0 - every folder converted (after retries)
//   1 - at least one folder still failed, or a setup error
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rawbatch/rawbatch/internal/capability"
	"github.com/rawbatch/rawbatch/internal/config"
	"github.com/rawbatch/rawbatch/internal/executor"
	"github.com/rawbatch/rawbatch/internal/metrics"
	"github.com/rawbatch/rawbatch/internal/planner"
	"github.com/rawbatch/rawbatch/internal/updater"
	"github.com/rawbatch/rawbatch/pkg/types"
)

var configFile string

// BuildCLI assembles the root command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rawbatch",
		Short: "rawbatch: sandboxed parallel RAW to JPEG conversion",
		Long: `rawbatch batch-converts camera RAW folders to JPEG by driving
darktable-cli across isolated, CPU-pinned worker instances:
- disjoint CPU thread ranges per renderer instance
- GPU and CPU-only worker profiles
- per-worker sandbox directories against database locks
- bounded retry over failed folders`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "config file path")

	rootCmd.AddCommand(buildConvertCommand())
	rootCmd.AddCommand(buildConfigureCommand())
	rootCmd.AddCommand(buildValidateCommand())
	rootCmd.AddCommand(buildCheckUpdateCommand())

	return rootCmd
}

// ============================================================================
// convert
// ============================================================================

// convertOptions carries the convert command's flag values.
type convertOptions struct {
	quiet   bool
	resume  bool
	yes     bool
	workers int
}

func buildConvertCommand() *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert INPATH [OUTPATH]",
		Short: "Convert every RAW folder under INPATH to JPEG",
		Long: `Discover leaf folders holding RAW files under INPATH and convert
each to JPEG under OUTPATH (default: a sibling directory named
<INPATH>-jpeg). Press Ctrl+C once to finish in-flight folders and stop;
press it twice to abort immediately.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outpath := ""
			if len(args) > 1 {
				outpath = args[1]
			}
			return runConvert(args[0], outpath, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress renderer output")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "retry failed folders at the end")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "skip confirmation prompts")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "override max worker count from config")

	return cmd
}

func runConvert(inpath, outpath string, opts convertOptions) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Performance.MaxWorkers = opts.workers
	}

	// Fail fast on a broken renderer install.
	val := capability.Validate(cfg.Renderer.CLIPath)
	if !val.RendererOK {
		for _, e := range val.Errors {
			fmt.Fprintf(os.Stderr, "FAIL  %s\n", e)
		}
		return fmt.Errorf("renderer installation is not usable (run 'rawbatch validate')")
	}

	if cfg.Updates.CheckUpdates {
		printUpdateNotice(cfg, val.Version)
	}

	explicitOut := outpath != ""
	if outpath == "" {
		outpath = planner.DefaultOutpath(inpath)
	}
	if err := ensureOutpath(outpath, explicitOut, opts.yes); err != nil {
		return err
	}

	// Plan the batch.
	leaves, err := planner.DiscoverLeafFolders(inpath, outpath)
	if err != nil {
		return err
	}
	if len(leaves) == 0 {
		fmt.Println("No folders with RAW files found, nothing to do.")
		return nil
	}

	jobs, err := planner.CreateJobs(leaves, outpath)
	if err != nil {
		return fmt.Errorf("failed to plan jobs: %w", err)
	}

	totalFiles := 0
	for _, j := range jobs {
		totalFiles += j.FileCount
	}
	fmt.Printf("Found %d folders with %d RAW files.\n", len(jobs), totalFiles)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			slog.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	runner := executor.New(executor.Config{
		RendererCLI:    cfg.Renderer.CLIPath,
		Width:          cfg.Output.Width,
		Height:         cfg.Output.Height,
		Quality:        cfg.Output.JPEGQuality,
		MaxWorkers:     cfg.Performance.MaxWorkers,
		MaxGPUWorkers:  cfg.Performance.GPUInstances,
		ReservedCores:  cfg.Performance.ReservedCores,
		GPUThreadWidth: cfg.Performance.GPUThreadWidth,
		CPUThreadWidth: cfg.Performance.CPUThreadWidth,
		Quiet:          opts.quiet,
	}, collector)

	// First signal drains; stop() restores the default disposition so a
	// second Ctrl+C kills the process outright. On a normal run ctx only
	// completes via the deferred stop(), so the goroutine's extra stop() is
	// an intentional no-op (NotifyContext stop is idempotent).
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	res := runner.ExecuteJobs(ctx, jobs, nil)

	if opts.resume && len(res.FailedJobs) > 0 && ctx.Err() == nil {
		retried := runner.RetryFailed(ctx, res.FailedJobs, cfg.Performance.MaxRetry, nil)
		res.Completed += retried.Completed
		res.FilesCompleted += retried.FilesCompleted
		res.Failed = retried.Failed
		res.FailedJobs = retried.FailedJobs
		res.Results = append(res.Results, retried.Results...)
	}

	printSummary(res, len(jobs), outpath)

	if len(res.FailedJobs) > 0 {
		return fmt.Errorf("%d folder(s) failed", len(res.FailedJobs))
	}
	return nil
}

// ensureOutpath creates the output directory, asking first when the user
// named it explicitly and it does not exist yet.
func ensureOutpath(outpath string, explicit, yes bool) error {
	if _, err := os.Stat(outpath); err == nil {
		return nil
	}

	if explicit && !yes {
		fmt.Printf("Output directory does not exist: %s\n", outpath)
		fmt.Print("Create it and proceed? [y/N]: ")
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return fmt.Errorf("aborted")
		}
	}
	if err := os.MkdirAll(outpath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func printSummary(res types.BatchResult, planned int, outpath string) {
	fmt.Println()
	fmt.Println("==================================================")
	fmt.Println("Conversion summary")
	fmt.Printf("  Folders completed: %d/%d\n", res.Completed, planned)
	fmt.Printf("  Files converted:   %d\n", res.FilesCompleted)
	fmt.Printf("  Output:            %s\n", outpath)
	if len(res.FailedJobs) > 0 {
		fmt.Printf("  Failed folders:    %d\n", len(res.FailedJobs))
		for _, j := range res.FailedJobs {
			fmt.Printf("    - %s\n", j.InputFolder)
		}
	}
	abandoned := planned - res.Completed - len(res.FailedJobs)
	if abandoned > 0 {
		fmt.Printf("  Not attempted:     %d (cancelled; rerun to convert)\n", abandoned)
	}
	fmt.Println("==================================================")
}

// printUpdateNotice is best-effort: failures are logged, never surfaced.
func printUpdateNotice(cfg config.Config, current string) {
	monitor := updater.NewMonitor(updateCachePath(), cfg.Updates.CacheDays)
	check, err := monitor.CheckForUpdates(context.Background(), current)
	if err != nil {
		slog.Debug("update check failed", "error", err)
		return
	}
	if check.UpdateAvailable {
		fmt.Println(updater.FormatMessage(check))
	}
}

func updateCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".rawbatch_update_cache.json")
	}
	return filepath.Join(home, ".rawbatch_update_cache.json")
}

// ============================================================================
// configure
// ============================================================================

func buildConfigureCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write a commented default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configFile)
			}
			if err := config.WriteDefault(configFile); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// ============================================================================
// validate
// ============================================================================

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the renderer installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			res := capability.Validate(cfg.Renderer.CLIPath)
			if res.RendererOK {
				fmt.Printf("OK  darktable-cli %s at %s\n", res.Version, res.RendererPath)
				return nil
			}
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "FAIL  %s\n", e)
			}
			return fmt.Errorf("renderer installation is not usable")
		},
	}
}

// ============================================================================
// check-update
// ============================================================================

func buildCheckUpdateCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check-update",
		Short: "Check the renderer release feed for a newer version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			current, ok := capability.Version(cfg.Renderer.CLIPath)
			if !ok {
				return fmt.Errorf("cannot determine installed renderer version")
			}

			monitor := updater.NewMonitor(updateCachePath(), cfg.Updates.CacheDays)
			if force {
				if _, err := monitor.LatestRelease(cmd.Context(), true); err != nil {
					return err
				}
			}
			check, err := monitor.CheckForUpdates(cmd.Context(), current)
			if err != nil {
				return err
			}

			fmt.Println(updater.FormatMessage(check))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass the release cache")
	return cmd
}
