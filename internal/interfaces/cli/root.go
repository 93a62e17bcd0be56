// Package cli implements the progres command line: search, score, embed and
// database maintenance commands built on the search application service.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/config"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath  string
	DataDir     string
	LogLevel    string
	Verbose     bool
	NoColor     bool
	MetricsFile string
	Timeout     time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config      *config.Config
	Logger      logging.Logger
	Collector   prometheus.MetricsCollector
	MetricsFile string
	NoColor     bool
	Timeout     time.Duration
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "progres",
		Short: "Fast protein structure search with graph neural network embeddings",
		Long: "progres embeds protein structures with an E(n)-equivariant graph neural network\n" +
			"and searches them against pre-embedded databases such as SCOPe and CATH.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "config file path (default: environment only)")
	pf.StringVar(&opts.DataDir, "data-dir", "", "data directory holding models and databases")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	pf.DurationVar(&opts.Timeout, "timeout", 0, "overall operation timeout (0 means none)")

	cmd.AddCommand(
		NewSearchCmd(),
		NewScoreCmd(),
		NewEmbedCmd(),
		NewDatabaseCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := initConfig(opts)
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidParam, "logger initialization failed")
	}

	metricsFile := opts.MetricsFile
	if metricsFile == "" {
		metricsFile = cfg.Metrics.File
	}
	var collector prometheus.MetricsCollector
	if metricsFile != "" {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace: cfg.Metrics.Namespace,
		}, logger)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "metrics initialization failed")
		}
	}

	if opts.NoColor {
		color.NoColor = true
	}

	cliCtx := &CLIContext{
		Config:      cfg,
		Logger:      logger,
		Collector:   collector,
		MetricsFile: metricsFile,
		NoColor:     opts.NoColor || color.NoColor,
		Timeout:     opts.Timeout,
	}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads configuration with priority: flags > env > file > defaults.
func initConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidParam, "config initialization failed")
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = strings.ToLower(opts.LogLevel)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// initLogger creates a console logger on stderr so stdout carries results only.
func initLogger(cfg *config.Config) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLI context not initialized")
	}
	return cliCtx, nil
}

// runtimeOverrides are per-command settings that replace configuration
// values before the service is built.
type runtimeOverrides struct {
	device string
	model  string
}

// withRuntime builds the search runtime, runs fn and releases everything.
// The metrics textfile is written even when fn fails.
func withRuntime(cmd *cobra.Command, ov runtimeOverrides, fn func(ctx context.Context, rt *search.Runtime, cc *CLIContext) error) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := *cc.Config
	if ov.device != "" {
		cfg.Model.Device = ov.device
	}
	if ov.model != "" {
		cfg.Model.Name = ov.model
	}

	ctx := cmd.Context()
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}

	defer writeMetrics(cc)
	rt, err := search.Bootstrap(ctx, &cfg, cc.Logger, cc.Collector)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt, cc)
}

func writeMetrics(cc *CLIContext) {
	if cc.Collector == nil || cc.MetricsFile == "" {
		return
	}
	if err := cc.Collector.WriteTextfile(cc.MetricsFile); err != nil {
		cc.Logger.Warn("Failed to write metrics textfile", logging.Path(cc.MetricsFile), logging.Err(err))
	}
}

// Execute runs the CLI with os.Args and prints any error to stderr.
func Execute() error {
	return ExecuteArgs(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the CLI with explicit arguments and streams.
func ExecuteArgs(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// ExitCode maps an error to the process exit status: 0 on success, 2 for
// configuration errors and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsConfigurationError(err):
		return 2
	default:
		return 1
	}
}
