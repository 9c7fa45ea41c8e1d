package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/DDI-Intelligence/internal/config"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/common"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const metricsNamespace = "ddi"

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Timeout      time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	Metrics      common.IntelligenceMetrics
	Registry     *prometheus.Registry
	OutputFormat string
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	var cancel context.CancelFunc

	cmd := &cobra.Command{
		Use:   "ddi",
		Short: "DDI-Intelligence CLI: drug-drug interaction risk prediction",
		Long: "DDI-Intelligence turns a drug-interaction corpus into fingerprint feature\n" +
			"matrices and scores drug pairs with a trained classifier, reporting the\n" +
			"predicted severity with a clinical risk summary.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cancel, err = persistentPreRun(cmd, opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cancel != nil {
				cancel()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./ddi.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "global operation timeout")

	cmd.AddCommand(
		NewPreprocessCmd(),
		NewPredictCmd(),
		NewResolveCmd(),
		NewSearchCmd(),
		NewStatusCmd(),
		NewDatasetCmd(),
		NewCacheCmd(),
		NewConfigCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// persistentPreRun loads config, builds the logger and metrics, then stores
// the CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) (context.CancelFunc, error) {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputText, OutputJSON, OutputTable:
	default:
		return nil, errors.InvalidParam("unknown output format").WithDetailf("output=%q", opts.OutputFormat)
	}

	cfg, path, err := initConfig(opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "config initialization failed")
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "logger initialization failed")
	}
	if path == "" {
		logger.Debug("no config file found, using defaults and environment")
	} else {
		watchConfig(path, opts, logger)
	}

	registry := prometheus.NewRegistry(prometheus.RegistryConfig{
		Namespace:            metricsNamespace,
		EnableProcessMetrics: cfg.Metrics.Enabled,
		EnableGoMetrics:      cfg.Metrics.Enabled,
	}, logger)
	var metrics common.IntelligenceMetrics = common.NewNoopIntelligenceMetrics()
	if cfg.Metrics.Enabled {
		pm, err := common.NewPrometheusIntelligenceMetrics(registry.Registerer())
		if err != nil {
			return nil, err
		}
		metrics = pm
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     registry,
		OutputFormat: strings.ToLower(opts.OutputFormat),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, cliContextKey{}, cliCtx)
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	cmd.SetContext(ctx)
	return cancel, nil
}

// initConfig loads configuration with priority: env > file > defaults. The
// returned path is empty when no file was used.
func initConfig(opts *RootOptions) (*config.Config, string, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		return cfg, opts.ConfigPath, err
	}

	searchPaths := []string{"./ddi.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".ddi", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/ddi/config.yaml")

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			return cfg, p, err
		}
	}

	cfg, err := config.LoadFromEnv()
	return cfg, "", err
}

// watchConfig follows log.level changes in the config file. The --log-level
// flag pins the level for the whole run.
func watchConfig(path string, opts *RootOptions, logger logging.Logger) {
	if opts.LogLevel != "" {
		return
	}
	setter, ok := logger.(logging.LevelSetter)
	if !ok {
		return
	}
	err := config.Watch(path,
		func(cfg *config.Config) {
			setter.SetLevel(cfg.Log.Level)
			logger.Info("config reloaded", logging.String("log_level", cfg.Log.Level))
		},
		func(err error) {
			logger.Warn("ignoring invalid config change", logging.Err(err))
		})
	if err != nil {
		logger.Warn("config watch disabled", logging.String("path", path), logging.Err(err))
	}
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// writeMetrics dumps the registry when a textfile is configured.
func writeMetrics(cliCtx *CLIContext) {
	path := cliCtx.Config.Metrics.Textfile
	if !cliCtx.Config.Metrics.Enabled || path == "" {
		return
	}
	if err := cliCtx.Registry.WriteTextfile(path); err != nil {
		cliCtx.Logger.Warn("metrics textfile not written", logging.Err(err))
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format specified by CLIContext.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}
	switch cliCtx.OutputFormat {
	case OutputJSON:
		return printJSON(cmd, data)
	case OutputTable:
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	case tableProvider:
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(v.TableHeaders(), v.TableRows()))
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

func printTable(cmd *cobra.Command, data interface{}) error {
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", msg)
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
			} else {
				sb.WriteString(padRight(val, colWidths[i]))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(headers))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
