package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/tripsmith/internal/config"
	"github.com/harrison/tripsmith/internal/filelock"
	"github.com/harrison/tripsmith/internal/logger"
	"github.com/harrison/tripsmith/internal/models"
	"github.com/harrison/tripsmith/internal/producer"
	"github.com/harrison/tripsmith/internal/ratelimit"
	"github.com/harrison/tripsmith/internal/registry"
	"github.com/harrison/tripsmith/internal/scheduler"
	"github.com/harrison/tripsmith/internal/store"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Orchestrate one trip-intelligence run",
		Long: `Orchestrate one run: validate the trip subject, invoke every
registered producer phase by phase, persist each section as it settles,
and print the aggregate summary.

Configuration is loaded from .tripsmith/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  # Minimal run
  tripsmith run --destination Japan --from 2026-04-01 --to 2026-04-10

  # Flight options need an origin city
  tripsmith run --destination Japan --from 2026-04-01 --to 2026-04-10 \
    --origin London --nationality GB

  # Other options
  tripsmith run --concurrency 3 ...     # Parallel producers within a phase
  tripsmith run --interval 2s ...       # Min delay between generator calls
  tripsmith run --config custom.yaml ...`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	// Add flags
	cmd.Flags().String("config", "", "Path to config file (default: .tripsmith/config.yaml)")
	cmd.Flags().String("destination", "", "Destination country (required)")
	cmd.Flags().String("from", "", "Departure date, YYYY-MM-DD (required)")
	cmd.Flags().String("to", "", "Return date, YYYY-MM-DD (required)")
	cmd.Flags().String("origin", "", "Origin city (enables flight options)")
	cmd.Flags().String("nationality", "", "Traveller nationality")
	cmd.Flags().String("interests", "", "Comma-separated interests")
	cmd.Flags().String("budget", "", "Budget band (shoestring, moderate, luxury)")
	cmd.Flags().String("dietary", "", "Dietary restrictions")
	cmd.Flags().Int("concurrency", -1, "Max concurrent producers within a phase (-1 = use config)")
	cmd.Flags().String("interval", "", "Minimum delay between generator calls (e.g. 2s, 500ms)")
	cmd.Flags().String("db", "", "Path to the result database")
	cmd.Flags().String("log-dir", "", "Directory for run log files")
	cmd.Flags().String("generator-url", "", "Base URL of the generation service")
	cmd.Flags().String("registry", "", "Path to a producer registry overlay file")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Get flag values
	concurrencyFlag, _ := cmd.Flags().GetInt("concurrency")
	intervalStr, _ := cmd.Flags().GetString("interval")
	dbFlag, _ := cmd.Flags().GetString("db")
	logDirFlag, _ := cmd.Flags().GetString("log-dir")
	generatorURLFlag, _ := cmd.Flags().GetString("generator-url")
	verbose, _ := cmd.Flags().GetBool("verbose")

	// Build flag pointers for merge (only changed values)
	var concurrencyPtr *int
	if cmd.Flags().Changed("concurrency") {
		concurrencyPtr = &concurrencyFlag
	}
	var intervalPtr *time.Duration
	if cmd.Flags().Changed("interval") {
		interval, err := time.ParseDuration(intervalStr)
		if err != nil {
			return fmt.Errorf("invalid interval format %q: %w", intervalStr, err)
		}
		intervalPtr = &interval
	}
	var dbPtr *string
	if cmd.Flags().Changed("db") {
		dbPtr = &dbFlag
	}
	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		logDirPtr = &logDirFlag
	}
	var generatorURLPtr *string
	if cmd.Flags().Changed("generator-url") {
		generatorURLPtr = &generatorURLFlag
	}

	// Merge CLI flags with config (flags take precedence)
	cfg.MergeWithFlags(intervalPtr, concurrencyPtr, dbPtr, logDirPtr, generatorURLPtr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	subject := subjectFromFlags(cmd)
	if subject[registry.FieldDestinationCountry] == "" {
		return fmt.Errorf("--destination is required")
	}

	// One orchestrator process per store.
	lock := filelock.NewRunLock(cfg.LockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another run is already in progress (lock: %s)", cfg.LockPath)
	}
	defer lock.Unlock()

	reg, err := buildRegistry(cmd, cfg)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// Determine log level: verbose flag overrides config
	logLevel := cfg.LogLevel
	if verbose {
		logLevel = "debug"
	}

	consoleLog := logger.NewConsoleLogger(cmd.OutOrStdout(), logLevel)
	fileLog, err := logger.NewFileLogger(cfg.LogDir, logLevel)
	if err != nil {
		return fmt.Errorf("create file logger: %w", err)
	}
	defer fileLog.Close()

	multiLog := &multiLogger{
		loggers: []scheduler.RunLogger{consoleLog, fileLog},
	}

	client := producer.NewGeneratorClient(cfg.GeneratorURL)
	invoker := producer.NewInvoker(client.Directory(reg.ProducerNames()))

	// One limiter per downstream dependency; every producer goes through
	// the generator today.
	limiters := ratelimit.NewRegistry(func() ratelimit.Limiter {
		return ratelimit.NewIntervalLimiter(cfg.RateLimitInterval)
	})

	sched := scheduler.New(invoker, limiters.For("generator"), st, multiLog, cfg.PhaseConcurrency)
	coord := scheduler.NewCoordinator(reg, sched, st, multiLog)

	// Ctrl-C cancels launches; already-persisted sections stay valid.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting run for %s...\n\n", subject[registry.FieldDestinationCountry])
	handle := coord.StartRun(ctx, subject)

	stateDir := filepath.Dir(cfg.LockPath)
	if err := filelock.WriteLatestRun(stateDir, handle.RunID); err != nil {
		fmt.Fprintf(cmd.OutOrStderr(), "Warning: failed to record latest run: %v\n", err)
	}

	result, err := handle.Wait()
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrPrecondition):
			return fmt.Errorf("run %s rejected: %w", handle.RunID, err)
		case errors.Is(err, scheduler.ErrCancelled):
			fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s cancelled; %d section(s) were persisted before the stop.\n",
				handle.RunID, len(result.Available))
			return err
		default:
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s completed: %d section(s) available, %d missing or failed.\n",
		result.RunID, len(result.Available), len(result.MissingOrFailed))
	fmt.Fprintf(cmd.OutOrStdout(), "Logs written to: %s\n", cfg.LogDir)
	fmt.Fprintf(cmd.OutOrStdout(), "View the report with: tripsmith report %s\n", result.RunID)
	return nil
}

// loadConfig loads configuration from --config or the default location.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadConfigFromDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildRegistry loads the default producer registry and applies an
// overlay file when one exists.
func buildRegistry(cmd *cobra.Command, cfg *config.Config) (*registry.Registry, error) {
	reg, err := registry.Default(registry.DefaultTables())
	if err != nil {
		return nil, fmt.Errorf("build producer registry: %w", err)
	}

	overlayPath := cfg.RegistryPath
	if flagPath, _ := cmd.Flags().GetString("registry"); flagPath != "" {
		overlayPath = flagPath
	}
	if overlayPath == "" {
		return reg, nil
	}
	if _, err := os.Stat(overlayPath); os.IsNotExist(err) {
		// The default overlay path is optional; an explicit one is not.
		if cmd.Flags().Changed("registry") {
			return nil, fmt.Errorf("registry overlay %s not found", overlayPath)
		}
		return reg, nil
	}

	reg, err = reg.LoadOverlay(overlayPath)
	if err != nil {
		return nil, fmt.Errorf("apply registry overlay: %w", err)
	}
	return reg, nil
}

// subjectFromFlags builds the trip subject from the run flags, keeping
// only the fields the caller actually set.
func subjectFromFlags(cmd *cobra.Command) models.SubjectContext {
	subject := models.SubjectContext{}
	for flag, field := range map[string]string{
		"destination": registry.FieldDestinationCountry,
		"from":        registry.FieldDepartureDate,
		"to":          registry.FieldReturnDate,
		"origin":      registry.FieldOriginCity,
		"nationality": registry.FieldNationality,
		"interests":   registry.FieldInterests,
		"budget":      registry.FieldBudget,
		"dietary":     registry.FieldDietary,
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			subject[field] = v
		}
	}
	return subject
}

// multiLogger implements scheduler.RunLogger by delegating to multiple loggers
type multiLogger struct {
	loggers []scheduler.RunLogger
}

// LogPhaseStart forwards to all loggers
func (ml *multiLogger) LogPhaseStart(phase models.Phase) {
	for _, logger := range ml.loggers {
		logger.LogPhaseStart(phase)
	}
}

// LogPhaseComplete forwards to all loggers
func (ml *multiLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	for _, logger := range ml.loggers {
		logger.LogPhaseComplete(phase, duration)
	}
}

// LogProducerStart forwards to all loggers
func (ml *multiLogger) LogProducerStart(spec models.ProducerSpec) {
	for _, logger := range ml.loggers {
		logger.LogProducerStart(spec)
	}
}

// LogOutcome forwards to all loggers
func (ml *multiLogger) LogOutcome(outcome models.TaskOutcome) {
	for _, logger := range ml.loggers {
		logger.LogOutcome(outcome)
	}
}

// LogSummary forwards to all loggers
func (ml *multiLogger) LogSummary(result models.RunResult) {
	for _, logger := range ml.loggers {
		logger.LogSummary(result)
	}
}
