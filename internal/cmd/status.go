package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/tripsmith/internal/filelock"
	"github.com/harrison/tripsmith/internal/registry"
	"github.com/harrison/tripsmith/internal/store"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the status of a run",
		Long: `Show the persisted status of a run: lifecycle state, completed
phases, persisted sections, and the error ledger.

Without a run ID the most recently started run is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: statusCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .tripsmith/config.yaml)")
	cmd.Flags().String("db", "", "Path to the result database")

	return cmd
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dbFlag, _ := cmd.Flags().GetString("db"); dbFlag != "" {
		cfg.DBPath = dbFlag
	}

	runID, err := resolveRunID(args, cfg.LockPath)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	persisted, err := st.CountOutcomes(ctx, runID)
	if err != nil {
		return err
	}
	errs, err := st.GetErrors(ctx, runID)
	if err != nil {
		return err
	}

	reg, err := registry.Default(registry.DefaultTables())
	if err != nil {
		return fmt.Errorf("build producer registry: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  Status: %s\n", run.Status)
	fmt.Fprintf(out, "  Destination: %s\n", run.Subject[registry.FieldDestinationCountry])
	fmt.Fprintf(out, "  Started: %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", run.CompletedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "  Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(out, "  Phases completed: %d\n", len(run.PhasesCompleted))
	fmt.Fprintf(out, "  Sections persisted: %d of %d\n", persisted, reg.TotalProducers())

	if len(errs) > 0 {
		fmt.Fprintf(out, "\nErrors:\n")
		for _, e := range errs {
			if e.ProducerName != "" {
				fmt.Fprintf(out, "  - [%s] %s\n", e.ProducerName, e.Message)
			} else {
				fmt.Fprintf(out, "  - %s\n", e.Message)
			}
		}
	}
	return nil
}

// resolveRunID returns the explicit run ID argument, falling back to the
// latest-run pointer next to the lock file.
func resolveRunID(args []string, lockPath string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	runID, err := filelock.ReadLatestRun(filepath.Dir(lockPath))
	if err != nil {
		return "", err
	}
	if runID == "" {
		return "", fmt.Errorf("no runs recorded yet; pass a run ID")
	}
	return runID, nil
}
