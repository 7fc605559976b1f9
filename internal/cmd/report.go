package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/tripsmith/internal/filelock"
	"github.com/harrison/tripsmith/internal/registry"
	"github.com/harrison/tripsmith/internal/report"
	"github.com/harrison/tripsmith/internal/store"
)

// NewReportCommand creates the report command
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Render a run into a trip report",
		Long: `Render a run's persisted sections into a markdown trip report, or
with --html into a standalone HTML page.

Without a run ID the most recently started run is rendered. Sections
that failed or never ran are listed as unavailable rather than omitted
silently.`,
		Args: cobra.MaximumNArgs(1),
		RunE: reportCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .tripsmith/config.yaml)")
	cmd.Flags().String("db", "", "Path to the result database")
	cmd.Flags().Bool("html", false, "Render HTML instead of markdown")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")

	return cmd
}

func reportCommand(cmd *cobra.Command, args []string) error {
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
	outcomes, err := st.GetOutcomes(ctx, runID)
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

	gen := report.NewGenerator()

	var rendered []byte
	if html, _ := cmd.Flags().GetBool("html"); html {
		rendered, err = gen.HTML(run, outcomes, errs, reg.ProducerNames())
		if err != nil {
			return err
		}
	} else {
		rendered = []byte(gen.Markdown(run, outcomes, errs, reg.ProducerNames()))
	}

	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		if err := filelock.AtomicWrite(outPath, rendered); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to: %s\n", outPath)
		return nil
	}

	_, err = cmd.OutOrStdout().Write(rendered)
	return err
}
