package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for tripsmith
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tripsmith",
		Short: "Phased trip-intelligence orchestration",
		Long: `Tripsmith assembles a trip report by invoking content producers
(visa, weather, currency, itinerary, and friends) in dependency-ordered
phases against a generation service.

Producer failures never abort a run: every section that can be produced
is produced and persisted, and the gaps are reported at the end.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewReportCommand())

	return cmd
}
