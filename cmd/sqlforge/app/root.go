package app

import (
	"github.com/spf13/cobra"
)

// NewSQLForgeCommand creates the root command for the sqlforge tool.
func NewSQLForgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sqlforge",
		Short: "An LLM-driven SQL mutation factory for fuzzing database engines.",
		Long: `SQLForge builds executable mutators for SQL test cases. It plugs into a
coverage-guided fuzzer host through the init/fuzz_count/fuzz/deinit
callbacks; the fuzz subcommand drives the same callbacks locally over a
seed directory.`,
	}

	cmd.AddCommand(NewFuzzCommand())

	return cmd
}
