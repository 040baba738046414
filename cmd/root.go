// Package cmd provides the rad command line.
package cmd

import (
	"fmt"

	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/spf13/cobra"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	repoDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "rad",
	Short: "Rad - collaborative objects for git repositories",
	Long: `Rad keeps issues, patches, labels and users as collaborative objects
inside the project git repository, and merges patches into local branches.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "Repository directory path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

// Execute runs the command line and reports a failure as "error:" and
// "hint:" lines on stderr. The returned error decides the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(rootCmd, err)
	}
	return err
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	return raderrors.ExitCode(err)
}

func reportError(cmd *cobra.Command, err error) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "error: %v\n", err)
	if hint := raderrors.HintOf(err); hint != "" {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}
