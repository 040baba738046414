package cmd

import (
	"fmt"
	"os"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/merge"
	"github.com/spf13/cobra"
)

var (
	mergeRevision    int
	mergeForce       bool
	mergeInteractive bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge a patch into the current branch",
	Long: `Merge a revision of a proposed patch into the checked out branch and
record the merge on the patch.

The branch is fast-forwarded when possible. Otherwise a merge commit is
created, but only if the revision merges without conflicts; a conflicting
patch must be rebased first. With -i the merge commit message is opened in
$VISUAL or $EDITOR.`,
	Args: cobra.ExactArgs(1),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().IntVarP(&mergeRevision, "revision", "r", -1, "Revision index to merge (default latest)")
	mergeCmd.Flags().BoolVar(&mergeForce, "force", false, "Record the merge even if an identical record exists")
	mergeCmd.Flags().BoolVarP(&mergeInteractive, "interactive", "i", false, "Edit the merge commit message")
}

func runMerge(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	patches := s.patches()
	id, _, err := patches.Resolve(ident)
	if err != nil {
		return err
	}

	var editor merge.Editor
	if mergeInteractive {
		editor = &merge.CommandEditor{
			Command: s.cfg.EditorCommand(),
			Stdin:   os.Stdin,
			Stdout:  os.Stdout,
			Stderr:  os.Stderr,
		}
	}

	engine := merge.NewEngine(merge.Config{
		Git:       s.git,
		Patches:   patches,
		Editor:    editor,
		Logger:    s.logger,
		Committer: s.committer(),
	})

	opts := merge.Options{Force: mergeForce || s.cfg.Merge.Force}
	if mergeRevision >= 0 {
		rev := mergeRevision
		opts.Revision = &rev
	}
	res, err := engine.Merge(s.ctx, id, opts)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, mergeOutput{
			Patch:    id,
			Style:    res.Style.String(),
			Revision: res.Revision,
			Branch:   res.Branch.Short(),
			Head:     res.Head.String(),
			Recorded: res.Recorded,
		})
	}
	switch res.Style {
	case merge.UpToDate:
		fmt.Fprintf(w, "Revision %d of %s is already merged into %s\n", res.Revision, id.Short(), res.Branch.Short())
	case merge.FastForward:
		fmt.Fprintf(w, "Fast-forwarded %s to %s (revision %d of %s)\n", res.Branch.Short(), shortHash(res.Head), res.Revision, id.Short())
	default:
		fmt.Fprintf(w, "Merged revision %d of %s into %s as %s\n", res.Revision, id.Short(), res.Branch.Short(), shortHash(res.Commit))
	}
	if !res.Recorded && res.Style != merge.UpToDate {
		fmt.Fprintln(w, "Merge was already recorded on the patch")
	}
	return nil
}

type mergeOutput struct {
	Patch    cob.ObjectID `json:"patch"`
	Style    string       `json:"style"`
	Revision int          `json:"revision"`
	Branch   string       `json:"branch"`
	Head     string       `json:"head"`
	Recorded bool         `json:"recorded"`
}
