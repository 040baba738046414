package cmd

import (
	"errors"
	"fmt"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/issue"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/cob/patch"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <type> <id-or-prefix>",
	Short: "Print the full id of an object",
	Long: `Resolve a full id or a unique prefix to the full object id. The type is
issue, patch, label or a full type name such as xyz.radicle.issue.`,
	Args: cobra.ExactArgs(2),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

var typeAliases = map[string]cob.TypeName{
	"issue": issue.TypeName,
	"patch": patch.TypeName,
	"label": label.TypeName,
}

func parseTypeName(s string) (cob.TypeName, error) {
	if t, ok := typeAliases[s]; ok {
		return t, nil
	}
	t, err := cob.ParseTypeName(s)
	if err != nil {
		return "", raderrors.New(raderrors.ClassValidation, "parse type", err).
			WithHint("use issue, patch, label or a dotted type name")
	}
	return t, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	typ, err := parseTypeName(args[0])
	if err != nil {
		return err
	}
	ident, err := parseIdentifier(args[1])
	if err != nil {
		return err
	}

	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	id, err := cob.ResolveID(s.store, typ, ident)
	if err != nil {
		var ambiguous *cob.AmbiguousError
		if errors.As(err, &ambiguous) {
			for _, m := range ambiguous.Matches {
				fmt.Fprintln(cmd.ErrOrStderr(), m)
			}
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
