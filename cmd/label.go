package cmd

import (
	"fmt"

	"github.com/adalundhe/rad/core/cob/label"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/spf13/cobra"
)

var (
	labelColor       string
	labelDescription string
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage label objects",
}

var labelCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a label",
	Args:  cobra.ExactArgs(1),
	RunE:  runLabelCreate,
}

var labelShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a label",
	Args:  cobra.ExactArgs(1),
	RunE:  runLabelShow,
}

var labelListCmd = &cobra.Command{
	Use:   "list [pattern...]",
	Short: "List labels, optionally filtered by glob patterns",
	RunE:  runLabelList,
}

func init() {
	rootCmd.AddCommand(labelCmd)
	labelCmd.AddCommand(labelCreateCmd)
	labelCmd.AddCommand(labelShowCmd)
	labelCmd.AddCommand(labelListCmd)

	labelCreateCmd.Flags().StringVarP(&labelColor, "color", "c", "#808080", "Color as #rrggbb")
	labelCreateCmd.Flags().StringVarP(&labelDescription, "description", "d", "", "Label description")
}

func runLabelCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	color, err := label.ParseColor(labelColor)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse color", err)
	}
	l, err := label.New(args[0], labelDescription, color)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "create label", err)
	}
	id, err := s.labels().Create(l)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runLabelShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	id, l, err := s.labels().Resolve(ident)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listing[label.Label]{ID: id, Value: l})
	}
	fmt.Fprintf(w, "Name:         %s\n", l.Name)
	fmt.Fprintf(w, "ID:           %s\n", id)
	fmt.Fprintf(w, "Color:        %s\n", l.Color)
	fmt.Fprintf(w, "Description:  %s\n", l.Description)
	return nil
}

func runLabelList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	filter, err := label.NewFilter(args...)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse label filter", err)
	}
	labels, err := s.labels().Find(filter)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listings(labels))
	}
	if len(labels) == 0 {
		fmt.Fprintln(w, "No labels found.")
		return nil
	}
	tw := newTable(w, "ID", "NAME", "COLOR", "DESCRIPTION")
	for _, o := range labels {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID.Short(), o.Value.Name, o.Value.Color, truncate(o.Value.Description, 60))
	}
	return tw.Flush()
}
