package cmd

import (
	"fmt"

	"github.com/adalundhe/rad/core/cob/user"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage your user object",
	Long: `The user object lists the projects you take part in. It is stored in a
namespace of its own, keyed by your person URN.`,
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create your user object",
	Args:  cobra.NoArgs,
	RunE:  runUserCreate,
}

var userAddProjectCmd = &cobra.Command{
	Use:   "add-project [project]",
	Short: "Record a project on your user object (default: this repository)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runUserAddProject,
}

var userShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your user object",
	Args:  cobra.NoArgs,
	RunE:  runUserShow,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userAddProjectCmd)
	userCmd.AddCommand(userShowCmd)
}

func openUsers(cmd *cobra.Command) (*session, *user.Store, error) {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return nil, nil, err
	}
	users, err := s.users()
	if err != nil {
		s.close()
		return nil, nil, err
	}
	return s, users, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	s, users, err := openUsers(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	id, err := users.Create()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runUserAddProject(cmd *cobra.Command, args []string) error {
	s, users, err := openUsers(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	project := s.namespace()
	if len(args) == 1 {
		project = args[0]
	}
	return users.AddProject(project)
}

func runUserShow(cmd *cobra.Command, args []string) error {
	s, users, err := openUsers(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	id, u, ok, err := users.Local()
	if err != nil {
		return err
	}
	if !ok {
		return raderrors.New(raderrors.ClassResolution, "show user", user.ErrNoUser).
			WithHint("create it with `rad user create`")
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listing[user.User]{ID: id, Value: u})
	}
	fmt.Fprintf(w, "ID:        %s\n", id)
	fmt.Fprintf(w, "URN:       %s\n", u.URN)
	fmt.Fprintf(w, "Created:   %s\n", formatTime(u.Timestamp))
	fmt.Fprintln(w, "Projects:")
	for _, p := range u.ProjectList() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	if len(u.Activity) > 0 {
		fmt.Fprintln(w, "Activity:")
		for _, a := range u.Activity {
			fmt.Fprintf(w, "  %s  joined %s\n", formatTime(a.Timestamp), a.Project)
		}
	}
	return nil
}
