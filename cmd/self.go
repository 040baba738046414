package cmd

import (
	"fmt"
	"time"

	"github.com/adalundhe/rad/core/identity"
	"github.com/spf13/cobra"
)

var selfName string

var selfCmd = &cobra.Command{
	Use:   "self",
	Short: "Manage the local identity",
}

var selfInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local identity",
	Long: `Create a device key and register a person profile for it.
An existing key is reused; only the profile is (re)written.`,
	Args: cobra.NoArgs,
	RunE: runSelfInit,
}

var selfShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the local identity",
	Args:  cobra.NoArgs,
	RunE:  runSelfShow,
}

func init() {
	rootCmd.AddCommand(selfCmd)
	selfCmd.AddCommand(selfInitCmd)
	selfCmd.AddCommand(selfShowCmd)

	selfInitCmd.Flags().StringVar(&selfName, "name", "", "Display name of the person")
	_ = selfInitCmd.MarkFlagRequired("name")
}

func runSelfInit(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	local, err := identity.InitLocal(s.ctx, s.cfg.Identity.Key, s.registry, selfName, time.Now())
	if err != nil {
		return err
	}
	return writeSelf(cmd, s, local)
}

func runSelfShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	return writeSelf(cmd, s, s.local)
}

func writeSelf(cmd *cobra.Command, s *session, local *identity.Local) error {
	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, local.Profile)
	}
	fmt.Fprintf(w, "Name:  %s\n", local.Profile.Name)
	fmt.Fprintf(w, "URN:   %s\n", local.URN())
	fmt.Fprintf(w, "Peer:  %s\n", local.PeerID())
	fmt.Fprintf(w, "Key:   %s\n", s.cfg.Identity.Key)
	fmt.Fprintf(w, "SSH:   %s", local.Signer.AuthorizedKey())
	return nil
}
