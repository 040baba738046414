package cmd

import (
	"fmt"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/issue"
	"github.com/adalundhe/rad/core/cob/label"
	raderrors "github.com/adalundhe/rad/core/errors"
	"github.com/spf13/cobra"
)

// =============================================================================
// Issue Command Flags
// =============================================================================

var (
	issueTitle       string
	issueDescription string
	issueMessage     string
	issueLabels      []string
	issueState       string
)

// =============================================================================
// Issue Commands
// =============================================================================

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
}

var issueCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new issue",
	Args:  cobra.NoArgs,
	RunE:  runIssueCreate,
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <id>",
	Short: "Comment on an issue",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueComment,
}

var issueReplyCmd = &cobra.Command{
	Use:   "reply <id> <comment>",
	Short: "Reply to a comment",
	Long: `Reply to a comment of an issue. Comment 0 is the description;
comment n is the nth comment of the discussion.`,
	Args: cobra.ExactArgs(2),
	RunE: runIssueReply,
}

var issueReactCmd = &cobra.Command{
	Use:   "react <id> <comment> <emoji>",
	Short: "React to a comment",
	Args:  cobra.ExactArgs(3),
	RunE:  runIssueReact,
}

var issueStateCmd = &cobra.Command{
	Use:   "state <id> <open|closed|solved>",
	Short: "Change the state of an issue",
	Args:  cobra.ExactArgs(2),
	RunE:  runIssueState,
}

var issueLabelCmd = &cobra.Command{
	Use:   "label <id> [label...]",
	Short: "Replace the labels of an issue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIssueLabel,
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	Long: `List issues oldest first. --label takes glob patterns such as "area/*";
an issue matches when any of its labels matches any pattern.`,
	Args: cobra.NoArgs,
	RunE: runIssueList,
}

var issueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an issue and its discussion",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueShow,
}

// =============================================================================
// Init
// =============================================================================

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueCommentCmd)
	issueCmd.AddCommand(issueReplyCmd)
	issueCmd.AddCommand(issueReactCmd)
	issueCmd.AddCommand(issueStateCmd)
	issueCmd.AddCommand(issueLabelCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)

	issueCreateCmd.Flags().StringVarP(&issueTitle, "title", "t", "", "Issue title")
	issueCreateCmd.Flags().StringVarP(&issueDescription, "description", "d", "", "Issue description")
	issueCreateCmd.Flags().StringSliceVarP(&issueLabels, "label", "l", nil, "Label to add (repeatable)")

	issueCommentCmd.Flags().StringVarP(&issueMessage, "message", "m", "", "Comment body")
	issueReplyCmd.Flags().StringVarP(&issueMessage, "message", "m", "", "Reply body")

	issueListCmd.Flags().StringVar(&issueState, "state", "", "Only list issues in this state")
	issueListCmd.Flags().StringSliceVarP(&issueLabels, "label", "l", nil, "Label pattern to match (repeatable)")
}

// =============================================================================
// Writes
// =============================================================================

func runIssueCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	labels, err := parseLabels(issueLabels)
	if err != nil {
		return err
	}
	id, err := s.issues().Create(issueTitle, issueDescription, labels)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

// withIssue resolves args[0] and calls fn with a writable store.
func withIssue(cmd *cobra.Command, args []string, fn func(*issue.Store, cob.ObjectID) error) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	store := s.issues()
	id, _, err := store.Resolve(ident)
	if err != nil {
		return err
	}
	return fn(store, id)
}

func runIssueComment(cmd *cobra.Command, args []string) error {
	return withIssue(cmd, args, func(store *issue.Store, id cob.ObjectID) error {
		return store.Comment(id, issueMessage)
	})
}

func runIssueReply(cmd *cobra.Command, args []string) error {
	parent, err := parseCommentID(args[1])
	if err != nil {
		return err
	}
	return withIssue(cmd, args, func(store *issue.Store, id cob.ObjectID) error {
		return store.Reply(id, parent, issueMessage)
	})
}

func runIssueReact(cmd *cobra.Command, args []string) error {
	comment, err := parseCommentID(args[1])
	if err != nil {
		return err
	}
	reaction, err := cob.ParseReaction(args[2])
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse reaction", err)
	}
	return withIssue(cmd, args, func(store *issue.Store, id cob.ObjectID) error {
		return store.React(id, comment, reaction)
	})
}

func runIssueState(cmd *cobra.Command, args []string) error {
	state, err := issue.ParseState(args[1])
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse state", err)
	}
	return withIssue(cmd, args, func(store *issue.Store, id cob.ObjectID) error {
		return store.Lifecycle(id, state)
	})
}

func runIssueLabel(cmd *cobra.Command, args []string) error {
	labels, err := parseLabels(args[1:])
	if err != nil {
		return err
	}
	return withIssue(cmd, args, func(store *issue.Store, id cob.ObjectID) error {
		return store.Label(id, labels)
	})
}

// =============================================================================
// Reads
// =============================================================================

func runIssueList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	var state issue.State
	if issueState != "" {
		if state, err = issue.ParseState(issueState); err != nil {
			return raderrors.New(raderrors.ClassValidation, "parse state", err)
		}
	}
	filter, err := label.NewFilter(issueLabels...)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse label filter", err)
	}

	issues, err := s.issues().Find(func(_ cob.ObjectID, i issue.Issue) bool {
		return (state == "" || i.State == state) && filter.MatchAny(i.Labels)
	})
	if err != nil {
		return err
	}
	for i := range issues {
		if err := issues[i].Value.Author.Resolve(s.ctx, s.resolver); err != nil {
			s.logger.Warn("resolve author", "urn", issues[i].Value.Author.URN, "error", err)
		}
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listings(issues))
	}
	if len(issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return nil
	}
	tw := newTable(w, "ID", "STATE", "TITLE", "AUTHOR", "LABELS", "OPENED")
	for _, o := range issues {
		i := o.Value
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID.Short(), i.State, truncate(i.Title, 50), i.Author.Name(),
			formatLabels(i.LabelNames()), formatTime(i.Timestamp))
	}
	return tw.Flush()
}

func runIssueShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	id, i, err := s.issues().Resolve(ident)
	if err != nil {
		return err
	}
	if err := i.Resolve(s.ctx, s.resolver); err != nil {
		s.logger.Warn("resolve authors", "issue", id.Short(), "error", err)
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listing[issue.Issue]{ID: id, Value: i})
	}
	fmt.Fprintf(w, "%s\n", i.Title)
	fmt.Fprintf(w, "ID:      %s\n", id)
	fmt.Fprintf(w, "State:   %s\n", i.State)
	fmt.Fprintf(w, "Author:  %s\n", i.Author.Name())
	fmt.Fprintf(w, "Labels:  %s\n", formatLabels(i.LabelNames()))
	fmt.Fprintf(w, "Opened:  %s\n", formatTime(i.Timestamp))
	if desc := i.Description(); desc != "" {
		fmt.Fprintln(w)
		writeBody(w, desc, "  ")
	}
	writeReactions(w, i.Comment.Reactions)
	if comments := i.Comments(); len(comments) > 0 {
		fmt.Fprintln(w)
		writeThreads(w, comments, 1)
	}
	return nil
}
