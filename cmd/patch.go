package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/cob/patch"
	raderrors "github.com/adalundhe/rad/core/errors"
	radgit "github.com/adalundhe/rad/core/git"
	"github.com/adalundhe/rad/core/identity"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"
)

// =============================================================================
// Patch Command Flags
// =============================================================================

var (
	patchTitle       string
	patchDescription string
	patchMessage     string
	patchTarget      string
	patchBase        string
	patchHead        string
	patchDraft       bool
	patchLabels      []string
	patchRevision    int
	patchVerdict     string
	patchState       string
	patchMine        bool
	patchTagName     string
)

// =============================================================================
// Patch Commands
// =============================================================================

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Manage patches",
}

var patchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Propose a patch",
	Long: `Propose the commit named by --head as a new patch. --base defaults to
the first parent of the head commit.`,
	Args: cobra.NoArgs,
	RunE: runPatchCreate,
}

var patchUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Add a revision to a patch",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchUpdate,
}

var patchCommentCmd = &cobra.Command{
	Use:   "comment <id>",
	Short: "Comment on a patch revision",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchComment,
}

var patchReplyCmd = &cobra.Command{
	Use:   "reply <id> <comment>",
	Short: "Reply to a comment of a patch revision",
	Args:  cobra.ExactArgs(2),
	RunE:  runPatchReply,
}

var patchReviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Review a patch revision",
	Long:  `Write or replace your review of a revision. Verdicts are accept, reject and pass.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchReview,
}

var patchStateCmd = &cobra.Command{
	Use:   "state <id> <draft|proposed|archived>",
	Short: "Change the state of a patch",
	Args:  cobra.ExactArgs(2),
	RunE:  runPatchState,
}

var patchLabelCmd = &cobra.Command{
	Use:   "label <id> [label...]",
	Short: "Replace the labels of a patch",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPatchLabel,
}

var patchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patches",
	Args:  cobra.NoArgs,
	RunE:  runPatchList,
}

var patchShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a patch with its revisions",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatchShow,
}

var patchTagCmd = &cobra.Command{
	Use:   "tag [id]",
	Short: "Mirror a patch as a patches/ tag, or list the mirrored patches",
	Long: `With an id, write the annotated tag patches/<name> at the latest revision
of the patch. Without one, list the patches/ tags and whether HEAD contains them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPatchTag,
}

// =============================================================================
// Init
// =============================================================================

func init() {
	rootCmd.AddCommand(patchCmd)
	patchCmd.AddCommand(patchCreateCmd)
	patchCmd.AddCommand(patchUpdateCmd)
	patchCmd.AddCommand(patchCommentCmd)
	patchCmd.AddCommand(patchReplyCmd)
	patchCmd.AddCommand(patchReviewCmd)
	patchCmd.AddCommand(patchStateCmd)
	patchCmd.AddCommand(patchLabelCmd)
	patchCmd.AddCommand(patchListCmd)
	patchCmd.AddCommand(patchShowCmd)
	patchCmd.AddCommand(patchTagCmd)

	patchCreateCmd.Flags().StringVarP(&patchTitle, "title", "t", "", "Patch title")
	patchCreateCmd.Flags().StringVarP(&patchDescription, "description", "d", "", "Patch description")
	patchCreateCmd.Flags().StringVar(&patchTarget, "target", "upstream", "Branch to merge into (upstream is the default branch)")
	patchCreateCmd.Flags().StringVar(&patchHead, "head", "HEAD", "Revision to propose")
	patchCreateCmd.Flags().StringVar(&patchBase, "base", "", "Commit the patch is based on")
	patchCreateCmd.Flags().BoolVar(&patchDraft, "draft", false, "Open the patch as a draft")
	patchCreateCmd.Flags().StringSliceVarP(&patchLabels, "label", "l", nil, "Label to add (repeatable)")

	patchUpdateCmd.Flags().StringVarP(&patchMessage, "message", "m", "", "Description of the revision")
	patchUpdateCmd.Flags().StringVar(&patchHead, "head", "HEAD", "Revision to propose")
	patchUpdateCmd.Flags().StringVar(&patchBase, "base", "", "Commit the revision is based on")

	for _, c := range []*cobra.Command{patchCommentCmd, patchReplyCmd, patchReviewCmd} {
		c.Flags().StringVarP(&patchMessage, "message", "m", "", "Comment body")
		c.Flags().IntVarP(&patchRevision, "revision", "r", -1, "Revision index (default latest)")
	}
	patchReviewCmd.Flags().StringVar(&patchVerdict, "verdict", "pass", "Verdict (accept, reject, pass)")

	patchListCmd.Flags().StringVar(&patchState, "state", "", "Only list patches in this state")
	patchListCmd.Flags().StringSliceVarP(&patchLabels, "label", "l", nil, "Label pattern to match (repeatable)")
	patchListCmd.Flags().BoolVar(&patchMine, "mine", false, "Only list proposed patches opened by you")

	patchTagCmd.Flags().StringVar(&patchTagName, "name", "", "Tag name under patches/ (default short id)")
}

// =============================================================================
// Writes
// =============================================================================

// revisionCommits resolves the --head and --base flags.
func revisionCommits(s *session) (base, head plumbing.Hash, err error) {
	head, err = s.git.ResolveCommit(patchHead)
	if err != nil {
		return base, head, raderrors.New(raderrors.ClassResolution, "resolve --head", err)
	}
	if patchBase != "" {
		base, err = s.git.ResolveCommit(patchBase)
		if err != nil {
			return base, head, raderrors.New(raderrors.ClassResolution, "resolve --base", err)
		}
		return base, head, nil
	}
	commit, err := s.git.Commit(head)
	if err != nil {
		return base, head, err
	}
	if len(commit.ParentHashes) == 0 {
		return head, head, nil
	}
	return commit.ParentHashes[0], head, nil
}

func runPatchCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	target, err := patch.ParseTarget(patchTarget)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse target", err)
	}
	labels, err := parseLabels(patchLabels)
	if err != nil {
		return err
	}
	base, head, err := revisionCommits(s)
	if err != nil {
		return err
	}

	id, err := s.patches().Create(patch.NewPatch{
		Title:       patchTitle,
		Description: patchDescription,
		Target:      target,
		Base:        base,
		Oid:         head,
		Labels:      labels,
		Draft:       patchDraft,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

// withPatch resolves args[0] and calls fn with a writable store.
func withPatch(cmd *cobra.Command, args []string, fn func(*session, *patch.Store, cob.ObjectID, patch.Patch) error) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	store := s.patches()
	id, p, err := store.Resolve(ident)
	if err != nil {
		return err
	}
	return fn(s, store, id, p)
}

// revisionIndex is the --revision flag, or the latest revision of p.
func revisionIndex(p patch.Patch) int {
	if patchRevision < 0 {
		i, _ := p.Latest()
		return i
	}
	return patchRevision
}

func runPatchUpdate(cmd *cobra.Command, args []string) error {
	return withPatch(cmd, args, func(s *session, store *patch.Store, id cob.ObjectID, _ patch.Patch) error {
		base, head, err := revisionCommits(s)
		if err != nil {
			return err
		}
		rev, err := store.Update(id, patchMessage, base, head)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revision %d\n", rev)
		return nil
	})
}

func runPatchComment(cmd *cobra.Command, args []string) error {
	return withPatch(cmd, args, func(_ *session, store *patch.Store, id cob.ObjectID, p patch.Patch) error {
		return store.Comment(id, revisionIndex(p), patchMessage)
	})
}

func runPatchReply(cmd *cobra.Command, args []string) error {
	parent, err := parseCommentID(args[1])
	if err != nil {
		return err
	}
	return withPatch(cmd, args, func(_ *session, store *patch.Store, id cob.ObjectID, p patch.Patch) error {
		return store.Reply(id, revisionIndex(p), parent, patchMessage)
	})
}

func runPatchReview(cmd *cobra.Command, args []string) error {
	verdict, err := patch.ParseVerdict(patchVerdict)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse verdict", err)
	}
	return withPatch(cmd, args, func(_ *session, store *patch.Store, id cob.ObjectID, p patch.Patch) error {
		return store.Review(id, revisionIndex(p), verdict, patchMessage, nil)
	})
}

func runPatchState(cmd *cobra.Command, args []string) error {
	state, err := patch.ParseState(args[1])
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse state", err)
	}
	return withPatch(cmd, args, func(_ *session, store *patch.Store, id cob.ObjectID, _ patch.Patch) error {
		return store.Lifecycle(id, state)
	})
}

func runPatchLabel(cmd *cobra.Command, args []string) error {
	labels, err := parseLabels(args[1:])
	if err != nil {
		return err
	}
	return withPatch(cmd, args, func(_ *session, store *patch.Store, id cob.ObjectID, _ patch.Patch) error {
		return store.Label(id, labels)
	})
}

// =============================================================================
// Reads
// =============================================================================

func runPatchList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true, identity: patchMine})
	if err != nil {
		return err
	}
	defer s.close()

	var state patch.State
	if patchState != "" {
		if state, err = patch.ParseState(patchState); err != nil {
			return raderrors.New(raderrors.ClassValidation, "parse state", err)
		}
	}
	filter, err := label.NewFilter(patchLabels...)
	if err != nil {
		return raderrors.New(raderrors.ClassValidation, "parse label filter", err)
	}

	store := s.patches()
	var patches []cob.Object[patch.Patch]
	switch {
	case patchMine:
		patches, err = store.ProposedBy(s.local.URN())
	case state == patch.StateProposed:
		patches, err = store.Proposed()
	default:
		patches, err = store.All()
	}
	if err != nil {
		return err
	}

	var shown []cob.Object[patch.Patch]
	for _, o := range patches {
		if (state == "" || o.Value.State == state) && filter.MatchAny(o.Value.Labels) {
			if err := o.Value.Author.Resolve(s.ctx, s.resolver); err != nil {
				s.logger.Warn("resolve author", "urn", o.Value.Author.URN, "error", err)
			}
			shown = append(shown, o)
		}
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listings(shown))
	}
	if len(shown) == 0 {
		fmt.Fprintln(w, "No patches found.")
		return nil
	}
	tw := newTable(w, "ID", "STATE", "TITLE", "AUTHOR", "REVS", "TARGET", "LABELS")
	for _, o := range shown {
		p := o.Value
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			o.ID.Short(), p.State, truncate(p.Title, 50), p.Author.Name(), len(p.Revisions),
			p.Target, formatLabels(label.Sorted(p.Labels)))
	}
	return tw.Flush()
}

func runPatchShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	ident, err := parseIdentifier(args[0])
	if err != nil {
		return err
	}
	id, p, err := s.patches().Resolve(ident)
	if err != nil {
		return err
	}
	if err := p.Resolve(s.ctx, s.resolver); err != nil {
		s.logger.Warn("resolve authors", "patch", id.Short(), "error", err)
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, listing[patch.Patch]{ID: id, Value: p})
	}
	fmt.Fprintf(w, "%s\n", p.Title)
	fmt.Fprintf(w, "ID:      %s\n", id)
	fmt.Fprintf(w, "State:   %s\n", p.State)
	fmt.Fprintf(w, "Target:  %s\n", p.Target)
	fmt.Fprintf(w, "Author:  %s\n", p.Author.Name())
	fmt.Fprintf(w, "Labels:  %s\n", formatLabels(label.Sorted(p.Labels)))
	fmt.Fprintf(w, "Opened:  %s\n", formatTime(p.Timestamp))

	for i, rev := range p.Revisions {
		fmt.Fprintf(w, "\nRevision %d  %s  (base %s) by %s, %s\n",
			i, shortHash(rev.Oid), shortHash(rev.Base), rev.Author.Name(), formatTime(rev.Timestamp))
		if body := strings.TrimSpace(rev.Comment.Body); body != "" {
			writeBody(w, body, "  ")
		}
		for _, m := range rev.Merges {
			fmt.Fprintf(w, "  merged as %s by %s, %s\n", shortHash(m.Commit), m.Peer.Short(), formatTime(m.Timestamp))
		}
		writeReviews(w, rev.Reviews)
		if len(rev.Discussion) > 0 {
			writeThreads(w, rev.Discussion, 1)
		}
	}
	return nil
}

func writeReviews(w io.Writer, reviews map[identity.URN]patch.Review) {
	urns := make([]identity.URN, 0, len(reviews))
	for urn := range reviews {
		urns = append(urns, urn)
	}
	sort.Slice(urns, func(i, j int) bool { return urns[i] < urns[j] })
	for _, urn := range urns {
		r := reviews[urn]
		fmt.Fprintf(w, "  review %s by %s\n", r.Verdict, r.Author.Name())
		if r.Comment != nil && r.Comment.Body != "" {
			writeBody(w, r.Comment.Body, "    ")
		}
		for _, c := range r.Inline {
			fmt.Fprintf(w, "    %s:%d-%d\n", c.Location.Path, c.Location.Start, c.Location.End)
			writeBody(w, c.Comment.Body, "      ")
		}
	}
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

// =============================================================================
// Tag Mirror
// =============================================================================

func runPatchTag(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listPatchTags(cmd)
	}
	return withPatch(cmd, args, func(s *session, _ *patch.Store, id cob.ObjectID, p patch.Patch) error {
		name := patchTagName
		if name == "" {
			name = id.Short()
		}
		_, rev := p.Latest()
		tagger, err := s.git.Signature(s.committer())
		if err != nil {
			return raderrors.New(raderrors.ClassValidation, "tag patch", err).
				WithHint("set git user.name and user.email")
		}

		message := p.Title
		if desc := strings.TrimSpace(p.Description()); desc != "" {
			message += "\n\n" + desc
		}
		ref, err := s.git.PublishPatchTag(name, rev.Oid, message, []radgit.Trailer{
			{Key: radgit.TrailerCob, Value: id.String()},
			{Key: radgit.TrailerAuthor, Value: p.Author.URN.String()},
			{Key: radgit.TrailerPeer, Value: rev.Author.Peer.String()},
		}, tagger)
		if err != nil {
			return raderrors.Wrap(raderrors.ClassStorage, "tag patch", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ref.Name().Short())
		return nil
	})
}

func listPatchTags(cmd *cobra.Command) error {
	s, err := openSession(cmd, sessionOptions{repo: true})
	if err != nil {
		return err
	}
	defer s.close()

	tags, err := s.git.PatchTags()
	if err != nil {
		return raderrors.Wrap(raderrors.ClassStorage, "list patch tags", err)
	}

	w := cmd.OutOrStdout()
	if format() == OutputJSON {
		return writeJSON(w, tags)
	}
	if len(tags) == 0 {
		fmt.Fprintln(w, "No patch tags found.")
		return nil
	}
	tw := newTable(w, "TAG", "COMMIT", "STATE", "PATCH")
	for _, t := range tags {
		cobID, _ := radgit.TrailerValue(t.Trailers, radgit.TrailerCob)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", radgit.PatchTagPrefix+t.Name, shortHash(t.Commit), t.State, cobID)
	}
	return tw.Flush()
}
