package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/issue"
	"github.com/adalundhe/rad/core/cob/label"
	"github.com/adalundhe/rad/core/cob/patch"
	"github.com/adalundhe/rad/core/cob/user"
	"github.com/adalundhe/rad/core/config"
	"github.com/adalundhe/rad/core/database"
	raderrors "github.com/adalundhe/rad/core/errors"
	radgit "github.com/adalundhe/rad/core/git"
	"github.com/adalundhe/rad/core/identity"
	"github.com/adalundhe/rad/core/storage"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"
)

// =============================================================================
// Session
// =============================================================================

// session holds what one command invocation needs: configuration, the
// profile registry, the local identity and the project repository.
type session struct {
	ctx      context.Context
	cfg      *config.Config
	dirs     *storage.Dirs
	logger   *slog.Logger
	db       *database.Manager
	registry *identity.Registry
	resolver *identity.Resolver

	// local is nil until an identity exists.
	local *identity.Local

	// git and store are nil for commands that run outside a repository.
	git   *radgit.Client
	store *cob.Store
}

type sessionOptions struct {
	repo     bool
	identity bool
}

// openSession loads configuration and opens what opts asks for. The caller
// must close the session.
func openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s := &session{ctx: ctx, dirs: storage.ResolveDirs()}

	var projectRoot string
	if opts.repo {
		c, err := radgit.Open(repoDir)
		if err != nil {
			return nil, raderrors.New(raderrors.ClassResolution, "open repository", err).
				WithHint("run rad inside a git repository or pass --repo")
		}
		s.git = c
		projectRoot = c.Path()
	}

	mgr := config.NewManager(s.dirs, projectRoot)
	mgr.OnChange(func(cfg *config.Config) {
		s.logger = newLogger(cmd.ErrOrStderr(), cfg.Log, verbose)
		slog.SetDefault(s.logger)
	})
	if err := mgr.Load(); err != nil {
		return nil, raderrors.New(raderrors.ClassValidation, "load config", err)
	}
	s.cfg = mgr.Get()

	if err := s.dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}
	s.db = database.NewManager(s.dirs)
	registry, err := identity.OpenRegistry(ctx, s.db, s.cfg.Identity.Registry)
	if err != nil {
		s.close()
		return nil, err
	}
	s.registry = registry
	if s.resolver, err = identity.NewResolver(registry, s.cfg.Identity.CacheSize); err != nil {
		s.close()
		return nil, err
	}

	local, err := identity.LoadLocal(ctx, s.cfg.Identity.Key, registry)
	switch {
	case errors.Is(err, identity.ErrNoIdentity):
		if opts.identity {
			s.close()
			return nil, raderrors.New(raderrors.ClassResolution, "load identity", err).
				WithHint("create one with `rad self init --name <name>`")
		}
	case err != nil:
		s.close()
		return nil, err
	default:
		s.local = local
	}

	if s.git != nil {
		cfg := cob.StoreConfig{Namespace: s.namespace(), Logger: s.logger}
		if s.local != nil {
			cfg.Signer = s.local.Signer
		}
		if s.store, err = cob.NewStore(s.git.Repository(), cfg); err != nil {
			s.close()
			return nil, err
		}
	}

	s.logger.Debug("session opened", "namespace", s.namespace(), "identity", s.local != nil)
	return s, nil
}

func (s *session) close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close databases", "error", err)
		}
	}
}

// namespace is the configured namespace, or one derived from the
// repository path.
func (s *session) namespace() string {
	if s.cfg.Cob.Namespace != "" {
		return s.cfg.Cob.Namespace
	}
	if s.git == nil {
		return ""
	}
	return storage.ProjectHash(s.git.Path())
}

// author is the local identity as an object author. Sessions opened
// without an identity get the zero author and a read-only store.
func (s *session) author() cob.Author {
	if s.local == nil {
		return cob.Author{}
	}
	return cob.NewAuthor(s.local.URN(), s.local.PeerID())
}

func (s *session) issues() *issue.Store {
	return issue.NewStore(s.store, s.author(), time.Now)
}

func (s *session) patches() *patch.Store {
	return patch.NewStore(s.store, s.author(), time.Now)
}

func (s *session) labels() *label.Store {
	return label.NewStore(s.store, time.Now)
}

func (s *session) users() (*user.Store, error) {
	return user.OpenStore(s.git.Repository(), s.local.URN(), cob.StoreConfig{
		Signer: s.local.Signer,
		Logger: s.logger,
	})
}

// committer is the configured committer override.
func (s *session) committer() object.Signature {
	return object.Signature{
		Name:  s.cfg.Git.CommitterName,
		Email: s.cfg.Git.CommitterEmail,
		When:  time.Now(),
	}
}

// =============================================================================
// Logging
// =============================================================================

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// =============================================================================
// Identifiers
// =============================================================================

func parseIdentifier(s string) (cob.Identifier, error) {
	ident, err := cob.ParseIdentifier(s)
	if err != nil {
		return cob.Identifier{}, raderrors.New(raderrors.ClassValidation, "parse id", err).
			WithHint("ids are hex object ids or unique prefixes of them")
	}
	return ident, nil
}

func parseLabels(names []string) ([]label.Name, error) {
	out := make([]label.Name, 0, len(names))
	for _, n := range names {
		name, err := label.ParseName(n)
		if err != nil {
			return nil, raderrors.New(raderrors.ClassValidation, "parse label", err)
		}
		out = append(out, name)
	}
	return out, nil
}

func parseCommentID(s string) (cob.CommentID, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, raderrors.New(raderrors.ClassValidation, "parse comment id",
			fmt.Errorf("%w: %q", cob.ErrUnknownComment, s))
	}
	return cob.CommentID(id), nil
}
