// Package cmd provides the operator commands for the favorites indexer.
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/faveindex/internal/app"
	"github.com/faveindex/internal/config"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/service"
	"github.com/faveindex/internal/storage"
)

// Backend is the set of operations the CLI drives
type Backend interface {
	Status(ctx context.Context, userID string) (*service.AccountStatus, error)
	RequestIndex(ctx context.Context, userID string, rounds int) (int, error)
	Run(ctx context.Context, userID string, rounds int) (*models.RunOutcome, error)
	Delete(ctx context.Context, userID string) error
	ReindexAll(ctx context.Context) (int, error)
	PurgeAll(ctx context.Context) (int, error)
	ExportIDs(ctx context.Context, userID string) ([]string, error)
	Unlock(ctx context.Context, userID string) error
	UnlockAll(ctx context.Context) (int64, error)
	Close()
}

// Opener builds a Backend on first use
type Opener func(ctx context.Context) (Backend, error)

type appBackend struct {
	*service.AccountService
	engine *service.IndexingService
	users  *storage.UserRepository
	deps   *app.App
}

func (b *appBackend) Run(ctx context.Context, userID string, rounds int) (*models.RunOutcome, error) {
	return b.engine.Run(ctx, userID, rounds)
}

func (b *appBackend) UnlockAll(ctx context.Context) (int64, error) {
	return b.users.ReleaseAllLocks(ctx)
}

func (b *appBackend) Close() { b.deps.Close() }

func openApp(ctx context.Context) (Backend, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	app.InitLogging(cfg)

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	deps, err := app.New(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	return &appBackend{
		AccountService: deps.AccountService(),
		engine:         deps.IndexingService(),
		users:          deps.Users,
		deps:           deps,
	}, nil
}

// session lazily opens the backend so --help never touches a database
type session struct {
	open    Opener
	backend Backend
}

func (s *session) get(ctx context.Context) (Backend, error) {
	if s.backend == nil {
		b, err := s.open(ctx)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}
	return s.backend, nil
}

func (s *session) close() {
	if s.backend != nil {
		s.backend.Close()
		s.backend = nil
	}
}

// NewRootCmd creates the root command. open is called at most once, by the
// first subcommand that needs the backend.
func NewRootCmd(open Opener) *cobra.Command {
	s := &session{open: open}

	cmd := &cobra.Command{
		Use:   "faveindexctl",
		Short: "Operate the favorites indexer",
		Long: `faveindexctl inspects and maintains the favorites indexer:
queue indexing jobs, run one inline, clear stuck locks, export indexed ids
and purge accounts.

Connection settings come from the same environment and .env file as the
server and worker.`,
		SilenceUsage: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			s.close()
		},
	}

	cmd.AddCommand(newStatusCmd(s))
	cmd.AddCommand(newEnqueueCmd(s))
	cmd.AddCommand(newRunCmd(s))
	cmd.AddCommand(newReindexAllCmd(s))
	cmd.AddCommand(newExportIDsCmd(s))
	cmd.AddCommand(newUnlockCmd(s))
	cmd.AddCommand(newDeleteCmd(s))
	cmd.AddCommand(newPurgeCmd(s))

	return cmd
}

// Execute runs the CLI against the configured environment
func Execute() error {
	return NewRootCmd(openApp).ExecuteContext(context.Background())
}
