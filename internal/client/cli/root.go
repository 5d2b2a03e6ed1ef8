package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/finkeeper/internal/client/config"
	"github.com/spf13/cobra"
)

// tokenFromTerminal asks for the access token when it is given as "-".
const tokenFromTerminal = "-"

// session carries the App between the persistent hooks and the commands.
type session struct {
	app    *App
	reader *bufio.Reader
	// keepOpen leaves the App open after a command, for the shell.
	keepOpen bool
	// newApp is a test seam for NewApp.
	newApp func(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error)
}

func (s *session) open(cmd *cobra.Command, _ []string) error {
	if s.app != nil {
		return nil
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.AccessToken == tokenFromTerminal {
		tok, err := GetSecret("Access token", cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg.AccessToken = tok
	}

	app, err := s.newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	s.app = app
	return nil
}

func (s *session) close(*cobra.Command, []string) error {
	if s.app == nil || s.keepOpen {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// NewRootCommand builds the finkeeper command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&session{newApp: NewApp, reader: bufio.NewReader(os.Stdin)})
}

func newRootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "finkeeper",
		Short: "Offline-first personal finance tracker",
		Long: `finkeeper keeps transactions, categories, budgets, goals and settings in a
local database and synchronizes them with a finkeeper server whenever it is
reachable. Every command works offline.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  s.open,
		PersistentPostRunE: s.close,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newTxCommand(s),
		newCategoryCommand(s),
		newBudgetCommand(s),
		newGoalCommand(s),
		newSettingsCommand(s),
		newSyncCommand(s),
		newStatusCommand(s),
		newQueueCommand(s),
		newDaemonCommand(s),
		newShellCommand(s),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
