package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/spf13/cobra"
)

// execFn runs one shell line split into arguments.
type execFn func(ctx context.Context, args []string) error

// runREPL reads lines from reader and hands them to exec until EOF or
// "exit". Errors are printed and do not stop the loop. Commands that prompt
// read from the same reader.
func runREPL(ctx context.Context, out io.Writer, exec execFn, statusFn func() string, reader *bufio.Reader) {
	for {
		printf(out, "finkeeper %s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			printf(out, "\n")
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			printf(out, "Bye!\n")
			return
		case "shell", "daemon":
			printf(out, "%s is not available inside the shell\n", parts[0])
			continue
		}

		if err := exec(ctx, parts); err != nil {
			printf(out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// shellStatus renders "(online, 2 pending)" style prompt decorations.
func shellStatus(ctx context.Context, e *syncer.Engine) string {
	st, err := e.Status(ctx)
	if err != nil {
		return "(store unavailable)"
	}
	mode := "offline"
	if st.Online {
		mode = "online"
	}
	if st.State == syncer.StateSyncing {
		mode = "syncing"
	}
	if st.Pending > 0 {
		return fmt.Sprintf("(%s, %d pending)", mode, st.Pending)
	}
	return fmt.Sprintf("(%s)", mode)
}

func newShellCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a := s.app
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = a.runBackground(ctx)
			}()

			// Subcommands share the open App; a fresh tree per line resets flag values.
			inner := &session{app: a, reader: s.reader, newApp: s.newApp, keepOpen: true}
			exec := func(ctx context.Context, args []string) error {
				root := newRootCommand(inner)
				root.SetArgs(args)
				root.SetOut(cmd.OutOrStdout())
				root.SetErr(cmd.ErrOrStderr())
				err := root.ExecuteContext(ctx)
				a.engine.Focus()
				return err
			}

			out := cmd.OutOrStdout()
			printf(out, "finkeeper shell (type 'help' for commands, 'exit' to leave)\n")
			runREPL(ctx, out, exec, func() string { return shellStatus(ctx, a.engine) }, s.reader)

			cancel()
			<-done
			return nil
		},
	}
}
