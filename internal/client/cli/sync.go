package cli

import (
	"github.com/spf13/cobra"
)

func newSyncCommand(s *session) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one push/pull round with the server",
		Long: `Push pending local changes and pull everything changed on the server since
the last successful sync.

Changes that failed to push too many times are skipped by scheduled rounds.
--force includes them again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := s.app.engine.Round(cmd.Context(), force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			st := newStyles(out)
			printf(out, "%s pushed %d, pulled %d, kept %d local, server time %s\n",
				st.ok.Render("synced:"), res.Pushed, res.Pulled, res.Skipped, formatTime(res.ServerTime))
			for _, c := range res.Conflicts {
				printf(out, "%s %s %s: %s (yours %s, server %s)\n", st.warn.Render("conflict:"),
					c.Type, c.ID, c.Reason, formatTime(c.ClientTime), formatTime(c.ServerTime))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "also retry changes that exhausted their retries")
	return cmd
}
