package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and clean the change queue",
	}

	poisoned := &cobra.Command{
		Use:   "poisoned",
		Short: "List changes that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := s.app.ledger.PoisonedEntries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				printf(out, "no stuck changes\n")
				return nil
			}
			w := newTable(out)
			printf(w, "ENTRY\tKIND\tID\tOP\tQUEUED\tRETRIES\tLAST ERROR\n")
			for _, e := range entries {
				printf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.Kind, e.EntityID, e.Operation,
					formatTime(e.CreatedAt), e.RetryCount, orDash(e.LastError))
			}
			return w.Flush()
		},
	}

	var (
		syncedOlder, poisonedOlder time.Duration
		yes                        bool
	)
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove acknowledged and, optionally, stuck changes",
		Long: `Remove acknowledged queue entries older than --synced-older.

Stuck (poisoned) changes are kept unless --poisoned-older is set. Purging them
drops the local intent for good: the change will never reach the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if poisonedOlder > 0 && !yes {
				ok, err := Confirm(s.reader, fmt.Sprintf("Drop stuck changes older than %s?", poisonedOlder), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if !ok {
					poisonedOlder = 0
				}
			}
			n, err := s.app.ledger.PurgeQueue(cmd.Context(), syncedOlder, poisonedOlder)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "removed %d queue entries\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&syncedOlder, "synced-older", 7*24*time.Hour, "age of acknowledged entries to remove")
	purge.Flags().DurationVar(&poisonedOlder, "poisoned-older", 0, "age of stuck entries to remove, 0 keeps them")
	purge.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(poisoned, purge)
	return cmd
}
