package cli

import (
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/spf13/cobra"
)

type txFlags struct {
	id       string
	amount   string
	txType   string
	category string
	goal     string
	when     string
	note     string
}

func (f *txFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount, e.g. 12.50")
	cmd.Flags().StringVarP(&f.txType, "type", "t", string(models.TxExpense), "income, expense, transfer or adjustment")
	cmd.Flags().StringVar(&f.category, "category", "", "category id")
	cmd.Flags().StringVar(&f.goal, "goal", "", "goal id")
	cmd.Flags().StringVar(&f.when, "when", "", `when it happened: "yesterday", "2024-05-01", RFC 3339 (default now)`)
	cmd.Flags().StringVar(&f.note, "note", "", "free-form note")
}

// apply copies the flags that were set on cmd onto t.
func (f *txFlags) apply(cmd *cobra.Command, s *session, t *models.Transaction) error {
	changed := cmd.Flags().Changed
	if changed("amount") {
		cents, err := models.ParseAmount(f.amount)
		if err != nil {
			return err
		}
		t.AmountCents = cents
	}
	if changed("type") || t.Type == "" {
		t.Type = models.TransactionType(f.txType)
	}
	if changed("category") {
		t.CategoryID = f.category
	}
	if changed("goal") {
		t.GoalID = f.goal
	}
	if changed("when") || t.OccurredAt == 0 {
		at, err := parseWhen(f.when, s.app.now())
		if err != nil {
			return err
		}
		t.OccurredAt = at.UnixMilli()
	}
	if changed("note") {
		t.Note = f.note
	}
	return nil
}

func newTxCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transaction", "transactions"},
		Short:   "Manage transactions",
	}
	cmd.AddCommand(newTxAddCommand(s), newTxListCommand(s), newTxUpdateCommand(s), newDeleteCommand(s, models.KindTransactions))
	return cmd
}

func newTxAddCommand(s *session) *cobra.Command {
	var f txFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction",
		Example: `  finkeeper tx add --amount 15.00 --type expense --category food --when yesterday
  finkeeper tx add --amount 2500 --type income --note salary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("amount") {
				return fmt.Errorf("--amount is required")
			}
			t := &models.Transaction{Base: models.Base{ID: f.id}}
			if err := f.apply(cmd, s, t); err != nil {
				return err
			}
			e, err := s.app.ledger.Create(cmd.Context(), t)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created transaction %s\n", e.Meta().ID)
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&f.id, "id", "", "explicit id (default a new UUID)")
	return cmd
}

func newTxUpdateCommand(s *session) *cobra.Command {
	var f txFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := s.app.ledger.Get(ctx, models.KindTransactions, args[0])
			if err != nil {
				return err
			}
			t := e.(*models.Transaction)
			if err := f.apply(cmd, s, t); err != nil {
				return err
			}
			if _, err := s.app.ledger.Update(ctx, t); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "updated transaction %s\n", t.ID)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newTxListCommand(s *session) *cobra.Command {
	var (
		from, to, category, goal string
		limit                    int
		deleted                  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := s.app.now()
			fromMs, err := parseWhenMillis(from, now)
			if err != nil {
				return err
			}
			toMs, err := parseWhenMillis(to, now)
			if err != nil {
				return err
			}

			txs, err := s.app.ledger.ListTransactions(cmd.Context(), records.Filter{
				From: fromMs, To: toMs, CategoryID: category, GoalID: goal,
				IncludeDeleted: deleted, Limit: limit,
			})
			if err != nil {
				return err
			}

			w := newTable(cmd.OutOrStdout())
			printf(w, "ID\tDATE\tTYPE\tAMOUNT\tCATEGORY\tGOAL\tNOTE\n")
			for _, t := range txs {
				id := t.ID
				if t.Deleted {
					id += " (deleted)"
				}
				printf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, formatDate(t.OccurredAt), t.Type,
					formatSigned(t), orDash(t.CategoryID), orDash(t.GoalID), orDash(t.Note))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only transactions on or after this date")
	cmd.Flags().StringVar(&to, "to", "", "only transactions on or before this date")
	cmd.Flags().StringVar(&category, "category", "", "only this category id")
	cmd.Flags().StringVar(&goal, "goal", "", "only this goal id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include deleted transactions")
	return cmd
}

// newDeleteCommand soft-deletes one entity of kind.
func newDeleteCommand(s *session, kind models.Kind) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   fmt.Sprintf("Delete from %s", kind),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.app.ledger.Delete(cmd.Context(), kind, args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "deleted %s %s\n", kind, args[0])
			return nil
		},
	}
}
