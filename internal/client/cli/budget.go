package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/spf13/cobra"
)

// periodWindow returns the [start, end) window of a budget period beginning
// at start. Custom periods need an explicit end.
func periodWindow(p models.BudgetPeriod, start time.Time) (time.Time, time.Time, error) {
	switch p {
	case models.PeriodWeekly:
		return start, start.AddDate(0, 0, 7), nil
	case models.PeriodMonthly:
		return start, start.AddDate(0, 1, 0), nil
	case models.PeriodYearly:
		return start, start.AddDate(1, 0, 0), nil
	case models.PeriodCustom:
		return time.Time{}, time.Time{}, fmt.Errorf("a custom period needs --end")
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", p)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func newBudgetCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "budget",
		Aliases: []string{"budgets"},
		Short:   "Manage budgets",
	}

	var (
		b                  models.Budget
		period, amount     string
		startFlag, endFlag string
	)
	add := &cobra.Command{
		Use:     "add",
		Short:   "Allocate a budget to a category",
		Example: `  finkeeper budget add --category food --amount 400 --period monthly`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cents, err := models.ParseAmount(amount)
			if err != nil {
				return err
			}
			b.AllocatedCents = cents
			b.Period = models.BudgetPeriod(period)

			now := s.app.now()
			start := monthStart(now)
			if startFlag != "" {
				if start, err = parseWhen(startFlag, now); err != nil {
					return err
				}
			}

			var end time.Time
			if endFlag != "" {
				if end, err = parseWhen(endFlag, now); err != nil {
					return err
				}
			} else if start, end, err = periodWindow(b.Period, start); err != nil {
				return err
			}
			b.PeriodStart, b.PeriodEnd = start.UnixMilli(), end.UnixMilli()

			e, err := s.app.ledger.Create(cmd.Context(), &b)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created budget %s\n", e.Meta().ID)
			return nil
		},
	}
	add.Flags().StringVar(&b.ID, "id", "", "explicit id (default a new UUID)")
	add.Flags().StringVar(&b.CategoryID, "category", "", "category id")
	add.Flags().StringVar(&amount, "amount", "0", "allocated amount")
	add.Flags().StringVar(&period, "period", string(models.PeriodMonthly), "weekly, monthly, yearly or custom")
	add.Flags().StringVar(&startFlag, "start", "", "period start (default start of this month)")
	add.Flags().StringVar(&endFlag, "end", "", "period end (default derived from --period)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := s.app.ledger.List(cmd.Context(), models.KindBudgets, records.Filter{})
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			printf(w, "ID\tCATEGORY\tPERIOD\tFROM\tTO\tALLOCATED\n")
			for _, e := range items {
				b := e.(*models.Budget)
				printf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.CategoryID, b.Period,
					formatDate(b.PeriodStart), formatDate(b.PeriodEnd), models.FormatAmount(b.AllocatedCents))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list, newDeleteCommand(s, models.KindBudgets))
	return cmd
}
