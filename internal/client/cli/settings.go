package cli

import (
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/spf13/cobra"
)

func newSettingsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := s.app.ledger.Settings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd, st)
			return nil
		},
	}

	var (
		currency, locale string
		firstDay         int
	)
	set := &cobra.Command{
		Use:     "set",
		Short:   "Change settings",
		Example: `  finkeeper settings set --currency EUR --first-day 25`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := s.app.ledger.Settings(ctx)
			if err != nil {
				return err
			}
			changed := cmd.Flags().Changed
			if changed("currency") {
				st.Currency = currency
			}
			if changed("locale") {
				st.Locale = locale
			}
			if changed("first-day") {
				st.FirstDayOfMonth = firstDay
			}
			saved, err := s.app.ledger.SaveSettings(ctx, st)
			if err != nil {
				return err
			}
			printSettings(cmd, saved)
			return nil
		},
	}
	set.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency code")
	set.Flags().StringVar(&locale, "locale", "", "display locale, e.g. en-US")
	set.Flags().IntVar(&firstDay, "first-day", 1, "first day of the budgeting month (1-28)")

	cmd.AddCommand(show, set)
	return cmd
}

func printSettings(cmd *cobra.Command, st *models.Settings) {
	w := newTable(cmd.OutOrStdout())
	printf(w, "Currency:\t%s\n", st.Currency)
	printf(w, "Locale:\t%s\n", orDash(st.Locale))
	printf(w, "First day of month:\t%d\n", st.FirstDayOfMonth)
	printf(w, "Updated:\t%s\n", formatTime(st.UpdatedAt))
	_ = w.Flush()
}
