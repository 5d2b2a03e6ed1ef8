package cli

import (
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/spf13/cobra"
)

type goalFlags struct {
	id, name, target, saved, due string
}

func (f *goalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "goal name")
	cmd.Flags().StringVar(&f.target, "target", "", "target amount")
	cmd.Flags().StringVar(&f.saved, "saved", "", "amount saved so far")
	cmd.Flags().StringVar(&f.due, "due", "", "due date")
}

func (f *goalFlags) apply(cmd *cobra.Command, s *session, g *models.Goal) error {
	changed := cmd.Flags().Changed
	if changed("name") {
		g.Name = f.name
	}
	if changed("target") {
		cents, err := models.ParseAmount(f.target)
		if err != nil {
			return err
		}
		g.TargetCents = cents
	}
	if changed("saved") {
		cents, err := models.ParseAmount(f.saved)
		if err != nil {
			return err
		}
		g.SavedCents = cents
	}
	if changed("due") {
		due, err := parseWhenMillis(f.due, s.app.now())
		if err != nil {
			return err
		}
		g.DueAt = due
	}
	return nil
}

func newGoalCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "goal",
		Aliases: []string{"goals"},
		Short:   "Manage savings goals",
	}

	var af goalFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a savings goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := &models.Goal{Base: models.Base{ID: af.id}}
			if err := af.apply(cmd, s, g); err != nil {
				return err
			}
			e, err := s.app.ledger.Create(cmd.Context(), g)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created goal %s\n", e.Meta().ID)
			return nil
		},
	}
	af.bind(add)
	add.Flags().StringVar(&af.id, "id", "", "explicit id (default a new UUID)")

	var sf goalFlags
	save := &cobra.Command{
		Use:     "save <id>",
		Short:   "Update a goal, e.g. the amount saved",
		Example: `  finkeeper goal save car --saved 1200`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := s.app.ledger.Get(ctx, models.KindGoals, args[0])
			if err != nil {
				return err
			}
			g := e.(*models.Goal)
			if err := sf.apply(cmd, s, g); err != nil {
				return err
			}
			if _, err := s.app.ledger.Update(ctx, g); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "updated goal %s\n", g.ID)
			return nil
		},
	}
	sf.bind(save)

	list := &cobra.Command{
		Use:   "list",
		Short: "List goals with progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := s.app.ledger.List(cmd.Context(), models.KindGoals, records.Filter{})
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			printf(w, "ID\tNAME\tSAVED\tTARGET\tPROGRESS\tDUE\n")
			for _, e := range items {
				g := e.(*models.Goal)
				progress := 0.0
				if g.TargetCents > 0 {
					progress = float64(g.SavedCents) * 100 / float64(g.TargetCents)
				}
				printf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n", g.ID, g.Name, models.FormatAmount(g.SavedCents),
					models.FormatAmount(g.TargetCents), progress, formatDate(g.DueAt))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, save, list, newDeleteCommand(s, models.KindGoals))
	return cmd
}
