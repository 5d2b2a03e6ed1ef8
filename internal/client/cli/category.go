package cli

import (
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/spf13/cobra"
)

func newCategoryCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"categories", "cat"},
		Short:   "Manage categories",
	}

	var c models.Category
	var catType string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.Type = models.CategoryKind(catType)
			e, err := s.app.ledger.Create(cmd.Context(), &c)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created category %s\n", e.Meta().ID)
			return nil
		},
	}
	add.Flags().StringVar(&c.ID, "id", "", "explicit id, e.g. food (default a new UUID)")
	add.Flags().StringVar(&c.Name, "name", "", "display name")
	add.Flags().StringVarP(&catType, "type", "t", string(models.CategoryExpense), "income or expense")
	add.Flags().StringVar(&c.Color, "color", "", "display color")
	add.Flags().StringVar(&c.ParentID, "parent", "", "parent category id")

	var deleted bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := s.app.ledger.List(cmd.Context(), models.KindCategories, records.Filter{IncludeDeleted: deleted})
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			printf(w, "ID\tNAME\tTYPE\tPARENT\n")
			for _, e := range items {
				c := e.(*models.Category)
				printf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Type, orDash(c.ParentID))
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&deleted, "deleted", false, "include deleted categories")

	cmd.AddCommand(add, list, newDeleteCommand(s, models.KindCategories))
	return cmd
}
